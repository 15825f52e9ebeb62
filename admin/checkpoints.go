package admin

import (
	"net/http"
	"strconv"
)

// handleCheckpoint returns the newest checkpoint and the sink cursors
func (h *Handlers) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, ok, err := h.checkpoints.Last()
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, "no checkpoint written yet")
		return
	}

	writeJSONResponse(w, map[string]interface{}{
		"checkpoint": cp,
		"cursors":    h.checkpoints.Cursors(),
	}, false, "")
}

// handleCheckpointRange pages through the checkpoint log
func (h *Handlers) handleCheckpointRange(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	from, err := parseFrom(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	// One extra entry tells whether another page exists
	cps, err := h.checkpoints.ReadFrom(from, limit+1)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	hasMore := len(cps) > limit
	if hasMore {
		cps = cps[:limit]
	}
	next := ""
	if hasMore {
		next = strconv.FormatUint(cps[len(cps)-1].Seq, 10)
	}
	writeJSONResponse(w, cps, hasMore, next)
}

// requireCheckpoints rejects requests when the checkpoint log is disabled
func (h *Handlers) requireCheckpoints(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.checkpoints == nil {
			writeErrorResponse(w, http.StatusNotFound, "checkpoint log is disabled")
			return
		}
		next.ServeHTTP(w, r)
	})
}
