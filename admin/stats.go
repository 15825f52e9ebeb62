package admin

import "net/http"

// handleProgress returns pipeline counters and queue depths
func (h *Handlers) handleProgress(w http.ResponseWriter, r *http.Request) {
	progress := h.pipeline.Progress()
	pending, queuedTasks, queuedResults := h.pipeline.QueueStats()

	response := map[string]interface{}{
		"progress":       progress,
		"in_flight":      h.pipeline.InFlight(),
		"pending_tasks":  pending,
		"queued_tasks":   queuedTasks,
		"queued_results": queuedResults,
	}
	if err := h.pipeline.Err(); err != nil {
		response["error"] = err.Error()
	}

	writeJSONResponse(w, response, false, "")
}

// handleFiles returns the log file index and the write position
func (h *Handlers) handleFiles(w http.ResponseWriter, r *http.Request) {
	pos := h.files.Position()
	response := map[string]interface{}{
		"files": h.files.Files(),
		"position": map[string]interface{}{
			"file": pos.Name,
			"pos":  pos.Pos,
		},
	}
	writeJSONResponse(w, response, false, "")
}

// handleHealth reports 503 once the writer stopped on a fatal error
func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.Err(); err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSONResponse(w, map[string]string{"status": "ok"}, false, "")
}
