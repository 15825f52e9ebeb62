package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/maxpert/binlogd/telemetry"
)

// NewRouter builds the admin API. /metrics and /health stay open; the
// remaining routes require the token when one is set.
func NewRouter(h *Handlers, token string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", h.handleHealth)
	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		r.Handle("/metrics", metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(token))

		r.Get("/progress", h.handleProgress)
		r.Get("/files", h.handleFiles)

		r.With(h.requireCheckpoints).Get("/checkpoint", h.handleCheckpoint)
		r.With(h.requireCheckpoints).Get("/checkpoints", h.handleCheckpointRange)

		r.Mount("/debug", middleware.Profiler())
	})

	return r
}
