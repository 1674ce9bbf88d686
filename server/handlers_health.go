package server

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HandleHealthz is the liveness probe. It only proves the process serves HTTP.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with dependency checks.
// Adapter state is not a readiness condition: a platform without credentials
// is a normal, degraded-but-serving state.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"server", func(context.Context) error {
			if err := h.ctx.Err(); err != nil {
				return fmt.Errorf("shutting down: %w", err)
			}
			return nil
		}},
		{"database", func(ctx context.Context) error {
			if h.DB == nil {
				return nil
			}
			return h.DB.Ping(ctx)
		}},
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, check := range checks {
		if err := check.fn(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleStatus reports per-platform adapter state and the subscriber count.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"subscribers":        h.Hub.Count(),
		"dev_inject_enabled": h.devInjectEnabled(),
	}
	if h.Supervisor != nil {
		resp["platforms"] = h.Supervisor.Statuses()
	}
	writeJSON(w, http.StatusOK, resp)
}
