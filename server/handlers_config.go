package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/multichat/db"
	"github.com/onnwee/multichat/telemetry"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// HandleSettingsGet returns {maxMessages, showPlatformIcons}.
func (h *Handlers) HandleSettingsGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET, POST")
		return
	}
	st, err := h.Settings.GetSettings(r.Context())
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("load settings failed", slog.Any("err", err))
		http.Error(w, "failed to load settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleSettingsUpdate replaces the settings. Omitted fields keep their current value.
func (h *Handlers) HandleSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cur, err := h.Settings.GetSettings(ctx)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Error("load settings failed", slog.Any("err", err))
		http.Error(w, "failed to load settings", http.StatusInternalServerError)
		return
	}
	var in struct {
		MaxMessages       *int  `json:"maxMessages"`
		ShowPlatformIcons *bool `json:"showPlatformIcons"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if in.MaxMessages != nil {
		cur.MaxMessages = *in.MaxMessages
	}
	if in.ShowPlatformIcons != nil {
		cur.ShowPlatformIcons = *in.ShowPlatformIcons
	}
	if err := h.Settings.SaveSettings(ctx, cur); err != nil {
		if errors.Is(err, db.ErrInvalidSettings) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		telemetry.LoggerWithCorr(ctx).Error("save settings failed", slog.Any("err", err))
		http.Error(w, "failed to save settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "settings": cur})
}

// HandleMessages returns the most recent stored messages, oldest first.
func (h *Handlers) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if h.History == nil {
		http.Error(w, "message history disabled", http.StatusNotFound)
		return
	}
	limit := parseIntQuery(r, "limit", defaultHistoryLimit)
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	msgs, err := h.History.RecentMessages(r.Context(), limit)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("load history failed", slog.Any("err", err))
		http.Error(w, "failed to load messages", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
