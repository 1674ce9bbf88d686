package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/onnwee/multichat/chat"
	"github.com/onnwee/multichat/message"
	"github.com/onnwee/multichat/telemetry"
)

// maxInjectBatch caps the number of messages accepted by one inject request.
const maxInjectBatch = 500

// HandleDevInject publishes already-normalized messages straight to the hub,
// bypassing adapters. The route only exists when DEV_INJECT_ENABLED=1 and is
// meant for load and soak testing. The body is one message or an array.
// Platform and type must be in their closed sets; id and timestamp are
// generated when absent. Everything else is published verbatim.
func (h *Handlers) HandleDevInject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	msgs, err := decodeInjected(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	now := h.now()
	out := make([]message.Message, 0, len(msgs))
	for i, m := range msgs {
		if err := m.Validate(); err != nil {
			http.Error(w, fmt.Sprintf("message %d: %v", i, err), http.StatusBadRequest)
			return
		}
		out = append(out, m.WithDefaults(now))
	}
	for _, m := range out {
		h.Hub.Publish(m)
	}
	telemetry.LoggerWithCorr(r.Context()).Debug("dev inject", slog.Int("count", len(out)), slog.String("component", "dev_inject"))

	ids := make([]string, len(out))
	for i, m := range out {
		ids[i] = m.ID
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": len(out), "ids": ids})
}

func decodeInjected(body []byte) ([]message.Message, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	var msgs []message.Message
	if body[0] == '[' {
		if err := json.Unmarshal(body, &msgs); err != nil {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
	} else {
		var m message.Message
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
		msgs = []message.Message{m}
	}
	if len(msgs) == 0 {
		return nil, errors.New("no messages")
	}
	if len(msgs) > maxInjectBatch {
		return nil, fmt.Errorf("too many messages: %d > %d", len(msgs), maxInjectBatch)
	}
	return msgs, nil
}

// HandleRefreshConnections reconnects the credential-gated adapters
// (Twitch and YouTube) and reports the resulting states.
func (h *Handlers) HandleRefreshConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		methodNotAllowed(w, "GET, POST")
		return
	}
	if h.refresh == nil {
		http.Error(w, "supervisor not configured", http.StatusServiceUnavailable)
		return
	}
	if err := h.refresh(r.Context()); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("refresh connections failed", slog.Any("err", err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "message": err.Error()})
		return
	}
	resp := map[string]any{"success": true, "message": "Connections refreshed"}
	if h.Supervisor != nil {
		resp["platforms"] = h.Supervisor.Statuses()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleModerate executes {platform, action, payload}. The response carries
// "enforced": a successful response for a platform without a moderation API
// has success=true and enforced=false.
func (h *Handlers) HandleModerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if h.Moderation == nil {
		http.Error(w, "moderation not configured", http.StatusServiceUnavailable)
		return
	}
	var cmd chat.Command
	if err := decodeJSON(w, r, &cmd); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	ack, err := h.Moderation.Dispatch(r.Context(), cmd)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, chat.ErrUnsupportedAction) || errors.Is(err, chat.ErrInvalidCommand) {
			status = http.StatusBadRequest
		}
		telemetry.LoggerWithCorr(r.Context()).Warn("moderation failed",
			slog.String("platform", cmd.Platform), slog.String("action", cmd.Action), slog.Any("err", err))
		writeJSON(w, status, map[string]any{"success": false, "enforced": false, "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": ack.Accepted, "enforced": ack.Enforced, "message": ack.Message})
}
