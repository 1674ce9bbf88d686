package server

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/multichat/hub"
	"github.com/onnwee/multichat/telemetry"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	// Clients never send data; only control frames are expected.
	wsReadLimit = 512

	sseKeepAlive = 25 * time.Second
)

// Overlays are served from arbitrary origins (OBS browser sources, local
// files), and the stream is read-only, so any origin may subscribe.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// HandleWebSocket streams hub events as JSON text frames:
// {"event":"chat_message","data":{...}} or {"event":"clear_chat"}.
// Anything the client sends is discarded.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied.
		telemetry.LoggerWithCorr(r.Context()).Debug("websocket upgrade failed", slog.Any("err", err))
		return
	}
	defer conn.Close()

	sub := h.Hub.Subscribe()
	defer h.Hub.Unsubscribe(sub)
	log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "ws"), slog.Uint64("subscriber", sub.ID()))
	log.Debug("subscriber connected", slog.String("remote_addr", r.RemoteAddr))

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadLimit(wsReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	closeWith := func(code int, text string) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(wsWriteWait))
	}

	for {
		select {
		case <-readDone:
			log.Debug("subscriber disconnected")
			return
		case <-h.ctx.Done():
			closeWith(websocket.CloseGoingAway, "server shutting down")
			return
		case ev, ok := <-sub.Events():
			if !ok {
				log.Warn("subscriber dropped")
				closeWith(websocket.CloseTryAgainLater, "subscriber too slow")
				return
			}
			b, err := ev.Encode()
			if err != nil {
				log.Warn("encode event failed", slog.Any("err", err))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// HandleSSE streams hub events as Server-Sent Events. The event name is the
// hub event; data is the message JSON ({} for clear_chat).
func (h *Handlers) HandleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.Hub.Subscribe()
	defer h.Hub.Unsubscribe(sub)

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	ctx := r.Context()
	var buf bytes.Buffer
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				_, _ = fmt.Fprint(w, "event: error\ndata: {\"error\":\"subscriber too slow\"}\n\n")
				flusher.Flush()
				return
			}
			buf.Reset()
			if err := writeSSEEvent(&buf, ev); err != nil {
				slog.Warn("encode event failed", slog.Any("err", err))
				continue
			}
			if _, err := w.Write(buf.Bytes()); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEEvent(buf *bytes.Buffer, ev hub.Event) error {
	data := []byte("{}")
	if ev.Data != nil {
		b, err := ev.Data.MarshalJSON()
		if err != nil {
			return err
		}
		data = b
	}
	fmt.Fprintf(buf, "event: %s\ndata: %s\n\n", ev.Name, data)
	return nil
}
