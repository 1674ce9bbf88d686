package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/multichat/hub"
	"github.com/onnwee/multichat/message"
)

// HistoryStore persists delivered messages.
type HistoryStore interface {
	InsertMessage(ctx context.Context, m message.Message) error
}

// HistoryRecorder is a hub subscriber that writes every chat message to a store.
// System messages (the per-subscriber welcome) are not recorded.
type HistoryRecorder struct {
	hub   *hub.Hub
	store HistoryStore
	// WriteTimeout bounds a single insert.
	WriteTimeout time.Duration
}

func NewHistoryRecorder(h *hub.Hub, store HistoryStore) *HistoryRecorder {
	return &HistoryRecorder{hub: h, store: store, WriteTimeout: 5 * time.Second}
}

// Run records until ctx is done. If the hub evicts the recorder because the
// store fell behind, it subscribes again; messages in between are lost.
func (r *HistoryRecorder) Run(ctx context.Context) {
	for ctx.Err() == nil {
		sub := r.hub.Subscribe()
		r.drain(ctx, sub)
		r.hub.Unsubscribe(sub)
		if ctx.Err() == nil {
			slog.Warn("history: subscription dropped; resubscribing", slog.String("component", "history"))
		}
	}
}

func (r *HistoryRecorder) drain(ctx context.Context, sub *hub.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.Name != hub.EventChatMessage || ev.Data == nil || ev.Data.Type == message.TypeSystem {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, r.WriteTimeout)
			if err := r.store.InsertMessage(wctx, *ev.Data); err != nil {
				slog.Warn("history: insert failed", slog.Any("err", err), slog.String("id", ev.Data.ID))
			}
			cancel()
		}
	}
}
