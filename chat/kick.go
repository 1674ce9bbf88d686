package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/multichat/kick"
	"github.com/onnwee/multichat/message"
	"github.com/onnwee/multichat/normalize"
	"github.com/onnwee/multichat/telemetry"
)

// ChatroomResolver maps the configured channel to a chatroom id.
type ChatroomResolver interface {
	ChatroomID(ctx context.Context, channel string) (int64, error)
}

// KickAdapter subscribes to a channel's chatroom on Kick's Pusher socket.
// It needs no credentials and does not resubscribe after a drop.
type KickAdapter struct {
	channel   string
	pusherURL string
	resolver  ChatroomResolver
	pub       Publisher
	now       func() time.Time

	mu        sync.Mutex
	client    *kick.Client
	topic     string
	loopDone  chan struct{}
	connected atomic.Bool
}

// NewKickAdapter builds the Kick adapter. An empty pusherURL uses Kick's public cluster.
func NewKickAdapter(channel, pusherURL string, resolver ChatroomResolver, pub Publisher) *KickAdapter {
	if resolver == nil {
		resolver = &kick.Resolver{}
	}
	return &KickAdapter{
		channel:   channel,
		pusherURL: pusherURL,
		resolver:  resolver,
		pub:       pub,
		now:       time.Now,
	}
}

func (a *KickAdapter) Platform() message.Platform { return message.PlatformKick }

func (a *KickAdapter) Connected() bool { return a.connected.Load() }

// Connect resolves the chatroom, dials Pusher and subscribes to the chat topic.
// A missing channel returns ErrConfigMissing.
func (a *KickAdapter) Connect(ctx context.Context) (ok bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "kick.connect", attribute.String("platform", "kick"))
	defer func() { telemetry.EndSpan(span, err) }()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return true, nil
	}
	if a.channel == "" {
		slog.Warn("kick: KICK_CHANNEL not set; cannot connect", slog.String("component", "kick"))
		return false, fmt.Errorf("kick: %w: KICK_CHANNEL", ErrConfigMissing)
	}

	roomID, err := a.resolver.ChatroomID(ctx, a.channel)
	if err != nil {
		return false, fmt.Errorf("kick chatroom: %w", err)
	}
	c, err := kick.Dial(ctx, a.pusherURL)
	if err != nil {
		return false, err
	}
	topic := kick.ChatroomChannel(roomID)
	if err := c.Subscribe(topic); err != nil {
		_ = c.Close()
		return false, fmt.Errorf("kick subscribe %s: %w", topic, err)
	}

	done := make(chan struct{})
	a.client = c
	a.topic = topic
	a.loopDone = done
	a.connected.Store(true)
	go a.readLoop(c, done)
	slog.Info("kick: subscribed", slog.String("topic", topic), slog.String("socket_id", c.SocketID()), slog.String("component", "kick"))
	return true, nil
}

func (a *KickAdapter) readLoop(c *kick.Client, done chan struct{}) {
	defer close(done)
	for f := range c.Events() {
		if f.Event != kick.ChatMessageEvent {
			continue
		}
		var ev normalize.KickChatEvent
		if err := f.DecodeData(&ev); err != nil {
			slog.Debug("kick: skip undecodable chat event", slog.Any("err", err))
			continue
		}
		publish(a.pub, normalize.Kick(ev, a.now()))
	}

	a.mu.Lock()
	if a.client == c {
		a.client = nil
		a.connected.Store(false)
		slog.Warn("kick: pusher connection ended", slog.String("component", "kick"))
	}
	a.mu.Unlock()
}

// Disconnect unsubscribes and closes the socket. Safe to call when never connected.
func (a *KickAdapter) Disconnect() {
	a.mu.Lock()
	c, topic, done := a.client, a.topic, a.loopDone
	a.client = nil
	a.connected.Store(false)
	a.mu.Unlock()
	if c == nil {
		return
	}
	if err := c.Unsubscribe(topic); err != nil {
		slog.Debug("kick: unsubscribe", slog.Any("err", err))
	}
	_ = c.Close()
	<-done
	slog.Info("kick: disconnected", slog.String("component", "kick"))
}

// Timeout is acknowledged but not enforced: Kick has no public moderation API.
func (a *KickAdapter) Timeout(_ context.Context, target string, d time.Duration) (Ack, error) {
	slog.Info("kick: timeout not enforced", slog.String("target", target), slog.Duration("duration", d))
	return notEnforced(message.PlatformKick, "timeout"), nil
}
