// Package kick talks to Kick's public chat infrastructure: a Pusher-protocol
// websocket for live chat events and the channel API for slug resolution.
package kick

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultPusherURL is the public Pusher endpoint used by kick.com.
const DefaultPusherURL = "wss://ws-us2.pusher.com/app/eb1d5f283081a78b932c?protocol=7&client=js&version=8.4.0&flash=false"

// ChatMessageEvent is the Pusher event name carrying chat messages.
const ChatMessageEvent = `App\Events\ChatMessageEvent`

const (
	eventConnectionEstablished = "pusher:connection_established"
	eventSubscribe             = "pusher:subscribe"
	eventUnsubscribe           = "pusher:unsubscribe"
	eventPing                  = "pusher:ping"
	eventPong                  = "pusher:pong"
	eventError                 = "pusher:error"
	eventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"

	defaultActivityTimeout = 120 * time.Second
	writeWait              = 10 * time.Second
)

// ChatroomChannel returns the Pusher channel name for a chatroom id.
func ChatroomChannel(chatroomID int64) string {
	return fmt.Sprintf("chatrooms.%d.v2", chatroomID)
}

// Frame is one Pusher protocol message.
type Frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// DecodeData unmarshals the frame payload into v. Pusher encodes event data as
// a JSON string holding JSON, so both forms are accepted.
func (f Frame) DecodeData(v any) error {
	if len(f.Data) == 0 {
		return errors.New("empty frame data")
	}
	if f.Data[0] == '"' {
		var s string
		if err := json.Unmarshal(f.Data, &s); err != nil {
			return fmt.Errorf("decode data string: %w", err)
		}
		return json.Unmarshal([]byte(s), v)
	}
	return json.Unmarshal(f.Data, v)
}

// Client is a minimal Pusher websocket client. Application events for all
// subscribed channels are delivered on Events in arrival order.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	events    chan Frame
	done      chan struct{}
	closeOnce sync.Once
	socketID  string
	activity  time.Duration
}

// Dial connects to a Pusher endpoint and waits for the connection handshake.
func Dial(ctx context.Context, url string) (*Client, error) {
	if url == "" {
		url = DefaultPusherURL
	}
	hdr := http.Header{}
	hdr.Set("Origin", "https://kick.com")
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, hdr)
	if err != nil {
		return nil, fmt.Errorf("pusher dial: %w", err)
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	}
	var hello Frame
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pusher handshake: %w", err)
	}
	if hello.Event != eventConnectionEstablished {
		conn.Close()
		return nil, fmt.Errorf("pusher handshake: unexpected event %q", hello.Event)
	}
	_ = conn.SetReadDeadline(time.Time{})

	var est struct {
		SocketID        string `json:"socket_id"`
		ActivityTimeout int    `json:"activity_timeout"`
	}
	_ = hello.DecodeData(&est)

	c := &Client{
		conn:     conn,
		events:   make(chan Frame, 64),
		done:     make(chan struct{}),
		socketID: est.SocketID,
		activity: defaultActivityTimeout,
	}
	if est.ActivityTimeout > 0 {
		c.activity = time.Duration(est.ActivityTimeout) * time.Second
	}
	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// SocketID returns the id assigned by the server during the handshake.
func (c *Client) SocketID() string { return c.socketID }

// Events returns application events. The channel is closed when the connection ends.
func (c *Client) Events() <-chan Frame { return c.events }

// Done is closed when the client is closed or the connection drops.
func (c *Client) Done() <-chan struct{} { return c.done }

// Subscribe joins a public channel.
func (c *Client) Subscribe(channel string) error {
	return c.send(eventSubscribe, map[string]string{"auth": "", "channel": channel})
}

// Unsubscribe leaves a channel.
func (c *Client) Unsubscribe(channel string) error {
	return c.send(eventUnsubscribe, map[string]string{"channel": channel})
}

// Close shuts the connection down. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) send(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(Frame{Event: event, Data: raw})
}

func (c *Client) readLoop() {
	defer close(c.events)
	defer c.Close()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				slog.Warn("kick: pusher read failed", slog.Any("err", err))
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			slog.Debug("kick: skip malformed frame", slog.Any("err", err))
			continue
		}
		switch f.Event {
		case eventPing:
			if err := c.send(eventPong, struct{}{}); err != nil {
				slog.Debug("kick: pong failed", slog.Any("err", err))
			}
		case eventPong:
		case eventSubscriptionSucceeded:
			slog.Debug("kick: subscribed", slog.String("channel", f.Channel))
		case eventError:
			slog.Warn("kick: pusher error", slog.String("data", string(f.Data)))
		default:
			select {
			case c.events <- f:
			case <-c.done:
				return
			}
		}
	}
}

func (c *Client) pingLoop() {
	t := time.NewTicker(c.activity)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			if err := c.send(eventPing, struct{}{}); err != nil {
				return
			}
		}
	}
}
