package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/multichat/kick"
	"github.com/onnwee/multichat/message"
)

// pusherServer is a fake Pusher endpoint that records client frames.
type pusherServer struct {
	srv    *httptest.Server
	frames chan kick.Frame
	conns  chan *websocket.Conn
}

func newPusherServer(t *testing.T) *pusherServer {
	t.Helper()
	ps := &pusherServer{frames: make(chan kick.Frame, 16), conns: make(chan *websocket.Conn, 1)}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hello := `{"event":"pusher:connection_established","data":"{\"socket_id\":\"1.2\",\"activity_timeout\":120}"}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(hello)); err != nil {
			return
		}
		ps.conns <- conn
		for {
			var f kick.Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			ps.frames <- f
		}
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *pusherServer) url() string { return "ws" + strings.TrimPrefix(ps.srv.URL, "http") }

func (ps *pusherServer) next(t *testing.T) kick.Frame {
	t.Helper()
	select {
	case f := <-ps.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame from client")
	}
	return kick.Frame{}
}

func chatFrame(t *testing.T, channel string, ev map[string]any) []byte {
	t.Helper()
	inner, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	// Pusher wraps event data in a JSON string.
	data, _ := json.Marshal(string(inner))
	out, _ := json.Marshal(map[string]any{"event": kick.ChatMessageEvent, "channel": channel, "data": json.RawMessage(data)})
	return out
}

func TestKickConnect_MissingChannel(t *testing.T) {
	a := NewKickAdapter("", "ws://unused", nil, newRecorder())
	ok, err := a.Connect(context.Background())
	if ok || !errors.Is(err, ErrConfigMissing) {
		t.Fatalf("Connect() = %v, %v; want ErrConfigMissing", ok, err)
	}
	a.Disconnect()
	a.Disconnect()
}

func TestKickAdapter_SubscribesAndPublishes(t *testing.T) {
	ps := newPusherServer(t)
	rec := newRecorder()
	a := NewKickAdapter("668", ps.url(), nil, rec)
	a.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(a.Disconnect)

	ok, err := a.Connect(context.Background())
	if !ok || err != nil {
		t.Fatalf("Connect() = %v, %v", ok, err)
	}
	conn := <-ps.conns

	sub := ps.next(t)
	var subData struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(sub.Data, &subData); err != nil {
		t.Fatalf("decode subscribe: %v", err)
	}
	if sub.Event != "pusher:subscribe" || subData.Channel != "chatrooms.668.v2" {
		t.Fatalf("subscribe frame = %s %s", sub.Event, sub.Data)
	}

	frames := [][]byte{
		chatFrame(t, "chatrooms.668.v2", map[string]any{
			"id": "k1", "content": "gg", "type": "message",
			"sender": map[string]any{"username": "alice"},
		}),
		[]byte(`{"event":"App\\Events\\UserBannedEvent","channel":"chatrooms.668.v2","data":"{}"}`),
		chatFrame(t, "chatrooms.668.v2", map[string]any{
			"id": "k2", "content": "", "type": "gift",
			"sender": map[string]any{"username": "bob"},
		}),
	}
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, f); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	msgs := rec.wait(t, 2)
	if msgs[0].ID != "k1" || msgs[0].User != "alice" || msgs[0].Type != message.TypeChat {
		t.Errorf("first = %+v", msgs[0])
	}
	if msgs[1].ID != "k2" || msgs[1].Type != message.TypeGift {
		t.Errorf("second = %+v", msgs[1])
	}
	if msgs[0].Platform != message.PlatformKick {
		t.Errorf("platform = %q", msgs[0].Platform)
	}
}

func TestKickAdapter_DisconnectUnsubscribes(t *testing.T) {
	ps := newPusherServer(t)
	a := NewKickAdapter("668", ps.url(), nil, newRecorder())
	if ok, err := a.Connect(context.Background()); !ok || err != nil {
		t.Fatalf("Connect() = %v, %v", ok, err)
	}
	<-ps.conns
	ps.next(t) // subscribe

	a.Disconnect()
	f := ps.next(t)
	if f.Event != "pusher:unsubscribe" {
		t.Errorf("event = %q, want pusher:unsubscribe", f.Event)
	}
	if a.Connected() {
		t.Error("Connected() = true after Disconnect")
	}
	a.Disconnect()
}

func TestKickAdapter_DropMarksDisconnected(t *testing.T) {
	ps := newPusherServer(t)
	a := NewKickAdapter("668", ps.url(), nil, newRecorder())
	t.Cleanup(a.Disconnect)
	if ok, _ := a.Connect(context.Background()); !ok {
		t.Fatal("Connect() failed")
	}
	conn := <-ps.conns
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for a.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("adapter still connected after the socket dropped")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestKickTimeout_NotEnforced(t *testing.T) {
	a := NewKickAdapter("668", "", nil, newRecorder())
	ack, err := a.Timeout(context.Background(), "someone", time.Minute)
	if err != nil || !ack.Accepted || ack.Enforced {
		t.Fatalf("Timeout() = %+v, %v", ack, err)
	}
}
