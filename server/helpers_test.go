package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/multichat/chat"
	"github.com/onnwee/multichat/config"
	"github.com/onnwee/multichat/hub"
	"github.com/onnwee/multichat/message"
)

// fakeAdapter is a chat.Adapter whose connect result is scripted.
type fakeAdapter struct {
	platform   message.Platform
	connectOK  bool
	connectErr error
	timeoutErr error

	connects  atomic.Int32
	connected atomic.Bool

	mu       sync.Mutex
	timeouts []string
}

func (f *fakeAdapter) Platform() message.Platform { return f.platform }

func (f *fakeAdapter) Connect(context.Context) (bool, error) {
	f.connects.Add(1)
	f.connected.Store(f.connectOK && f.connectErr == nil)
	return f.connectOK, f.connectErr
}

func (f *fakeAdapter) Disconnect()     { f.connected.Store(false) }
func (f *fakeAdapter) Connected() bool { return f.connected.Load() }

func (f *fakeAdapter) Timeout(_ context.Context, target string, _ time.Duration) (chat.Ack, error) {
	if f.timeoutErr != nil {
		return chat.Ack{}, f.timeoutErr
	}
	f.mu.Lock()
	f.timeouts = append(f.timeouts, target)
	f.mu.Unlock()
	return chat.Ack{Accepted: true, Enforced: false, Message: "not enforced"}, nil
}

// fakeModerator also enforces bans, deletes and clears.
type fakeModerator struct {
	fakeAdapter
	bans []string
}

func (f *fakeModerator) Ban(_ context.Context, target, _ string) (chat.Ack, error) {
	f.mu.Lock()
	f.bans = append(f.bans, target)
	f.mu.Unlock()
	return chat.Ack{Accepted: true, Enforced: true, Message: "banned " + target}, nil
}

func (f *fakeModerator) DeleteMessage(context.Context, string) (chat.Ack, error) {
	return chat.Ack{Accepted: true, Enforced: true, Message: "deleted"}, nil
}

func (f *fakeModerator) ClearChat(context.Context) (chat.Ack, error) {
	return chat.Ack{Accepted: true, Enforced: true, Message: "cleared"}, nil
}

type fakeHistory struct {
	msgs      []message.Message
	err       error
	lastLimit int
}

func (f *fakeHistory) RecentMessages(_ context.Context, limit int) ([]message.Message, error) {
	f.lastLimit = limit
	return f.msgs, f.err
}

type fakeTokens struct {
	mu    sync.Mutex
	saved []chat.Token
	err   error
}

func (f *fakeTokens) SaveToken(_ context.Context, t chat.Token) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.saved = append(f.saved, t)
	f.mu.Unlock()
	return nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

var errFake = errors.New("boom")

// quietEnv disables auth and rate limiting for tests that do not exercise them.
func quietEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")
	t.Setenv("ADMIN_TOKEN", "")
	t.Setenv("RATE_LIMIT_ENABLED", "0")
	t.Setenv("DEV_INJECT_RATE", "")
}

// newTestHub returns a hub closed at the end of the test.
func newTestHub(t *testing.T) *hub.Hub {
	t.Helper()
	h := hub.New(64)
	t.Cleanup(h.Close)
	return h
}

// newTestMux builds the full router over deps. The returned context is
// cancelled at cleanup, before any test server is closed.
func newTestMux(t *testing.T, deps Deps) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if deps.Config == nil {
		deps.Config = &config.Config{}
	}
	return NewMux(ctx, deps)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.10:40000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

// nextEvent reads one event from a hub subscription.
func nextEvent(t *testing.T, sub *hub.Subscription) hub.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return hub.Event{}
}
