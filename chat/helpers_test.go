package chat

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/multichat/message"
)

// staticTokens is a TokenProvider backed by a map.
type staticTokens struct {
	mu     sync.Mutex
	tokens map[message.Platform]*Token
	err    error
}

func tokensFor(p message.Platform, access string) *staticTokens {
	return &staticTokens{tokens: map[message.Platform]*Token{p: {Platform: p, AccessToken: access}}}
}

func (s *staticTokens) GetToken(_ context.Context, p message.Platform) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.tokens[p], nil
}

// recorder is a Publisher that keeps everything it receives.
type recorder struct {
	mu   sync.Mutex
	msgs []message.Message
	got  chan struct{}
}

func newRecorder() *recorder { return &recorder{got: make(chan struct{}, 128)} }

func (r *recorder) Publish(m message.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
	select {
	case r.got <- struct{}{}:
	default:
	}
}

func (r *recorder) all() []message.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message.Message(nil), r.msgs...)
}

func (r *recorder) wait(t *testing.T, n int) []message.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if msgs := r.all(); len(msgs) >= n {
			return msgs
		}
		select {
		case <-r.got:
		case <-deadline:
			t.Fatalf("published %d messages, want %d", len(r.all()), n)
		}
	}
}

// rewriteTransport redirects requests for real API hosts to a test server.
type rewriteTransport struct {
	host string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = strings.TrimPrefix(t.host, "http://")
	return http.DefaultTransport.RoundTrip(req)
}
