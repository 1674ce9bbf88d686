// Package testutil holds shared fixtures: a migrated test database and fake
// Twitch endpoints.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

// MockTwitchServer fakes id.twitch.tv and api.twitch.tv on one test server.
// Handlers are keyed by path; requests are recorded as "METHOD /path?query".
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu       sync.Mutex
	requests []string
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requests = append(m.requests, r.Method+" "+r.URL.RequestURI())
		handler, ok := m.Handlers[r.URL.Path]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Requests returns every request seen so far.
func (m *MockTwitchServer) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.requests...)
}

// HTTPClient returns a client that sends every request to the mock,
// whatever host the caller addressed.
func (m *MockTwitchServer) HTTPClient() *http.Client {
	target, _ := url.Parse(m.URL)
	return &http.Client{Transport: redirectTransport{target: target}}
}

type redirectTransport struct{ target *url.URL }

func (rt redirectTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.URL.Scheme = rt.target.Scheme
	r.URL.Host = rt.target.Host
	r.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(r)
}

func (m *MockTwitchServer) handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	m.Handlers[path] = h
	m.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockValidate answers /oauth2/validate for any token with the given identity.
func (m *MockTwitchServer) MockValidate(login, userID string) {
	m.handle("/oauth2/validate", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"client_id": "cid", "login": login, "user_id": userID, "scopes": []string{"chat:read"}, "expires_in": 3600})
	})
}

// MockUserResponse adds a handler for /helix/users endpoint
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.handle("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"data": []map[string]string{
				{"id": userID, "login": login},
			},
		})
	})
}

// MockOAuthTokenResponse answers the token endpoint for both the
// authorization_code and refresh_token grants.
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken, refreshToken string, expiresIn int) {
	m.handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"expires_in":    expiresIn,
			"scope":         []string{"chat:read", "chat:edit"},
			"token_type":    "bearer",
		})
	})
}

// MockModeration accepts bans and chat deletes with the status codes Helix uses.
func (m *MockTwitchServer) MockModeration() {
	m.handle("/helix/moderation/bans", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": []map[string]any{{"user_id": "42"}}})
	})
	m.handle("/helix/moderation/chat", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}
