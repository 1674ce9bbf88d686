package twitchapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestBuildAuthorizeURL(t *testing.T) {
	tests := []struct {
		name        string
		clientID    string
		redirectURI string
		scopes      string
		state       string
		wantErr     bool
		wantParts   []string
	}{
		{
			name:        "valid request",
			clientID:    "test-client-id",
			redirectURI: "http://localhost/callback",
			scopes:      "chat:read moderator:manage:banned_users",
			state:       "random-state",
			wantErr:     false,
			wantParts:   []string{"client_id=test-client-id", "state=random-state", "scope="},
		},
		{
			name:        "empty client ID",
			clientID:    "",
			redirectURI: "http://localhost/callback",
			scopes:      "chat:read",
			state:       "state",
			wantErr:     true,
		},
		{
			name:        "empty redirect URI",
			clientID:    "client",
			redirectURI: "",
			scopes:      "chat:read",
			state:       "state",
			wantErr:     true,
		},
		{
			name:        "with scopes",
			clientID:    "client-id",
			redirectURI: "http://localhost/callback",
			scopes:      "chat:read,chat:edit",
			state:       "state-123",
			wantErr:     false,
			wantParts:   []string{"client_id=client-id", "scope=chat%3Aread+chat%3Aedit"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, err := BuildAuthorizeURL(tt.clientID, tt.redirectURI, tt.scopes, tt.state)
			
			if tt.wantErr {
				if err == nil {
					t.Error("BuildAuthorizeURL() expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Errorf("BuildAuthorizeURL() unexpected error = %v", err)
				return
			}

			// Check URL contains expected parts
			for _, part := range tt.wantParts {
				if !strings.Contains(url, part) {
					t.Errorf("URL missing expected part %q: %s", part, url)
				}
			}

			// Should start with Twitch auth endpoint
			if !strings.HasPrefix(url, "https://id.twitch.tv/oauth2/authorize") {
				t.Errorf("URL doesn't start with Twitch auth endpoint: %s", url)
			}
		})
	}
}

func TestComputeExpiry(t *testing.T) {
	tests := []struct {
		name      string
		expiresIn int
		wantAfter time.Duration
	}{
		{
			name:      "4 hours",
			expiresIn: 14400,
			wantAfter: 4 * time.Hour,
		},
		{
			name:      "1 hour",
			expiresIn: 3600,
			wantAfter: 1 * time.Hour,
		},
		{
			name:      "zero defaults to 60 minutes",
			expiresIn: 0,
			wantAfter: 60 * time.Minute,
		},
		{
			name:      "negative defaults to 60 minutes",
			expiresIn: -100,
			wantAfter: 60 * time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := time.Now()
			expiry := ComputeExpiry(tt.expiresIn)
			after := time.Now()

			expectedExpiry := before.Add(tt.wantAfter)
			
			// Allow 2 second tolerance
			if expiry.Before(expectedExpiry.Add(-2*time.Second)) || expiry.After(after.Add(tt.wantAfter).Add(2*time.Second)) {
				t.Errorf("ComputeExpiry(%d) = %v, want approximately %v", tt.expiresIn, expiry, expectedExpiry)
			}
		})
	}
}

func TestExchangeAuthCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.URL.Path != "/oauth2/token" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Form.Get("grant_type") != "authorization_code" || r.Form.Get("code") != "the-code" {
			t.Errorf("form = %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"access-123","refresh_token":"refresh-456","expires_in":3600,"scope":["chat:read","chat:edit"],"token_type":"bearer"}`))
	}))
	defer server.Close()
	hc := &http.Client{Transport: &tokenTransport{host: server.URL}}

	res, err := ExchangeAuthCode(context.Background(), hc, "cid", "secret", "the-code", "http://localhost/cb")
	if err != nil {
		t.Fatalf("ExchangeAuthCode() error = %v", err)
	}
	if res.AccessToken != "access-123" || res.RefreshToken != "refresh-456" {
		t.Errorf("result = %+v", res)
	}
	if res.Scopes() != "chat:read chat:edit" {
		t.Errorf("Scopes() = %q", res.Scopes())
	}
	if time.Until(res.Expiry()) < 59*time.Minute {
		t.Errorf("Expiry() = %v", res.Expiry())
	}

	if _, err := ExchangeAuthCode(context.Background(), hc, "cid", "", "code", "uri"); err == nil {
		t.Error("ExchangeAuthCode() with missing secret should fail")
	}
}

func TestRefreshToken(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"success", http.StatusOK, `{"access_token":"new-access","refresh_token":"new-refresh","expires_in":14400}`, false},
		{"invalid refresh token", http.StatusBadRequest, `{"status":400,"message":"Invalid refresh token"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				r.ParseForm()
				if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "old" {
					t.Errorf("form = %v", r.Form)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()
			hc := &http.Client{Transport: &tokenTransport{host: server.URL}}

			res, err := RefreshToken(context.Background(), hc, "cid", "secret", "old")
			if tt.wantErr {
				var apiErr *APIError
				if !errors.As(err, &apiErr) || apiErr.StatusCode != tt.status {
					t.Fatalf("RefreshToken() error = %v, want APIError %d", err, tt.status)
				}
				return
			}
			if err != nil {
				t.Fatalf("RefreshToken() error = %v", err)
			}
			if res.AccessToken != "new-access" || res.RefreshToken != "new-refresh" {
				t.Errorf("result = %+v", res)
			}
		})
	}
}
