// Package twitchapi contains minimal helpers for the Twitch identity and Helix
// APIs: token validation, user lookup and chat moderation.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// HelixBaseURL is the root of the Helix REST API.
const HelixBaseURL = "https://api.twitch.tv/helix"

// MaxTimeout is the longest timeout Helix accepts (two weeks).
const MaxTimeout = 1209600 * time.Second

// AccessTokenSource yields a bearer token for Helix requests.
type AccessTokenSource interface {
	Get(ctx context.Context) (string, error)
}

// StaticToken is an AccessTokenSource for a token already in hand.
type StaticToken string

// Get returns the token itself.
func (s StaticToken) Get(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("empty access token")
	}
	return string(s), nil
}

// APIError is a non-2xx response from a Twitch endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitch api: status %d: %s", e.StatusCode, e.Body)
}

// HelixClient calls Helix on behalf of the authenticated bot account.
// Moderation endpoints require a user token; AppTokens, when set, is used for
// lookups that only need an app token.
type HelixClient struct {
	ClientID   string
	UserTokens AccessTokenSource
	AppTokens  AccessTokenSource
	HTTPClient *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) do(ctx context.Context, tokens AccessTokenSource, method, path string, q url.Values, body any, out any) error {
	if tokens == nil {
		return errors.New("no token source configured")
	}
	tok, err := tokens.Get(ctx)
	if err != nil {
		return err
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	u := HelixBaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	tokens := hc.AppTokens
	if tokens == nil {
		tokens = hc.UserTokens
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.do(ctx, tokens, http.MethodGet, "/users", url.Values{"login": {login}}, nil, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found")
	}
	return body.Data[0].ID, nil
}

// BanUser bans userID in the broadcaster's chat. A positive duration issues a
// timeout instead of a permanent ban; it is clamped to MaxTimeout.
func (hc *HelixClient) BanUser(ctx context.Context, broadcasterID, moderatorID, userID string, duration time.Duration, reason string) error {
	if broadcasterID == "" || moderatorID == "" || userID == "" {
		return fmt.Errorf("broadcasterID, moderatorID and userID are required")
	}
	data := map[string]any{"user_id": userID}
	if duration > 0 {
		if duration > MaxTimeout {
			duration = MaxTimeout
		}
		secs := int(duration / time.Second)
		if secs < 1 {
			secs = 1
		}
		data["duration"] = secs
	}
	if reason != "" {
		data["reason"] = reason
	}
	q := url.Values{"broadcaster_id": {broadcasterID}, "moderator_id": {moderatorID}}
	return hc.do(ctx, hc.UserTokens, http.MethodPost, "/moderation/bans", q, map[string]any{"data": data}, nil)
}

// DeleteChatMessages removes one message, or every message when messageID is empty.
func (hc *HelixClient) DeleteChatMessages(ctx context.Context, broadcasterID, moderatorID, messageID string) error {
	if broadcasterID == "" || moderatorID == "" {
		return fmt.Errorf("broadcasterID and moderatorID are required")
	}
	q := url.Values{"broadcaster_id": {broadcasterID}, "moderator_id": {moderatorID}}
	if messageID != "" {
		q.Set("message_id", messageID)
	}
	return hc.do(ctx, hc.UserTokens, http.MethodDelete, "/moderation/chat", q, nil, nil)
}
