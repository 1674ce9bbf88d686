package server

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/onnwee/multichat/chat"
	"github.com/onnwee/multichat/message"
	"github.com/onnwee/multichat/telemetry"
	"github.com/onnwee/multichat/twitchapi"
)

// newOAuthState generates and registers a state value for an authorization redirect.
func (h *Handlers) newOAuthState(w http.ResponseWriter) (string, bool) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return "", false
	}
	st := hex.EncodeToString(b)
	if !h.addOAuthState(st, h.now().Add(oauthStateTTL)) {
		http.Error(w, "too many pending authorizations", http.StatusServiceUnavailable)
		return "", false
	}
	return st, true
}

// callbackParams validates code and state, consuming the state.
func (h *Handlers) callbackParams(w http.ResponseWriter, r *http.Request) (string, bool) {
	if e := r.URL.Query().Get("error"); e != "" {
		http.Error(w, "authorization denied: "+e, http.StatusBadRequest)
		return "", false
	}
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return "", false
	}
	if !h.consumeOAuthState(st) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return "", false
	}
	return code, true
}

// HandleTwitchOAuthStart initiates the Twitch OAuth flow by redirecting to Twitch.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	if !h.Config.TwitchOAuthConfigured() {
		http.Error(w, "oauth not configured (need TWITCH_CLIENT_ID + TWITCH_CLIENT_SECRET + TWITCH_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	st, ok := h.newOAuthState(w)
	if !ok {
		return
	}
	authURL, err := twitchapi.BuildAuthorizeURL(h.Config.TwitchClientID, h.Config.TwitchRedirectURI, h.Config.TwitchScopes, st)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleTwitchOAuthCallback exchanges the code, stores the token and
// reconnects the adapters in the background.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if !h.Config.TwitchOAuthConfigured() || h.Tokens == nil {
		http.Error(w, "oauth not configured", http.StatusBadRequest)
		return
	}
	code, ok := h.callbackParams(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	res, err := twitchapi.ExchangeAuthCode(ctx, h.HTTPClient, h.Config.TwitchClientID, h.Config.TwitchClientSecret, code, h.Config.TwitchRedirectURI)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Error("twitch code exchange failed", slog.Any("err", err))
		http.Error(w, "token exchange failed", http.StatusBadGateway)
		return
	}
	tok := chat.Token{
		Platform:     message.PlatformTwitch,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		Expiry:       res.Expiry(),
		Scope:        res.Scopes(),
	}
	if err := h.Tokens.SaveToken(ctx, tok); err != nil {
		telemetry.LoggerWithCorr(ctx).Error("store twitch token failed", slog.Any("err", err))
		http.Error(w, "failed to store token", http.StatusInternalServerError)
		return
	}
	h.refreshInBackground("twitch authorized")
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "scopes": res.Scope, "expires_in": res.ExpiresIn})
}

// HandleYouTubeOAuthStart initiates the YouTube OAuth flow.
func (h *Handlers) HandleYouTubeOAuthStart(w http.ResponseWriter, r *http.Request) {
	if !h.Config.YouTubeOAuthConfigured() || h.YouTube == nil {
		http.Error(w, "youtube oauth not configured", http.StatusBadRequest)
		return
	}
	st, ok := h.newOAuthState(w)
	if !ok {
		return
	}
	http.Redirect(w, r, h.YouTube.AuthCodeURL(st), http.StatusFound)
}

// HandleYouTubeOAuthCallback exchanges the code (the service persists the
// token) and reconnects the adapters in the background.
func (h *Handlers) HandleYouTubeOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if !h.Config.YouTubeOAuthConfigured() || h.YouTube == nil {
		http.Error(w, "youtube oauth not configured", http.StatusBadRequest)
		return
	}
	code, ok := h.callbackParams(w, r)
	if !ok {
		return
	}
	tok, err := h.YouTube.Exchange(r.Context(), code)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("youtube code exchange failed", slog.Any("err", err))
		http.Error(w, "token exchange failed", http.StatusBadGateway)
		return
	}
	h.refreshInBackground("youtube authorized")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                "ok",
		"expiry":                tok.Expiry,
		"access_token_present":  tok.AccessToken != "",
		"refresh_token_present": tok.RefreshToken != "",
	})
}

// HandleKickAuth explains that Kick needs no authorization: chat is read
// anonymously from the channel named by KICK_CHANNEL.
func (h *Handlers) HandleKickAuth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Kick chat is read anonymously; set KICK_CHANNEL to a channel slug or chatroom id",
		"configured": h.Config.KickChannel != "",
		"channel":    h.Config.KickChannel,
	})
}
