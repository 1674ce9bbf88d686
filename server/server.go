// Package server exposes the HTTP surface of the aggregator: the websocket and
// SSE subscriber transports, the overlay settings and history API, the
// moderation and reconnect controls, OAuth flows, the gated developer
// injection path, and health, status and metrics endpoints.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMux returns the HTTP handler with all routes.
// The provided context bounds the rate limiter cleanup goroutines and any
// reconnects triggered from a request.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	authCfg := loadAuthConfig()
	controlLimiter := newIPRateLimiter(ctx, loadRateLimiterConfig())
	injectLimiter := newIPRateLimiter(ctx, loadInjectRateLimiterConfig())
	corsCfg := loadCORSConfig()

	h := NewHandlers(ctx, deps)

	// control wraps endpoints that change state with auth, then rate limiting.
	control := func(fn http.HandlerFunc) http.Handler {
		return adminAuth(rateLimitMiddleware(fn, controlLimiter), authCfg)
	}

	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	// Subscriber transports (read-only)
	mux.HandleFunc("/ws", h.HandleWebSocket)
	mux.HandleFunc("/events", h.HandleSSE)

	// Overlay API
	mux.HandleFunc("/api/settings", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			control(h.HandleSettingsUpdate).ServeHTTP(w, r)
			return
		}
		h.HandleSettingsGet(w, r)
	})
	mux.HandleFunc("/api/messages", h.HandleMessages)
	mux.Handle("/api/refresh-connections", control(h.HandleRefreshConnections))
	mux.Handle("/api/moderate", control(h.HandleModerate))

	// OAuth
	mux.HandleFunc("/auth/twitch/start", h.HandleTwitchOAuthStart)
	mux.HandleFunc("/auth/twitch/callback", h.HandleTwitchOAuthCallback)
	mux.HandleFunc("/auth/youtube/start", h.HandleYouTubeOAuthStart)
	mux.HandleFunc("/auth/youtube/callback", h.HandleYouTubeOAuthCallback)
	mux.HandleFunc("/auth/kick", h.HandleKickAuth)

	// Developer injection: unreachable unless enabled.
	mux.HandleFunc("/admin/dev/inject", func(w http.ResponseWriter, r *http.Request) {
		if !h.devInjectEnabled() {
			http.NotFound(w, r)
			return
		}
		adminAuth(rateLimitMiddleware(http.HandlerFunc(h.HandleDevInject), injectLimiter), authCfg).ServeHTTP(w, r)
	})

	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/readyz", h.HandleReadyz)
	mux.HandleFunc("/status", h.HandleStatus)

	return withCORSConfig(withRequestContext(mux), corsCfg)
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 5 * time.Second,
		// No WriteTimeout: /ws and /events are long-lived streams.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
