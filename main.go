// Command multichat aggregates live chat from Twitch, YouTube and Kick into one
// stream for overlays. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations (tokens, settings, history).
//   - Connects every platform adapter through the supervisor; platforms without
//     credentials or a channel stay disconnected without affecting the others.
//   - Starts OAuth token refreshers for Twitch and YouTube that reconnect the
//     adapters after each refresh.
//   - Serves the websocket and SSE streams plus the control, OAuth, health,
//     status and metrics endpoints.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/multichat/chat"
	"github.com/onnwee/multichat/config"
	"github.com/onnwee/multichat/db"
	"github.com/onnwee/multichat/hub"
	"github.com/onnwee/multichat/kick"
	"github.com/onnwee/multichat/message"
	"github.com/onnwee/multichat/oauth"
	"github.com/onnwee/multichat/server"
	"github.com/onnwee/multichat/telemetry"
	"github.com/onnwee/multichat/twitchapi"
	"github.com/onnwee/multichat/youtubeapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Optional; requires OTEL_EXPORTER_OTLP_ENDPOINT
	shutdownTracing, err := telemetry.InitTracing("multichat", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	// DB
	database, err := db.Open(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err), slog.String("component", "db_migrate"))
		os.Exit(1)
	}

	sealer, err := db.SealerFromEnv()
	if err != nil {
		slog.Error("invalid token encryption key", slog.Any("err", err))
		os.Exit(1)
	}
	store := db.NewStore(database, sealer)

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broadcast := hub.New(cfg.HubSubscriberBuffer)
	httpClient := &http.Client{Timeout: 15 * time.Second}

	twitch := chat.NewTwitchAdapter(store, broadcast, cfg.TwitchClientID, httpClient)
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		twitch.AppTokens = &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret, HTTPClient: httpClient}
	}

	youtube := chat.NewYouTubeAdapter(store, broadcast, nil)
	youtube.FallbackDelay = cfg.YTFallbackDelay
	youtube.DefaultInterval = cfg.YTDefaultPollInterval

	resolver := &kick.Resolver{BaseURL: cfg.KickAPIBase, HTTPClient: httpClient}
	kickAdapter := chat.NewKickAdapter(cfg.KickChannel, cfg.KickPusherURL, resolver, broadcast)

	sup := chat.NewSupervisor(twitch, youtube, kickAdapter)
	sup.ConnectAll(ctx)

	// Refreshed tokens only reach a live connection through a reconnect.
	reconnect := func(rctx context.Context) {
		if err := sup.Refresh(rctx); err != nil {
			slog.Warn("reconnect after token refresh failed", slog.Any("err", err))
		}
	}

	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		(&oauth.Refresher{
			Platform: message.PlatformTwitch,
			Store:    store,
			Interval: cfg.TwitchRefreshInterval,
			Window:   cfg.TwitchRefreshWindow,
			Refresh: func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
				res, err := twitchapi.RefreshToken(rctx, httpClient, cfg.TwitchClientID, cfg.TwitchClientSecret, refreshToken)
				if err != nil {
					return "", "", time.Time{}, "", err
				}
				return res.AccessToken, res.RefreshToken, res.Expiry(), res.Scopes(), nil
			},
			OnRefreshed: reconnect,
		}).Start(ctx)
	}

	yt := youtubeapi.New(cfg, store)
	if cfg.YTClientID != "" {
		(&oauth.Refresher{
			Platform: message.PlatformYouTube,
			Store:    store,
			Interval: cfg.YTRefreshInterval,
			Window:   cfg.YTRefreshWindow,
			Refresh: func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
				tok, err := yt.Refresh(rctx, refreshToken)
				if err != nil {
					return "", "", time.Time{}, "", err
				}
				return tok.AccessToken, tok.RefreshToken, tok.Expiry, "", nil
			},
			OnRefreshed: reconnect,
		}).Start(ctx)
	}

	deps := server.Deps{
		Config:     cfg,
		Hub:        broadcast,
		Supervisor: sup,
		Settings:   store,
		Tokens:     store,
		YouTube:    yt,
		DB:         store,
		HTTPClient: httpClient,
	}
	if cfg.HistoryEnabled {
		go chat.NewHistoryRecorder(broadcast, store).Run(ctx)
		go db.StartRetentionJob(ctx, store, db.LoadRetentionPolicy())
		deps.History = store
	}
	if cfg.DevInjectEnabled {
		slog.Warn("developer injection path enabled at /admin/dev/inject; do not run this in production")
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		if err := server.Start(ctx, cfg.HTTPAddr, server.NewMux(ctx, deps)); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
	sup.Shutdown()
	<-serverDone
	broadcast.Close()
}
