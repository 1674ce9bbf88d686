// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/onnwee/multichat/chat"
	"github.com/onnwee/multichat/config"
	"github.com/onnwee/multichat/db"
	"github.com/onnwee/multichat/hub"
	"github.com/onnwee/multichat/message"
	"github.com/onnwee/multichat/youtubeapi"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
	oauthStateTTL  = 10 * time.Minute
	refreshTimeout = 2 * time.Minute
)

// SettingsStore persists overlay settings.
type SettingsStore interface {
	GetSettings(ctx context.Context) (db.Settings, error)
	SaveSettings(ctx context.Context, s db.Settings) error
}

// HistoryReader returns recently delivered messages.
type HistoryReader interface {
	RecentMessages(ctx context.Context, limit int) ([]message.Message, error)
}

// TokenSaver persists tokens issued by an authorization flow.
type TokenSaver interface {
	SaveToken(ctx context.Context, t chat.Token) error
}

// Pinger checks a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the handlers call into. Hub and Supervisor are
// required; a nil History disables /api/messages and a nil Settings keeps
// settings in memory.
type Deps struct {
	Config     *config.Config
	Hub        *hub.Hub
	Supervisor *chat.Supervisor
	Moderation *chat.Dispatcher
	Settings   SettingsStore
	History    HistoryReader
	Tokens     TokenSaver
	YouTube    *youtubeapi.Service
	DB         Pinger
	// HTTPClient is used for the Twitch token exchange.
	HTTPClient *http.Client
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	Deps
	ctx        context.Context
	stateStore map[string]time.Time
	stateMu    sync.RWMutex

	// refresh reconnects credential-gated adapters; swapped in tests.
	refresh func(ctx context.Context) error
	now     func() time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, deps Deps) *Handlers {
	if deps.Config == nil {
		deps.Config = &config.Config{}
	}
	if deps.Settings == nil {
		deps.Settings = &memorySettings{s: db.DefaultSettings()}
	}
	if deps.Moderation == nil && deps.Supervisor != nil {
		deps.Moderation = chat.NewDispatcher(deps.Supervisor, deps.Hub)
	}
	h := &Handlers{
		Deps:       deps,
		ctx:        ctx,
		stateStore: make(map[string]time.Time),
		now:        time.Now,
	}
	if deps.Supervisor != nil {
		h.refresh = deps.Supervisor.Refresh
	}
	return h
}

func (h *Handlers) devInjectEnabled() bool { return h.Config.DevInjectEnabled }

// refreshInBackground reconnects adapters after new credentials were stored.
// It is detached from the request so the redirect returns immediately.
func (h *Handlers) refreshInBackground(reason string) {
	if h.refresh == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(h.ctx, refreshTimeout)
		defer cancel()
		if err := h.refresh(ctx); err != nil {
			slog.Warn("connection refresh failed", slog.String("reason", reason), slog.Any("err", err))
		}
	}()
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := h.now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState adds a new OAuth state to the store with cleanup if needed.
// It reports false when the store is full.
func (h *Handlers) addOAuthState(state string, expiry time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}
	h.stateStore[state] = expiry
	return true
}

// consumeOAuthState removes state and reports whether it was known and unexpired.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	delete(h.stateStore, state)
	return ok && !h.now().After(exp)
}

// memorySettings serves settings when no database is configured.
type memorySettings struct {
	mu sync.Mutex
	s  db.Settings
}

func (m *memorySettings) GetSettings(context.Context) (db.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s, nil
}

func (m *memorySettings) SaveSettings(_ context.Context, s db.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.s = s
	m.mu.Unlock()
	return nil
}
