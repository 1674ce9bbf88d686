package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/multichat/message"
	"github.com/onnwee/multichat/telemetry"
)

// DefaultConnectTimeout bounds one adapter's connect attempt.
const DefaultConnectTimeout = 30 * time.Second

// Status is the last known connection state of one adapter.
type Status struct {
	Platform  message.Platform `json:"platform"`
	Connected bool             `json:"connected"`
	LastError string           `json:"last_error,omitempty"`
	ErrorKind string           `json:"error_kind,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Supervisor owns one adapter per platform for the process lifetime and
// isolates their failures from each other.
type Supervisor struct {
	ConnectTimeout time.Duration

	adapters []Adapter
	byName   map[message.Platform]Adapter

	// refreshMu serializes Refresh calls so reconnects never interleave.
	refreshMu sync.Mutex

	mu     sync.RWMutex
	status map[message.Platform]Status
}

// NewSupervisor registers adapters in the given order.
func NewSupervisor(adapters ...Adapter) *Supervisor {
	s := &Supervisor{
		ConnectTimeout: DefaultConnectTimeout,
		byName:         make(map[message.Platform]Adapter, len(adapters)),
		status:         make(map[message.Platform]Status, len(adapters)),
	}
	for _, a := range adapters {
		s.adapters = append(s.adapters, a)
		s.byName[a.Platform()] = a
		s.status[a.Platform()] = Status{Platform: a.Platform()}
	}
	return s
}

// Adapter returns the adapter registered for p.
func (s *Supervisor) Adapter(p message.Platform) (Adapter, bool) {
	a, ok := s.byName[p]
	return a, ok
}

// ConnectAll connects every adapter concurrently. One adapter failing never
// prevents the others from being attempted; ConnectAll returns when all
// attempts have finished.
func (s *Supervisor) ConnectAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, a := range s.adapters {
		wg.Add(1)
		go func(a Adapter) {
			defer wg.Done()
			s.connect(ctx, a)
		}(a)
	}
	wg.Wait()
}

// credentialGated reports whether reconnecting p can pick up new credentials.
func credentialGated(p message.Platform) bool {
	return p == message.PlatformTwitch || p == message.PlatformYouTube
}

// Refresh reconnects the credential-gated adapters (Twitch, YouTube)
// sequentially. Individual failures are logged and recorded in Status; the
// returned error is only non-nil when ctx ended before the refresh finished.
func (s *Supervisor) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	log := telemetry.LoggerWithCorr(ctx)
	log.Info("supervisor: refreshing connections", slog.String("component", "supervisor"))
	for _, a := range s.adapters {
		if !credentialGated(a.Platform()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		a.Disconnect()
		s.connect(ctx, a)
	}
	return nil
}

// Shutdown disconnects every adapter.
func (s *Supervisor) Shutdown() {
	for _, a := range s.adapters {
		a.Disconnect()
		s.record(a.Platform(), false, nil)
	}
}

func (s *Supervisor) connect(ctx context.Context, a Adapter) {
	p := a.Platform()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("platform", string(p)), slog.String("component", "supervisor"))

	cctx := ctx
	if s.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, s.ConnectTimeout)
		defer cancel()
	}

	ok, err := s.safeConnect(cctx, a)
	s.record(p, ok, err)
	switch {
	case err == nil && ok:
		log.Info("adapter connected")
	case err == nil:
		log.Info("adapter not connected")
	case ClassifyError(err) == ErrorClassConfigMissing:
		log.Warn("adapter not configured", slog.Any("err", err))
	default:
		telemetry.IncConnectFailure(string(p))
		log.Error("adapter connect failed", slog.Any("err", err), slog.String("class", ClassifyError(err).String()))
	}
}

// safeConnect turns a panicking adapter into a connect failure.
func (s *Supervisor) safeConnect(ctx context.Context, a Adapter) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = errors.New("adapter panicked during connect")
			slog.Error("supervisor: adapter panic", slog.Any("panic", r), slog.String("platform", string(a.Platform())))
		}
	}()
	return a.Connect(ctx)
}

func (s *Supervisor) record(p message.Platform, ok bool, err error) {
	st := Status{Platform: p, Connected: ok, UpdatedAt: time.Now().UTC()}
	if err != nil {
		st.LastError = err.Error()
		st.ErrorKind = ClassifyError(err).String()
	}
	s.mu.Lock()
	s.status[p] = st
	s.mu.Unlock()
	telemetry.SetAdapterConnected(string(p), ok)
}

// Statuses returns one Status per adapter in registration order. Connected
// reflects the adapter's live state, which may have dropped since the last
// connect attempt.
func (s *Supervisor) Statuses() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Status, 0, len(s.adapters))
	for _, a := range s.adapters {
		st := s.status[a.Platform()]
		st.Connected = a.Connected()
		out = append(out, st)
	}
	return out
}
