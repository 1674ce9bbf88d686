package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/multichat/message"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(c string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.calls = append(l.calls, c)
	l.mu.Unlock()
}

func (l *callLog) reset() {
	l.mu.Lock()
	l.calls = nil
	l.mu.Unlock()
}

func (l *callLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fmt.Sprint(l.calls)
}

// fakeAdapter scripts connect outcomes and records lifecycle calls.
type fakeAdapter struct {
	platform message.Platform

	mu          sync.Mutex
	results     []error // consumed per Connect; nil means success
	notReady    bool
	panics      bool
	delay       time.Duration
	connects    int
	disconnects int
	calls       *callLog
	connected   atomic.Bool
}

func (f *fakeAdapter) Platform() message.Platform { return f.platform }
func (f *fakeAdapter) Connected() bool            { return f.connected.Load() }

func (f *fakeAdapter) Connect(ctx context.Context) (bool, error) {
	if f.panics {
		panic("boom")
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.calls.add("connect:" + string(f.platform))
	var err error
	if len(f.results) > 0 {
		err, f.results = f.results[0], f.results[1:]
	}
	if err != nil {
		return false, err
	}
	if f.notReady {
		return false, nil
	}
	f.connected.Store(true)
	return true, nil
}

func (f *fakeAdapter) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.calls.add("disconnect:" + string(f.platform))
	f.connected.Store(false)
}

func (f *fakeAdapter) Timeout(context.Context, string, time.Duration) (Ack, error) {
	return notEnforced(f.platform, "timeout"), nil
}

func statusOf(s *Supervisor, p message.Platform) Status {
	for _, st := range s.Statuses() {
		if st.Platform == p {
			return st
		}
	}
	return Status{}
}

func TestSupervisorConnectAll_IsolatesFailures(t *testing.T) {
	tw := &fakeAdapter{platform: message.PlatformTwitch, results: []error{fmt.Errorf("%w: expired", ErrInvalidCredential)}}
	yt := &fakeAdapter{platform: message.PlatformYouTube, panics: true}
	kk := &fakeAdapter{platform: message.PlatformKick, delay: 20 * time.Millisecond}
	s := NewSupervisor(tw, yt, kk)

	s.ConnectAll(context.Background())

	if !kk.Connected() {
		t.Error("kick should connect even though the others failed")
	}
	st := statusOf(s, message.PlatformTwitch)
	if st.Connected || st.LastError == "" || st.ErrorKind != "invalid_credential" {
		t.Errorf("twitch status = %+v", st)
	}
	if st := statusOf(s, message.PlatformYouTube); st.Connected || st.LastError == "" {
		t.Errorf("youtube status = %+v", st)
	}
	if st := statusOf(s, message.PlatformKick); !st.Connected || st.LastError != "" || st.UpdatedAt.IsZero() {
		t.Errorf("kick status = %+v", st)
	}
}

func TestSupervisorConnectAll_RunsConcurrently(t *testing.T) {
	var adapters []Adapter
	for _, p := range message.Platforms {
		adapters = append(adapters, &fakeAdapter{platform: p, delay: 100 * time.Millisecond})
	}
	s := NewSupervisor(adapters...)
	start := time.Now()
	s.ConnectAll(context.Background())
	if d := time.Since(start); d > 250*time.Millisecond {
		t.Errorf("ConnectAll took %v; adapters should connect in parallel", d)
	}
}

// Refresh while the Twitch reconnect fails and the YouTube reconnect succeeds.
func TestSupervisorRefresh_PartialFailure(t *testing.T) {
	calls := &callLog{}
	tw := &fakeAdapter{platform: message.PlatformTwitch, calls: calls,
		results: []error{nil, errors.New("irc refused")}}
	yt := &fakeAdapter{platform: message.PlatformYouTube, calls: calls}
	kk := &fakeAdapter{platform: message.PlatformKick, calls: calls}
	s := NewSupervisor(tw, yt, kk)
	s.ConnectAll(context.Background())
	calls.reset()

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if !yt.Connected() {
		t.Error("youtube should end connected")
	}
	if tw.Connected() {
		t.Error("twitch should end disconnected")
	}
	if st := statusOf(s, message.PlatformTwitch); st.Connected || st.LastError != "irc refused" {
		t.Errorf("twitch status = %+v", st)
	}
	want := []string{"disconnect:twitch", "connect:twitch", "disconnect:youtube", "connect:youtube"}
	if calls.String() != fmt.Sprint(want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
	if kk.disconnects != 0 || !kk.Connected() {
		t.Error("kick is not credential-gated and must not be touched by Refresh")
	}
}

func TestSupervisorRefresh_CanceledContext(t *testing.T) {
	tw := &fakeAdapter{platform: message.PlatformTwitch}
	s := NewSupervisor(tw)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Refresh(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Refresh() error = %v, want context.Canceled", err)
	}
}

func TestSupervisorStatuses_ReflectLiveState(t *testing.T) {
	tw := &fakeAdapter{platform: message.PlatformTwitch}
	yt := &fakeAdapter{platform: message.PlatformYouTube, notReady: true}
	s := NewSupervisor(tw, yt)
	s.ConnectAll(context.Background())

	sts := s.Statuses()
	if len(sts) != 2 || sts[0].Platform != message.PlatformTwitch || sts[1].Platform != message.PlatformYouTube {
		t.Fatalf("Statuses() = %+v", sts)
	}
	if !sts[0].Connected || sts[1].Connected || sts[1].LastError != "" {
		t.Errorf("Statuses() = %+v", sts)
	}

	// The connection drops without the supervisor noticing.
	tw.connected.Store(false)
	if statusOf(s, message.PlatformTwitch).Connected {
		t.Error("status should follow the adapter's live state")
	}

	s.Shutdown()
	if tw.disconnects != 1 || yt.disconnects != 1 {
		t.Errorf("Shutdown disconnects = %d/%d", tw.disconnects, yt.disconnects)
	}
}
