package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/multichat/message"
	"github.com/onnwee/multichat/normalize"
	"github.com/onnwee/multichat/telemetry"
	"github.com/onnwee/multichat/youtubeapi"
)

const (
	// DefaultYouTubeFallbackDelay is the wait after a failed fetch.
	DefaultYouTubeFallbackDelay = 10 * time.Second
	// DefaultYouTubePollInterval is used when the server suggests no interval.
	DefaultYouTubePollInterval = 5 * time.Second
)

// LiveChatClient is the YouTube Data API surface the poll loop needs.
// *youtubeapi.LiveChat satisfies it.
type LiveChatClient interface {
	ActiveLiveChatID(ctx context.Context) (string, error)
	ListMessages(ctx context.Context, liveChatID, pageToken string) (*youtubeapi.Page, error)
}

// LiveChatFactory builds a client authorized with an access token.
type LiveChatFactory func(ctx context.Context, accessToken string) (LiveChatClient, error)

type stopper interface{ Stop() bool }

// YouTubeAdapter polls the live chat of the account's active broadcast.
// The loop reschedules itself with the server-suggested interval and never
// runs two fetches at once.
type YouTubeAdapter struct {
	tokens    TokenProvider
	pub       Publisher
	newClient LiveChatFactory

	FallbackDelay   time.Duration
	DefaultInterval time.Duration

	afterFunc func(d time.Duration, f func()) stopper
	now       func() time.Time

	// inFlight holds the generation whose fetch is outstanding, 0 when idle.
	inFlight  atomic.Uint64
	connected atomic.Bool

	mu         sync.Mutex
	gen        uint64
	client     LiveChatClient
	liveChatID string
	pageToken  string
	timer      stopper
	cancel     context.CancelFunc
}

// NewYouTubeAdapter builds the YouTube adapter. A nil factory uses the real API.
func NewYouTubeAdapter(tokens TokenProvider, pub Publisher, factory LiveChatFactory) *YouTubeAdapter {
	if factory == nil {
		factory = func(ctx context.Context, accessToken string) (LiveChatClient, error) {
			lc, err := youtubeapi.NewLiveChat(ctx, accessToken)
			if err != nil {
				return nil, err
			}
			return lc, nil
		}
	}
	return &YouTubeAdapter{
		tokens:          tokens,
		pub:             pub,
		newClient:       factory,
		FallbackDelay:   DefaultYouTubeFallbackDelay,
		DefaultInterval: DefaultYouTubePollInterval,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		now: time.Now,
	}
}

func (a *YouTubeAdapter) Platform() message.Platform { return message.PlatformYouTube }

func (a *YouTubeAdapter) Connected() bool { return a.connected.Load() }

// Connect finds the active broadcast and starts the poll loop. No token or no
// live broadcast leaves the adapter disconnected without an error.
func (a *YouTubeAdapter) Connect(ctx context.Context) (ok bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "youtube.connect", attribute.String("platform", "youtube"))
	defer func() { telemetry.EndSpan(span, err) }()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return true, nil
	}

	tok, err := a.tokens.GetToken(ctx, message.PlatformYouTube)
	if err != nil {
		return false, fmt.Errorf("read youtube token: %w", err)
	}
	if tok == nil || tok.AccessToken == "" {
		slog.Info("youtube: no oauth token on file; authorize via /auth/youtube/start", slog.String("component", "youtube"))
		return false, nil
	}

	client, err := a.newClient(ctx, tok.AccessToken)
	if err != nil {
		return false, fmt.Errorf("youtube client: %w", err)
	}
	chatID, err := client.ActiveLiveChatID(ctx)
	if err != nil {
		if ClassifyError(err) == ErrorClassInvalidCredential {
			return false, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
		}
		return false, err
	}
	if chatID == "" {
		slog.Info("youtube: no active live broadcast", slog.String("component", "youtube"))
		return false, nil
	}

	a.gen++
	a.client = client
	// Reconnecting to the same chat resumes after the last delivered page.
	if chatID != a.liveChatID {
		a.pageToken = ""
	}
	a.liveChatID = chatID
	// Poll requests outlive the connect call, so they get their own context.
	var pollCtx context.Context
	pollCtx, a.cancel = context.WithCancel(context.Background())
	a.connected.Store(true)
	slog.Info("youtube: polling live chat", slog.String("live_chat_id", chatID), slog.String("component", "youtube"))

	gen := a.gen
	go a.poll(pollCtx, gen)
	return true, nil
}

// Disconnect stops the poll loop. Safe to call when not connected.
func (a *YouTubeAdapter) Disconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	wasConnected := a.client != nil
	a.client = nil
	a.connected.Store(false)
	if wasConnected {
		slog.Info("youtube: disconnected", slog.String("component", "youtube"))
	}
}

// poll runs one fetch cycle for connection generation gen and schedules the next.
func (a *YouTubeAdapter) poll(ctx context.Context, gen uint64) {
	for !a.inFlight.CompareAndSwap(0, gen) {
		switch a.inFlight.Load() {
		case 0:
			continue
		case gen:
			return
		default:
			// A fetch from a previous connection is still draining; retry so
			// this connection's loop is not lost.
			a.schedule(ctx, gen, a.DefaultInterval)
			return
		}
	}

	a.mu.Lock()
	if a.gen != gen || a.client == nil {
		a.mu.Unlock()
		a.inFlight.CompareAndSwap(gen, 0)
		return
	}
	client, chatID, pageToken := a.client, a.liveChatID, a.pageToken
	a.mu.Unlock()

	var (
		page *youtubeapi.Page
		err  error
	)
	telemetry.TimeFunc(telemetry.YouTubePollDuration, func() {
		page, err = client.ListMessages(ctx, chatID, pageToken)
	})

	delay := a.FallbackDelay
	if err != nil {
		telemetry.IncYouTubePollFailures()
		slog.Warn("youtube: fetch failed", slog.Any("err", err),
			slog.String("class", ClassifyError(err).String()),
			slog.Duration("retry_in", delay), slog.String("component", "youtube"))
	} else {
		delay = page.PollingInterval
		if delay <= 0 {
			delay = a.DefaultInterval
		}
		if page.NextPageToken != "" {
			a.mu.Lock()
			current := a.gen == gen
			if current {
				a.pageToken = page.NextPageToken
			}
			a.mu.Unlock()
			if current {
				now := a.now()
				for _, item := range page.Items {
					publish(a.pub, normalize.YouTube(item, now))
				}
			}
		}
	}

	a.inFlight.CompareAndSwap(gen, 0)
	a.schedule(ctx, gen, delay)
}

func (a *YouTubeAdapter) schedule(ctx context.Context, gen uint64, d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gen != gen {
		return
	}
	a.timer = a.afterFunc(d, func() { a.poll(ctx, gen) })
}

// Timeout is acknowledged but not enforced: the poll-based API offers no moderation here.
func (a *YouTubeAdapter) Timeout(_ context.Context, target string, d time.Duration) (Ack, error) {
	slog.Info("youtube: timeout not enforced", slog.String("target", target), slog.Duration("duration", d))
	return notEnforced(message.PlatformYouTube, "timeout"), nil
}
