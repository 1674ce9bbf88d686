package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/multichat/message"
	"github.com/onnwee/multichat/normalize"
	"github.com/onnwee/multichat/telemetry"
	"github.com/onnwee/multichat/twitchapi"
)

// DefaultTimeout is used when a timeout request carries no duration.
const DefaultTimeout = 600 * time.Second

// ircClient is the subset of *twitch.Client the adapter drives.
type ircClient interface {
	OnPrivateMessage(func(twitch.PrivateMessage))
	OnConnect(func())
	Join(channels ...string)
	Connect() error
	Disconnect() error
}

// TwitchAdapter reads the authenticated account's own channel over IRC.
// It never reconnects on its own; Supervisor.Refresh does that.
type TwitchAdapter struct {
	tokens     TokenProvider
	pub        Publisher
	clientID   string
	httpClient *http.Client

	// AppTokens, when set, serves Helix user lookups with an app token.
	AppTokens twitchapi.AccessTokenSource

	validate  func(ctx context.Context, token string) (*twitchapi.Identity, error)
	newClient func(login, oauth string) ircClient
	now       func() time.Time

	mu        sync.Mutex
	client    ircClient
	identity  *twitchapi.Identity
	helix     *twitchapi.HelixClient
	connected atomic.Bool
}

// NewTwitchAdapter builds the Twitch adapter. clientID is the application
// client id used for Helix moderation calls.
func NewTwitchAdapter(tokens TokenProvider, pub Publisher, clientID string, hc *http.Client) *TwitchAdapter {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	a := &TwitchAdapter{
		tokens:     tokens,
		pub:        pub,
		clientID:   clientID,
		httpClient: hc,
		newClient: func(login, oauth string) ircClient {
			return twitch.NewClient(login, oauth)
		},
		now: time.Now,
	}
	a.validate = func(ctx context.Context, token string) (*twitchapi.Identity, error) {
		return twitchapi.ValidateToken(ctx, a.httpClient, token)
	}
	return a
}

func (a *TwitchAdapter) Platform() message.Platform { return message.PlatformTwitch }

func (a *TwitchAdapter) Connected() bool { return a.connected.Load() }

// Connect validates the stored token, then joins the account's own channel and
// waits until the IRC session is up.
func (a *TwitchAdapter) Connect(ctx context.Context) (ok bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "twitch.connect", attribute.String("platform", "twitch"))
	defer func() { telemetry.EndSpan(span, err) }()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return true, nil
	}

	tok, err := a.tokens.GetToken(ctx, message.PlatformTwitch)
	if err != nil {
		return false, fmt.Errorf("read twitch token: %w", err)
	}
	if tok == nil || tok.AccessToken == "" {
		slog.Info("twitch: no oauth token on file; authorize via /auth/twitch/start", slog.String("component", "twitch"))
		return false, nil
	}

	id, err := a.validate(ctx, tok.AccessToken)
	if err != nil {
		if errors.Is(err, twitchapi.ErrInvalidToken) {
			return false, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
		}
		return false, fmt.Errorf("validate twitch token: %w", err)
	}
	login := strings.ToLower(id.Login)
	slog.Info("twitch: token valid", slog.String("login", login), slog.String("component", "twitch"))

	c := a.newClient(login, "oauth:"+tok.AccessToken)
	c.OnPrivateMessage(func(m twitch.PrivateMessage) { a.handlePrivateMessage(login, m) })
	ready := make(chan struct{})
	var sessions atomic.Int32
	c.OnConnect(func() {
		if sessions.Add(1) == 1 {
			close(ready)
			return
		}
		// The client reconnected by itself after a drop. Stay down until
		// the supervisor refreshes.
		go a.dropped(c)
	})
	c.Join(login)

	errCh := make(chan error, 1)
	go func() {
		err := c.Connect()
		errCh <- err
		a.closed(c, err)
	}()

	select {
	case <-ready:
	case err := <-errCh:
		if err != nil && strings.Contains(strings.ToLower(err.Error()), "authentication failed") {
			return false, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
		}
		return false, fmt.Errorf("twitch irc connect: %w", err)
	case <-ctx.Done():
		_ = c.Disconnect()
		return false, ctx.Err()
	}

	clientID := a.clientID
	if clientID == "" {
		clientID = id.ClientID
	}
	a.client = c
	a.identity = id
	a.helix = &twitchapi.HelixClient{
		ClientID:   clientID,
		UserTokens: twitchapi.StaticToken(tok.AccessToken),
		AppTokens:  a.AppTokens,
		HTTPClient: a.httpClient,
	}
	a.connected.Store(true)
	slog.Info("twitch: joined channel", slog.String("channel", "#"+login), slog.String("component", "twitch"))
	return true, nil
}

// closed runs when the IRC session of c ends for any reason.
func (a *TwitchAdapter) closed(c ircClient, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != c {
		return
	}
	a.client = nil
	a.connected.Store(false)
	if err != nil && !errors.Is(err, twitch.ErrClientDisconnected) {
		slog.Warn("twitch: irc session ended", slog.Any("err", err), slog.String("component", "twitch"))
	}
}

// dropped tears down c after the IRC library re-established a lost session.
func (a *TwitchAdapter) dropped(c ircClient) {
	a.mu.Lock()
	if a.client == c {
		a.client = nil
		a.connected.Store(false)
	}
	a.mu.Unlock()
	slog.Warn("twitch: irc connection dropped; staying disconnected until refresh", slog.String("component", "twitch"))
	if err := c.Disconnect(); err != nil {
		slog.Debug("twitch: disconnect", slog.Any("err", err))
	}
}

// Disconnect leaves the channel. Safe to call when not connected.
func (a *TwitchAdapter) Disconnect() {
	a.mu.Lock()
	c := a.client
	a.client = nil
	a.connected.Store(false)
	a.mu.Unlock()
	if c == nil {
		return
	}
	if err := c.Disconnect(); err != nil {
		slog.Debug("twitch: disconnect", slog.Any("err", err))
	}
	slog.Info("twitch: disconnected", slog.String("component", "twitch"))
}

func (a *TwitchAdapter) handlePrivateMessage(self string, m twitch.PrivateMessage) {
	if strings.EqualFold(m.User.Name, self) {
		return
	}
	in := normalize.ParseTwitchTags(m.Tags, m.User.Name, m.Message)
	if in.DisplayName == "" {
		in.DisplayName = m.User.DisplayName
	}
	if in.ID == "" {
		in.ID = m.ID
	}
	publish(a.pub, normalize.Twitch(in, a.now()))
}

// moderation returns the Helix client and the channel's user id.
func (a *TwitchAdapter) moderation() (*twitchapi.HelixClient, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.helix == nil || a.identity == nil {
		return nil, "", errors.New("twitch not connected")
	}
	return a.helix, a.identity.UserID, nil
}

func (a *TwitchAdapter) ban(ctx context.Context, target string, d time.Duration, reason string) error {
	h, channelID, err := a.moderation()
	if err != nil {
		return err
	}
	userID, err := h.GetUserID(ctx, strings.TrimPrefix(strings.TrimSpace(target), "@"))
	if err != nil {
		return fmt.Errorf("resolve %q: %w", target, err)
	}
	// The bot joins its own channel, so it moderates as the broadcaster.
	return h.BanUser(ctx, channelID, channelID, userID, d, reason)
}

// Timeout times target out through Helix.
func (a *TwitchAdapter) Timeout(ctx context.Context, target string, d time.Duration) (Ack, error) {
	if d <= 0 {
		d = DefaultTimeout
	}
	if err := a.ban(ctx, target, d, ""); err != nil {
		return Ack{}, fmt.Errorf("twitch timeout: %w", err)
	}
	return Ack{Accepted: true, Enforced: true, Message: fmt.Sprintf("timed out %s for %s", target, d)}, nil
}

// Ban permanently bans target.
func (a *TwitchAdapter) Ban(ctx context.Context, target, reason string) (Ack, error) {
	if err := a.ban(ctx, target, 0, reason); err != nil {
		return Ack{}, fmt.Errorf("twitch ban: %w", err)
	}
	return Ack{Accepted: true, Enforced: true, Message: "banned " + target}, nil
}

// DeleteMessage removes a single chat message.
func (a *TwitchAdapter) DeleteMessage(ctx context.Context, messageID string) (Ack, error) {
	if messageID == "" {
		return Ack{}, errors.New("twitch delete: message id required")
	}
	h, channelID, err := a.moderation()
	if err != nil {
		return Ack{}, fmt.Errorf("twitch delete: %w", err)
	}
	if err := h.DeleteChatMessages(ctx, channelID, channelID, messageID); err != nil {
		return Ack{}, fmt.Errorf("twitch delete: %w", err)
	}
	return Ack{Accepted: true, Enforced: true, Message: "deleted message " + messageID}, nil
}

// ClearChat removes every message in the channel.
func (a *TwitchAdapter) ClearChat(ctx context.Context) (Ack, error) {
	h, channelID, err := a.moderation()
	if err != nil {
		return Ack{}, fmt.Errorf("twitch clear: %w", err)
	}
	if err := h.DeleteChatMessages(ctx, channelID, channelID, ""); err != nil {
		return Ack{}, fmt.Errorf("twitch clear: %w", err)
	}
	return Ack{Accepted: true, Enforced: true, Message: "chat cleared"}, nil
}
