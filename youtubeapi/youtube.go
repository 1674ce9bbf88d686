// Package youtubeapi wraps the Google OAuth2 client config and the YouTube Data
// API live chat endpoints. Tokens are persisted via the provided TokenStore so
// the refresher and the chat adapter share them.
package youtubeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/multichat/config"
	"github.com/onnwee/multichat/normalize"
)

const provider = "youtube"

// MaxPageSize is the largest page liveChatMessages.list returns.
const MaxPageSize = 200

type TokenStore interface {
	UpsertOAuthToken(ctx context.Context, provider string, accessToken string, refreshToken string, expiry time.Time, raw string) error
	GetOAuthToken(ctx context.Context, provider string) (accessToken string, refreshToken string, expiry time.Time, raw string, err error)
}

// Service runs the Google authorization flow for the channel owner account.
type Service struct {
	db    TokenStore
	oauth *oauth2.Config
}

func New(cfg *config.Config, ts TokenStore) *Service {
	scopes := []string{yt.YoutubeReadonlyScope}
	if cfg.YTScopes != "" {
		// allow comma or space separated
		if fields := strings.Fields(strings.ReplaceAll(cfg.YTScopes, ",", " ")); len(fields) > 0 {
			scopes = fields
		}
	}
	oauth := &oauth2.Config{
		ClientID:     cfg.YTClientID,
		ClientSecret: cfg.YTClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.YTRedirectURI,
		Scopes:       scopes,
	}
	return &Service{db: ts, oauth: oauth}
}

func (s *Service) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens and persists them.
func (s *Service) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.store(ctx, tok); err != nil {
		return nil, fmt.Errorf("store youtube token: %w", err)
	}
	return tok, nil
}

// Refresh exchanges a refresh token for a new access token. Google usually
// omits the refresh token on refresh, in which case the old one is kept.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if s.oauth.ClientID == "" {
		return nil, errors.New("youtube oauth not configured")
	}
	tok, err := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}

func (s *Service) store(ctx context.Context, tok *oauth2.Token) error {
	raw, _ := json.Marshal(tok)
	return s.db.UpsertOAuthToken(ctx, provider, tok.AccessToken, tok.RefreshToken, tok.Expiry, string(raw))
}

// Page is one liveChatMessages.list response.
type Page struct {
	Items         []normalize.YouTubeItem
	NextPageToken string
	// PollingInterval is the server-suggested wait before the next fetch; zero when absent.
	PollingInterval time.Duration
}

// LiveChat reads the authenticated channel's live chat.
type LiveChat struct {
	svc *yt.Service
}

// NewLiveChat builds a live chat client authorized with accessToken.
// Extra options are appended, so tests can point it at a fake endpoint.
func NewLiveChat(ctx context.Context, accessToken string, opts ...option.ClientOption) (*LiveChat, error) {
	base := []option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})),
	}
	svc, err := yt.NewService(ctx, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return &LiveChat{svc: svc}, nil
}

// ActiveLiveChatID returns the live chat id of the user's active broadcast,
// or "" when nothing is live.
func (c *LiveChat) ActiveLiveChatID(ctx context.Context) (string, error) {
	res, err := c.svc.LiveBroadcasts.List([]string{"snippet"}).
		BroadcastStatus("active").
		BroadcastType("all").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("list live broadcasts: %w", err)
	}
	for _, b := range res.Items {
		if b.Snippet != nil && b.Snippet.LiveChatId != "" {
			return b.Snippet.LiveChatId, nil
		}
	}
	return "", nil
}

// ListMessages fetches up to MaxPageSize messages after pageToken.
func (c *LiveChat) ListMessages(ctx context.Context, liveChatID, pageToken string) (*Page, error) {
	call := c.svc.LiveChatMessages.List(liveChatID, []string{"snippet", "authorDetails"}).
		MaxResults(MaxPageSize).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("list live chat messages: %w", err)
	}
	p := &Page{
		NextPageToken:   res.NextPageToken,
		PollingInterval: time.Duration(res.PollingIntervalMillis) * time.Millisecond,
		Items:           make([]normalize.YouTubeItem, 0, len(res.Items)),
	}
	for _, m := range res.Items {
		if m != nil {
			p.Items = append(p.Items, ItemFromAPI(m))
		}
	}
	return p, nil
}

// ItemFromAPI decodes an API resource into the normalizer's input record.
func ItemFromAPI(m *yt.LiveChatMessage) normalize.YouTubeItem {
	item := normalize.YouTubeItem{ID: m.Id}
	if sn := m.Snippet; sn != nil {
		item.Type = sn.Type
		item.PublishedAt = sn.PublishedAt
		item.DisplayMessage = sn.DisplayMessage
		if sn.TextMessageDetails != nil {
			item.TextMessage = sn.TextMessageDetails.MessageText
		}
		if sc := sn.SuperChatDetails; sc != nil {
			item.SuperChat = &normalize.YouTubeSuperChat{
				AmountMicros:        sc.AmountMicros,
				Currency:            sc.Currency,
				AmountDisplayString: sc.AmountDisplayString,
				Tier:                sc.Tier,
			}
		}
	}
	if a := m.AuthorDetails; a != nil {
		item.Author = normalize.YouTubeAuthor{
			ChannelID:       a.ChannelId,
			DisplayName:     a.DisplayName,
			ProfileImageURL: a.ProfileImageUrl,
			IsChatOwner:     a.IsChatOwner,
			IsChatSponsor:   a.IsChatSponsor,
			IsChatModerator: a.IsChatModerator,
		}
	}
	return item
}
