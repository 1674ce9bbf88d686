// Package normalize converts platform-specific chat payloads into canonical messages.
//
// Each platform has its own closed input record, decoded at the adapter boundary:
//   - TwitchMessage: IRC PRIVMSG tags plus text (see ParseTwitchTags).
//   - YouTubeItem: one liveChatMessages resource.
//   - KickChatEvent: the data of a Pusher chat message event.
//
// The conversion functions do no I/O. The only non-deterministic outputs are a
// generated id and the fallback timestamp, both used only when the source omits them.
package normalize

import (
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/multichat/message"
)

const (
	// TwitchHighlightedMarker is the msg-id tag value of a channel-points highlighted message.
	TwitchHighlightedMarker = "highlighted-message"
	// YouTubeSuperChatMarker is the snippet.type of a Super Chat.
	YouTubeSuperChatMarker = "superChatEvent"
	// KickGiftMarker is the type field of a Kick gift event.
	KickGiftMarker = "gift"

	UnknownTwitchUser  = "Unknown Twitch User"
	UnknownYouTubeUser = "Unknown YT User"
	UnknownKickUser    = "Unknown Kick User"

	defaultTwitchColor = "#9146FF"
	defaultKickColor   = "#53fc18"
)

// TwitchMessage is a decoded Twitch chat event.
type TwitchMessage struct {
	ID          string
	Login       string
	DisplayName string
	Text        string
	MsgID       string
	SentAt      time.Time
	Color       string
	Badges      map[string]string
	Emotes      string
	Subscriber  bool
	Mod         bool
	Bits        int
}

// ParseTwitchTags decodes the IRCv3 tags of a PRIVMSG into a TwitchMessage.
func ParseTwitchTags(tags map[string]string, login, text string) TwitchMessage {
	m := TwitchMessage{
		ID:          tags["id"],
		Login:       login,
		DisplayName: tags["display-name"],
		Text:        text,
		MsgID:       tags["msg-id"],
		Color:       tags["color"],
		Emotes:      tags["emotes"],
		Subscriber:  tags["subscriber"] == "1",
		Mod:         tags["mod"] == "1",
	}
	if ms, err := strconv.ParseInt(tags["tmi-sent-ts"], 10, 64); err == nil && ms > 0 {
		m.SentAt = time.UnixMilli(ms).UTC()
	}
	if b, err := strconv.Atoi(tags["bits"]); err == nil {
		m.Bits = b
	}
	if raw := tags["badges"]; raw != "" {
		m.Badges = make(map[string]string)
		for _, part := range strings.Split(raw, ",") {
			name, version, _ := strings.Cut(part, "/")
			if name != "" {
				m.Badges[name] = version
			}
		}
	}
	return m
}

// Twitch converts a Twitch chat event.
func Twitch(in TwitchMessage, now time.Time) message.Message {
	user := in.DisplayName
	if user == "" {
		user = in.Login
	}
	if user == "" {
		user = UnknownTwitchUser
	}
	typ := message.TypeChat
	if in.MsgID == TwitchHighlightedMarker {
		typ = message.TypeHighlight
	}
	badges := in.Badges
	if badges == nil {
		badges = map[string]string{}
	}
	color := in.Color
	if color == "" {
		color = defaultTwitchColor
	}
	md := map[string]any{
		"badges":     badges,
		"color":      color,
		"subscriber": in.Subscriber,
		"mod":        in.Mod,
	}
	if in.Emotes != "" {
		md["emotes"] = in.Emotes
	} else {
		md["emotes"] = nil
	}
	if in.Bits > 0 {
		md["bits"] = in.Bits
	}
	return message.Message{
		ID:        idOrNew(in.ID),
		Timestamp: timeOr(in.SentAt, now),
		Platform:  message.PlatformTwitch,
		User:      user,
		Message:   in.Text,
		Type:      typ,
		Metadata:  md,
	}
}

// YouTubeSuperChat holds the paid-message details of a Super Chat.
type YouTubeSuperChat struct {
	AmountMicros        uint64
	Currency            string
	AmountDisplayString string
	Tier                int64
}

// YouTubeAuthor is the authorDetails part of a live chat message.
type YouTubeAuthor struct {
	ChannelID       string
	DisplayName     string
	ProfileImageURL string
	IsChatOwner     bool
	IsChatSponsor   bool
	IsChatModerator bool
}

// YouTubeItem is a decoded liveChatMessages item.
type YouTubeItem struct {
	ID             string
	Type           string
	PublishedAt    string
	DisplayMessage string
	TextMessage    string
	SuperChat      *YouTubeSuperChat
	Author         YouTubeAuthor
}

// YouTube converts a YouTube live chat item.
func YouTube(in YouTubeItem, now time.Time) message.Message {
	user := in.Author.DisplayName
	if user == "" {
		user = UnknownYouTubeUser
	}
	text := in.DisplayMessage
	if text == "" {
		text = in.TextMessage
	}
	typ := message.TypeChat
	if in.Type == YouTubeSuperChatMarker {
		typ = message.TypeSuperchat
	}
	md := map[string]any{
		"profileImageUrl": in.Author.ProfileImageURL,
		"isChatOwner":     in.Author.IsChatOwner,
		"isChatSponsor":   in.Author.IsChatSponsor,
		"isChatModerator": in.Author.IsChatModerator,
	}
	if in.Author.ChannelID != "" {
		md["channelId"] = in.Author.ChannelID
	}
	if sc := in.SuperChat; sc != nil {
		md["amountMicros"] = sc.AmountMicros
		if sc.Currency != "" {
			md["currency"] = sc.Currency
		}
		if sc.AmountDisplayString != "" {
			md["amountDisplayString"] = sc.AmountDisplayString
		}
	}
	var ts time.Time
	if in.PublishedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, in.PublishedAt); err == nil {
			ts = t
		}
	}
	return message.Message{
		ID:        idOrNew(in.ID),
		Timestamp: timeOr(ts, now),
		Platform:  message.PlatformYouTube,
		User:      user,
		Message:   text,
		Type:      typ,
		Metadata:  md,
	}
}

// KickBadge is one badge of a Kick sender.
type KickBadge struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Count int    `json:"count,omitempty"`
}

// KickIdentity carries a Kick sender's display attributes.
type KickIdentity struct {
	Color  string      `json:"color"`
	Badges []KickBadge `json:"badges"`
}

// KickSender is the author of a Kick chat event.
type KickSender struct {
	ID       int64        `json:"id"`
	Username string       `json:"username"`
	Slug     string       `json:"slug"`
	Identity KickIdentity `json:"identity"`
}

// KickChatEvent is the payload of Kick's chat message event.
type KickChatEvent struct {
	ID         string     `json:"id"`
	ChatroomID int64      `json:"chatroom_id"`
	Content    string     `json:"content"`
	Type       string     `json:"type"`
	CreatedAt  string     `json:"created_at"`
	Sender     KickSender `json:"sender"`
}

// Kick converts a Kick chat event.
func Kick(in KickChatEvent, now time.Time) message.Message {
	user := in.Sender.Username
	if user == "" {
		user = UnknownKickUser
	}
	typ := message.TypeChat
	if in.Type == KickGiftMarker {
		typ = message.TypeGift
	}
	badges := in.Sender.Identity.Badges
	if badges == nil {
		badges = []KickBadge{}
	}
	color := in.Sender.Identity.Color
	if color == "" {
		color = defaultKickColor
	}
	md := map[string]any{
		"badges": badges,
		"color":  color,
	}
	if in.Sender.ID != 0 {
		md["senderId"] = in.Sender.ID
	}
	var ts time.Time
	if in.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, in.CreatedAt); err == nil {
			ts = t
		}
	}
	return message.Message{
		ID:        idOrNew(in.ID),
		Timestamp: timeOr(ts, now),
		Platform:  message.PlatformKick,
		User:      user,
		Message:   in.Content,
		Type:      typ,
		Metadata:  md,
	}
}

func idOrNew(id string) string {
	if id != "" {
		return id
	}
	return message.NewID()
}

func timeOr(t, now time.Time) time.Time {
	if t.IsZero() {
		return now.UTC()
	}
	return t.UTC()
}
