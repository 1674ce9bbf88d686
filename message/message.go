// Package message defines the canonical chat event shared by every platform adapter,
// the broadcast hub and the subscriber transports.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the ISO-8601 form used on the wire (UTC, millisecond precision).
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Platform identifies the chat source. The set is closed.
type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformYouTube Platform = "youtube"
	PlatformKick    Platform = "kick"
)

// Platforms lists every supported platform in a stable order.
var Platforms = []Platform{PlatformTwitch, PlatformYouTube, PlatformKick}

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformTwitch, PlatformYouTube, PlatformKick:
		return true
	}
	return false
}

// ParsePlatform converts s into a Platform.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown platform %q", s)
	}
	return p, nil
}

// Type classifies a message. Unrecognized signals map to TypeChat.
type Type string

const (
	TypeChat      Type = "chat"
	TypeHighlight Type = "highlight"
	TypeSuperchat Type = "superchat"
	TypeGift      Type = "gift"
	TypeSystem    Type = "system"
)

// Valid reports whether t is one of the closed message types.
func (t Type) Valid() bool {
	switch t {
	case TypeChat, TypeHighlight, TypeSuperchat, TypeGift, TypeSystem:
		return true
	}
	return false
}

// ParseType maps s to a Type, defaulting to TypeChat.
func ParseType(s string) Type {
	if t := Type(s); t.Valid() {
		return t
	}
	return TypeChat
}

// Message is the normalized, platform-agnostic chat event.
// Messages are treated as immutable once built; Metadata is shared between
// subscribers and must not be modified after publication.
type Message struct {
	ID        string
	Timestamp time.Time
	Platform  Platform
	User      string
	Message   string
	Type      Type
	Metadata  map[string]any
}

type wireMessage struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	Platform  Platform       `json:"platform"`
	User      string         `json:"user"`
	Message   string         `json:"message"`
	Type      Type           `json:"type"`
	Metadata  map[string]any `json:"metadata"`
}

// MarshalJSON renders the canonical broadcast payload.
func (m Message) MarshalJSON() ([]byte, error) {
	md := m.Metadata
	if md == nil {
		md = map[string]any{}
	}
	return json.Marshal(wireMessage{
		ID:        m.ID,
		Timestamp: m.Timestamp.UTC().Format(TimestampLayout),
		Platform:  m.Platform,
		User:      m.User,
		Message:   m.Message,
		Type:      m.Type,
		Metadata:  md,
	})
}

// UnmarshalJSON accepts the canonical payload. The timestamp may be any RFC 3339 string.
func (m *Message) UnmarshalJSON(b []byte) error {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	var ts time.Time
	if w.Timestamp != "" {
		t, err := time.Parse(time.RFC3339Nano, w.Timestamp)
		if err != nil {
			return fmt.Errorf("invalid timestamp: %w", err)
		}
		ts = t.UTC()
	}
	*m = Message{
		ID:        w.ID,
		Timestamp: ts,
		Platform:  w.Platform,
		User:      w.User,
		Message:   w.Message,
		Type:      w.Type,
		Metadata:  w.Metadata,
	}
	return nil
}

var (
	ErrInvalidPlatform = errors.New("invalid platform")
	ErrInvalidType     = errors.New("invalid type")
)

// Validate checks the closed-enum invariants.
func (m Message) Validate() error {
	if !m.Platform.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPlatform, m.Platform)
	}
	if !m.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, m.Type)
	}
	return nil
}

// WithDefaults returns a copy with a generated id and the given time filled in
// when those fields are absent.
func (m Message) WithDefaults(now time.Time) Message {
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now.UTC()
	}
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	return m
}

// NewID returns a fresh random message id.
func NewID() string { return uuid.NewString() }

// Welcome builds the synthetic system message delivered once to each new subscriber.
// The platform field stays within the closed set; renderers key off Type.
func Welcome(now time.Time) Message {
	return Message{
		ID:        "welcome-" + NewID(),
		Timestamp: now.UTC(),
		Platform:  PlatformTwitch,
		User:      "System",
		Message:   "Backend connection established!",
		Type:      TypeSystem,
		Metadata:  map[string]any{},
	}
}
