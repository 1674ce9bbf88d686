package chat

import (
	"context"
	"time"

	"github.com/onnwee/multichat/message"
	"github.com/onnwee/multichat/telemetry"
)

// Token is a stored platform credential. Adapters read it at connect time only.
type Token struct {
	Platform     message.Platform
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
}

// TokenProvider supplies the current token per platform. A nil token with a
// nil error means the platform has not been authorized yet.
type TokenProvider interface {
	GetToken(ctx context.Context, platform message.Platform) (*Token, error)
}

// Publisher receives normalized messages. *hub.Hub satisfies it.
type Publisher interface {
	Publish(m message.Message)
}

// Ack is the answer to a moderation request. Accepted only means the adapter
// handled the command; Enforced is true only when the platform applied it.
type Ack struct {
	Accepted bool   `json:"accepted"`
	Enforced bool   `json:"enforced"`
	Message  string `json:"message"`
}

// Adapter owns one platform's live connection.
//
// Connect returns (false, nil) when the platform is intentionally left
// disconnected (no token, nothing live, no channel), (false, err) on failure
// and (true, nil) once connected. Connect and Disconnect are idempotent.
type Adapter interface {
	Platform() message.Platform
	Connect(ctx context.Context) (bool, error)
	Disconnect()
	Connected() bool
	// Timeout is best effort; see Ack for what the result promises.
	Timeout(ctx context.Context, target string, d time.Duration) (Ack, error)
}

// Moderator is implemented by adapters that can enforce more than a timeout.
type Moderator interface {
	Ban(ctx context.Context, target, reason string) (Ack, error)
	DeleteMessage(ctx context.Context, messageID string) (Ack, error)
	ClearChat(ctx context.Context) (Ack, error)
}

func notEnforced(p message.Platform, action string) Ack {
	return Ack{
		Accepted: true,
		Enforced: false,
		Message:  action + " acknowledged on " + string(p) + " but not enforced: platform has no moderation API",
	}
}

func publish(pub Publisher, m message.Message) {
	pub.Publish(m)
	telemetry.RecordIngested(string(m.Platform), string(m.Type))
}
