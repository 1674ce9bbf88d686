package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/multichat/message"
)

// Moderation actions accepted by Dispatcher.
const (
	ActionTimeout   = "timeout"
	ActionBan       = "ban"
	ActionDelete    = "delete"
	ActionClearChat = "clear_chat"
)

// PlatformSystem addresses a moderation command to the overlay itself rather
// than a chat platform. Only clear_chat is meaningful there.
const PlatformSystem = "system"

var (
	// ErrUnsupportedAction is returned for actions outside the command set.
	ErrUnsupportedAction = errors.New("unsupported moderation action")
	// ErrInvalidCommand is returned when a command is missing a target or names an unknown platform.
	ErrInvalidCommand = errors.New("invalid moderation command")
)

// Command is one moderation request.
type Command struct {
	Platform string         `json:"platform"`
	Action   string         `json:"action"`
	Payload  CommandPayload `json:"payload"`
}

// CommandPayload carries action arguments. Duration is in seconds.
type CommandPayload struct {
	Channel   string `json:"channel,omitempty"`
	User      string `json:"user,omitempty"`
	Duration  int    `json:"duration,omitempty"`
	Reason    string `json:"reason,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

// Clearer tells every subscriber to drop its buffered messages. *hub.Hub satisfies it.
type Clearer interface {
	BroadcastClear()
}

// Dispatcher routes moderation commands to adapters.
//
// A returned Ack always states whether the action was enforced remotely.
// Platforms without a moderation API answer Accepted=true, Enforced=false:
// callers must not read acceptance as enforcement.
type Dispatcher struct {
	sup   *Supervisor
	clear Clearer
}

func NewDispatcher(sup *Supervisor, clear Clearer) *Dispatcher {
	return &Dispatcher{sup: sup, clear: clear}
}

// Dispatch executes cmd.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) (Ack, error) {
	switch cmd.Action {
	case ActionTimeout, ActionBan, ActionDelete, ActionClearChat:
	default:
		return Ack{}, fmt.Errorf("%w: %q", ErrUnsupportedAction, cmd.Action)
	}

	if cmd.Action == ActionClearChat {
		// Local overlays are always cleared; the platform is cleared when it can be.
		d.clear.BroadcastClear()
		if cmd.Platform == PlatformSystem || cmd.Platform == "" {
			return Ack{Accepted: true, Enforced: true, Message: "overlay chat cleared"}, nil
		}
	}

	p, err := message.ParsePlatform(cmd.Platform)
	if err != nil {
		return Ack{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	a, ok := d.sup.Adapter(p)
	if !ok {
		return Ack{}, fmt.Errorf("%w: no adapter registered for %s", ErrInvalidCommand, p)
	}
	slog.Info("moderation: dispatch", slog.String("platform", string(p)), slog.String("action", cmd.Action), slog.String("user", cmd.Payload.User))

	if cmd.Action == ActionTimeout {
		if cmd.Payload.User == "" {
			return Ack{}, fmt.Errorf("%w: timeout requires payload.user", ErrInvalidCommand)
		}
		return a.Timeout(ctx, cmd.Payload.User, time.Duration(cmd.Payload.Duration)*time.Second)
	}

	mod, ok := a.(Moderator)
	if !ok {
		return notEnforced(p, cmd.Action), nil
	}
	switch cmd.Action {
	case ActionBan:
		if cmd.Payload.User == "" {
			return Ack{}, fmt.Errorf("%w: ban requires payload.user", ErrInvalidCommand)
		}
		return mod.Ban(ctx, cmd.Payload.User, cmd.Payload.Reason)
	case ActionDelete:
		if cmd.Payload.MessageID == "" {
			return Ack{}, fmt.Errorf("%w: delete requires payload.messageId", ErrInvalidCommand)
		}
		return mod.DeleteMessage(ctx, cmd.Payload.MessageID)
	default:
		return mod.ClearChat(ctx)
	}
}
