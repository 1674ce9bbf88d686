package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/multichat/message"
)

type clearCounter struct{ n int }

func (c *clearCounter) BroadcastClear() { c.n++ }

// moderatingAdapter is a fakeAdapter that also enforces bans and deletes.
type moderatingAdapter struct {
	fakeAdapter
	timeouts []string
	bans     []string
	deletes  []string
	clears   int
}

func (m *moderatingAdapter) Timeout(_ context.Context, target string, d time.Duration) (Ack, error) {
	m.timeouts = append(m.timeouts, target+"/"+d.String())
	return Ack{Accepted: true, Enforced: true}, nil
}

func (m *moderatingAdapter) Ban(_ context.Context, target, reason string) (Ack, error) {
	m.bans = append(m.bans, target+":"+reason)
	return Ack{Accepted: true, Enforced: true}, nil
}

func (m *moderatingAdapter) DeleteMessage(_ context.Context, id string) (Ack, error) {
	m.deletes = append(m.deletes, id)
	return Ack{Accepted: true, Enforced: true}, nil
}

func (m *moderatingAdapter) ClearChat(context.Context) (Ack, error) {
	m.clears++
	return Ack{Accepted: true, Enforced: true}, nil
}

func newTestDispatcher() (*Dispatcher, *moderatingAdapter, *clearCounter) {
	tw := &moderatingAdapter{fakeAdapter: fakeAdapter{platform: message.PlatformTwitch}}
	yt := &fakeAdapter{platform: message.PlatformYouTube}
	kk := NewKickAdapter("", "", nil, newRecorder())
	cc := &clearCounter{}
	return NewDispatcher(NewSupervisor(tw, yt, kk), cc), tw, cc
}

func TestDispatch_Twitch(t *testing.T) {
	d, tw, cc := newTestDispatcher()
	ctx := context.Background()

	tests := []struct {
		name string
		cmd  Command
	}{
		{"timeout", Command{Platform: "twitch", Action: ActionTimeout, Payload: CommandPayload{User: "troll", Duration: 30}}},
		{"ban", Command{Platform: "twitch", Action: ActionBan, Payload: CommandPayload{User: "troll", Reason: "spam"}}},
		{"delete", Command{Platform: "twitch", Action: ActionDelete, Payload: CommandPayload{MessageID: "m1"}}},
		{"clear", Command{Platform: "twitch", Action: ActionClearChat}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack, err := d.Dispatch(ctx, tt.cmd)
			if err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
			if !ack.Accepted || !ack.Enforced {
				t.Errorf("ack = %+v", ack)
			}
		})
	}

	if len(tw.timeouts) != 1 || tw.timeouts[0] != "troll/30s" {
		t.Errorf("timeouts = %v", tw.timeouts)
	}
	if len(tw.bans) != 1 || tw.bans[0] != "troll:spam" {
		t.Errorf("bans = %v", tw.bans)
	}
	if len(tw.deletes) != 1 || tw.deletes[0] != "m1" {
		t.Errorf("deletes = %v", tw.deletes)
	}
	if tw.clears != 1 || cc.n != 1 {
		t.Errorf("clears = platform %d / overlay %d", tw.clears, cc.n)
	}
}

func TestDispatch_NotEnforcedPlatforms(t *testing.T) {
	d, _, _ := newTestDispatcher()
	for _, cmd := range []Command{
		{Platform: "youtube", Action: ActionTimeout, Payload: CommandPayload{User: "x", Duration: 60}},
		{Platform: "youtube", Action: ActionDelete, Payload: CommandPayload{MessageID: "m"}},
		{Platform: "kick", Action: ActionTimeout, Payload: CommandPayload{User: "x"}},
		{Platform: "kick", Action: ActionBan, Payload: CommandPayload{User: "x"}},
	} {
		ack, err := d.Dispatch(context.Background(), cmd)
		if err != nil {
			t.Fatalf("Dispatch(%+v) error = %v", cmd, err)
		}
		if !ack.Accepted || ack.Enforced || ack.Message == "" {
			t.Errorf("Dispatch(%+v) = %+v; want accepted, not enforced", cmd, ack)
		}
	}
}

func TestDispatch_SystemClear(t *testing.T) {
	d, tw, cc := newTestDispatcher()
	ack, err := d.Dispatch(context.Background(), Command{Platform: PlatformSystem, Action: ActionClearChat})
	if err != nil || !ack.Enforced {
		t.Fatalf("Dispatch() = %+v, %v", ack, err)
	}
	if cc.n != 1 || tw.clears != 0 {
		t.Errorf("overlay clears = %d, platform clears = %d", cc.n, tw.clears)
	}
}

func TestDispatch_Errors(t *testing.T) {
	d, _, _ := newTestDispatcher()
	tests := []struct {
		name string
		cmd  Command
	}{
		{"unknown action", Command{Platform: "twitch", Action: "purge"}},
		{"unknown platform", Command{Platform: "facebook", Action: ActionTimeout, Payload: CommandPayload{User: "x"}}},
		{"timeout without user", Command{Platform: "twitch", Action: ActionTimeout}},
		{"ban without user", Command{Platform: "twitch", Action: ActionBan}},
		{"system is clear only", Command{Platform: PlatformSystem, Action: ActionBan, Payload: CommandPayload{User: "x"}}},
		{"delete without id", Command{Platform: "twitch", Action: ActionDelete}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.Dispatch(context.Background(), tt.cmd); err == nil {
				t.Error("Dispatch() error = nil")
			}
		})
	}
	if _, err := d.Dispatch(context.Background(), Command{Platform: "twitch", Action: "purge"}); !errors.Is(err, ErrUnsupportedAction) {
		t.Errorf("error = %v, want ErrUnsupportedAction", err)
	}
	if _, err := d.Dispatch(context.Background(), Command{Platform: "twitch", Action: ActionBan}); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("error = %v, want ErrInvalidCommand", err)
	}
}
