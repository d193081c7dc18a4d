package lock

import (
	"context"
	"errors"
	"testing"

	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/device"
)

type MockLink struct {
	SendFunc func(ctx context.Context, cmd string) (string, error)
	Sent     []string
}

func (m *MockLink) Send(ctx context.Context, cmd string) (string, error) {
	m.Sent = append(m.Sent, cmd)
	if m.SendFunc != nil {
		return m.SendFunc(ctx, cmd)
	}
	return "OK", nil
}

func (m *MockLink) Close() error { return nil }
func (m *MockLink) Name() string { return "mock" }

func TestController_OneCommandPerTransition(t *testing.T) {
	link := &MockLink{}
	c := NewController(link)
	ctx := context.Background()

	if _, known := c.State(); known {
		t.Fatal("state should be unknown before the first command")
	}

	sequence := []State{Locked, Locked, Unlocked, Unlocked, Unlocked, Locked, Unlocked}
	for _, target := range sequence {
		if _, err := c.Apply(ctx, target); err != nil {
			t.Fatalf("Apply(%s) failed: %v", target, err)
		}
	}

	want := []string{"lock_on", "lock_off", "lock_on", "lock_off"}
	if len(link.Sent) != len(want) {
		t.Fatalf("expected %v, got %v", want, link.Sent)
	}
	for i := range want {
		if link.Sent[i] != want[i] {
			t.Errorf("command %d: expected %s, got %s", i, want[i], link.Sent[i])
		}
	}

	state, known := c.State()
	if !known || state != Unlocked {
		t.Errorf("expected known unlocked state, got %s/%v", state, known)
	}
}

func TestController_StateAdvancesOnlyOnAck(t *testing.T) {
	failing := true
	link := &MockLink{SendFunc: func(ctx context.Context, cmd string) (string, error) {
		if failing {
			return "", device.ErrTimeout
		}
		return "OK", nil
	}}
	c := NewController(link)
	ctx := context.Background()

	sent, err := c.Apply(ctx, Unlocked)
	if !sent || !errors.Is(err, device.ErrTimeout) {
		t.Fatalf("expected sent with timeout, got %v %v", sent, err)
	}
	if _, known := c.State(); known {
		t.Error("unacknowledged command must not set the state")
	}

	// the same decision is retried next cycle
	failing = false
	sent, err = c.Apply(ctx, Unlocked)
	if !sent || err != nil {
		t.Fatalf("expected retry to succeed, got %v %v", sent, err)
	}
	if len(link.Sent) != 2 {
		t.Errorf("expected 2 sends, got %v", link.Sent)
	}

	sent, _ = c.Apply(ctx, Unlocked)
	if sent {
		t.Error("no command expected once the state is acknowledged")
	}
}

func TestController_ExtraTransitions(t *testing.T) {
	tests := []struct {
		name    string
		call    func(*Controller, context.Context) error
		command string
		state   State
	}{
		{"unlock courtesy", (*Controller).Unlock, "unlock", Unlocked},
		{"reset", (*Controller).Reset, "reset", Locked},
		{"secure", (*Controller).Secure, "lock", Locked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link := &MockLink{}
			c := NewController(link)

			if err := tt.call(c, context.Background()); err != nil {
				t.Fatalf("call failed: %v", err)
			}
			if len(link.Sent) != 1 || link.Sent[0] != tt.command {
				t.Errorf("expected %s, got %v", tt.command, link.Sent)
			}
			state, known := c.State()
			if !known || state != tt.state {
				t.Errorf("expected %s, got %s/%v", tt.state, state, known)
			}
		})
	}
}

func TestController_ResetFailureKeepsState(t *testing.T) {
	link := &MockLink{}
	c := NewController(link)
	ctx := context.Background()

	if err := c.Unlock(ctx); err != nil {
		t.Fatal(err)
	}

	link.SendFunc = func(context.Context, string) (string, error) { return "", device.ErrDisconnected }
	if err := c.Reset(ctx); !errors.Is(err, device.ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
	if state, _ := c.State(); state != Unlocked {
		t.Errorf("state must stay unlocked without ack, got %s", state)
	}
}

func TestState_String(t *testing.T) {
	if Locked.String() != "locked" || Unlocked.String() != "unlocked" {
		t.Error("unexpected state names")
	}
}
