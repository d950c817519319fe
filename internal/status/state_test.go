package status

import (
	"errors"
	"testing"

	"github.com/matheus3301/wppsync/internal/bus"
)

func TestNewMachineBoots(t *testing.T) {
	if s := NewMachine(nil).Current(); s != Booting {
		t.Errorf("initial state = %s, want %s", s, Booting)
	}
}

func TestLifecyclePaths(t *testing.T) {
	tests := []struct {
		name string
		path []State
	}{
		{"first pairing", []State{AuthRequired, Connecting, Syncing, Ready}},
		{"stored credentials", []State{Connecting, Syncing, Ready}},
		{"broker only", []State{Ready}},
		{"reconnect", []State{Connecting, Syncing, Ready, Reconnecting, Connecting, Syncing, Ready}},
		{"logout while ready", []State{Connecting, Syncing, Ready, AuthRequired, Connecting}},
		{"degraded recovers", []State{Connecting, Syncing, Degraded, Ready}},
		{"reboot after error", []State{Error, Booting, Connecting}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(nil)
			for _, s := range tt.path {
				if err := m.Transition(s); err != nil {
					t.Fatalf("%s -> %s: %v", m.Current(), s, err)
				}
			}
			if want := tt.path[len(tt.path)-1]; m.Current() != want {
				t.Errorf("state = %s, want %s", m.Current(), want)
			}
		})
	}
}

func TestRejectedTransitionKeepsState(t *testing.T) {
	tests := []struct {
		path []State
		to   State
	}{
		{nil, Syncing},
		{[]State{AuthRequired}, Syncing},
		{[]State{AuthRequired}, Ready},
		{[]State{Connecting, Syncing}, Connecting},
		{[]State{Error}, Ready},
	}
	for _, tt := range tests {
		m := NewMachine(nil)
		for _, s := range tt.path {
			if err := m.Transition(s); err != nil {
				t.Fatal(err)
			}
		}
		from := m.Current()

		err := m.Transition(tt.to)
		var te *TransitionError
		if !errors.As(err, &te) {
			t.Errorf("%s -> %s: err = %v, want *TransitionError", from, tt.to, err)
			continue
		}
		if te.From != from || te.To != tt.to {
			t.Errorf("error = %+v", te)
		}
		if m.Current() != from {
			t.Errorf("state moved to %s after rejected transition", m.Current())
		}
	}
}

func TestStoppingFromAnyStateIsTerminal(t *testing.T) {
	for _, path := range [][]State{nil, {AuthRequired}, {Connecting, Syncing}, {Error}} {
		m := NewMachine(nil)
		for _, s := range path {
			_ = m.Transition(s)
		}
		before := m.Since()
		if err := m.Transition(Stopping); err != nil {
			t.Fatalf("%s -> STOPPING: %v", m.Current(), err)
		}
		if m.Since().Before(before) {
			t.Error("Since went backwards")
		}
		for _, s := range []State{Booting, Connecting, Ready, Error, Stopping} {
			if err := m.Transition(s); err == nil {
				t.Errorf("STOPPING -> %s accepted", s)
			}
		}
	}
}

func TestServing(t *testing.T) {
	serving := map[State]bool{Syncing: true, Ready: true, Degraded: true}
	for _, s := range []State{Booting, AuthRequired, Connecting, Syncing, Ready, Reconnecting, Degraded, Stopping, Error} {
		if s.Serving() != serving[s] {
			t.Errorf("%s.Serving() = %v", s, s.Serving())
		}
	}
}

func TestTransitionPublishesChange(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(EventStatusChanged, 4)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Ready); err != nil {
		t.Fatal(err)
	}
	_ = m.Transition(Syncing) // rejected, publishes nothing

	evt := <-ch
	got, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload = %T", evt.Payload)
	}
	if got != (StatusChange{From: Booting, To: Ready}) {
		t.Errorf("change = %+v", got)
	}
	if !evt.Timestamp.Equal(m.Since()) {
		t.Error("event timestamp should match Since")
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected event %+v", extra.Payload)
	default:
	}
}
