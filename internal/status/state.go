package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/wppsync/internal/bus"
)

// EventStatusChanged is published on the bus after every transition.
const EventStatusChanged = "session.status_changed"

// State is a daemon runtime state.
type State string

const (
	Booting      State = "BOOTING"
	AuthRequired State = "AUTH_REQUIRED"
	Connecting   State = "CONNECTING"
	Syncing      State = "SYNCING"
	Ready        State = "READY"
	Reconnecting State = "RECONNECTING"
	Degraded     State = "DEGRADED"
	Stopping     State = "STOPPING"
	Error        State = "ERROR"
)

// Booting goes straight to Ready when only the broker source is enabled.
// Stopping is accepted from every state and left out of the table.
var edges = map[State][]State{
	Booting:      {AuthRequired, Connecting, Ready, Error},
	AuthRequired: {Connecting, Error},
	Connecting:   {Syncing, AuthRequired, Reconnecting, Error},
	Syncing:      {Ready, Reconnecting, Degraded, Error},
	Ready:        {Reconnecting, Degraded, AuthRequired, Error},
	Reconnecting: {Connecting, Degraded, Error},
	Degraded:     {Connecting, Reconnecting, Ready, Error},
	Error:        {Booting},
}

// Serving reports whether events are being applied while in s.
func (s State) Serving() bool {
	switch s {
	case Syncing, Ready, Degraded:
		return true
	}
	return false
}

func (s State) allows(to State) bool {
	if s == Stopping {
		return false
	}
	return to == Stopping || slices.Contains(edges[s], to)
}

// TransitionError reports a rejected transition.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// StatusChange is the payload of EventStatusChanged.
type StatusChange struct {
	From State
	To   State
}

// Machine holds the current state and publishes every change.
type Machine struct {
	bus *bus.Bus

	mu      sync.RWMutex
	current State
	since   time.Time
}

// NewMachine returns a machine in Booting. b may be nil.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{bus: b, current: Booting, since: time.Now()}
}

func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Transition moves the machine to `to` or returns a *TransitionError and
// leaves it unchanged.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.current
	if !from.allows(to) {
		return &TransitionError{From: from, To: to}
	}
	m.current, m.since = to, time.Now()

	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      EventStatusChanged,
			Timestamp: m.since,
			Payload:   StatusChange{From: from, To: to},
		})
	}
	return nil
}
