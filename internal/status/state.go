// Package status tracks the daemon's session lifecycle state.
package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"wesim/internal/bus"
)

// State is a daemon session state.
type State string

const (
	Booting   State = "BOOTING"
	LoggedOut State = "LOGGED_OUT"
	Active    State = "ACTIVE"
	Error     State = "ERROR"
)

var validTransitions = map[State][]State{
	Booting:   {LoggedOut, Active, Error},
	LoggedOut: {Active, Error},
	Active:    {LoggedOut, Error},
	Error:     {Booting},
}

// Machine enforces session state transitions and announces them on the bus.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine starting in Booting.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Booting, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to a new state or errors if the move is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStatusChanged,
			Timestamp: time.Now(),
			Payload:   Change{From: from, To: to},
		})
	}
	return nil
}

// Change is the payload for status change events.
type Change struct {
	From State `json:"from"`
	To   State `json:"to"`
}
