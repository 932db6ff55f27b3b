package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/shopchat/internal/bus"
)

// State is the lifecycle state of a chat session.
type State string

const (
	Idle    State = "IDLE"
	Loading State = "LOADING"
	Live    State = "LIVE"
	Closed  State = "CLOSED"
)

// KindLifecycleChanged is published on every successful transition.
const KindLifecycleChanged = "chat.lifecycle_changed"

// validTransitions defines allowed state transitions. Closed is terminal.
var validTransitions = map[State][]State{
	Idle:    {Loading, Closed},
	Loading: {Live, Closed},
	Live:    {Closed},
}

// Machine tracks and enforces session lifecycle transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
	subject string
}

// NewMachine creates a machine in Idle. Transitions are published on b with
// subject as the event subject; b may be nil.
func NewMachine(b *bus.Bus, subject string) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
		subject: subject,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Publish(bus.Event{
		Kind:    KindLifecycleChanged,
		Subject: m.subject,
		Payload: Change{Key: m.subject, From: from, To: to},
	})
	return nil
}

// Change is the payload for lifecycle change events.
type Change struct {
	Key  string
	From State
	To   State
}
