// Package fsm holds the appliance state machine: one current state, ordered callback tables, and
// serialized transitions.
package fsm

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// State is one of the fixed device modes.
type State string

const (
	StateSleeping   State = "sleeping"
	StateListening  State = "listening"
	StateRecording  State = "recording"
	StatePlaying    State = "playing"
	StateProcessing State = "processing"
)

// States lists every device mode in declaration order.
var States = []State{StateSleeping, StateListening, StateRecording, StatePlaying, StateProcessing}

// Transition is the (from, to) lookup key for transition callbacks.
type Transition struct {
	From State
	To   State
}

func (t Transition) String() string {
	from := t.From
	if from == "" {
		from = "unstarted"
	}
	return fmt.Sprintf("%s->%s", from, t.To)
}

// EntryFunc runs after the machine enters a state.
type EntryFunc func(Context) error

// TransitionFunc runs before the state value changes for one (from, to) pair.
type TransitionFunc func(from, to State, ctx Context) error

// Machine is a generic callback dispatcher. It does not validate which transitions are legal.
type Machine struct {
	logger *slog.Logger

	// transitionMu serializes whole transitions, callbacks included.
	transitionMu sync.Mutex

	stateMu     sync.RWMutex
	state       State
	running     bool
	transitions uint64

	callbacksMu sync.RWMutex
	entry       map[State][]EntryFunc
	onChange    map[Transition][]TransitionFunc
}

// New constructs an unstarted machine.
func New(logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Machine{
		logger:   logger,
		entry:    make(map[State][]EntryFunc),
		onChange: make(map[Transition][]TransitionFunc),
	}
}

// RegisterStateCallback appends fn to the entry callbacks for state.
func (m *Machine) RegisterStateCallback(state State, fn EntryFunc) {
	if fn == nil {
		return
	}
	m.callbacksMu.Lock()
	defer m.callbacksMu.Unlock()
	m.entry[state] = append(m.entry[state], fn)
}

// RegisterTransitionCallback appends fn to the callbacks for the from->to transition.
func (m *Machine) RegisterTransitionCallback(from, to State, fn TransitionFunc) {
	if fn == nil {
		return
	}
	m.callbacksMu.Lock()
	defer m.callbacksMu.Unlock()
	key := Transition{From: from, To: to}
	m.onChange[key] = append(m.onChange[key], fn)
}

// State returns the current state snapshot. It never waits on callback dispatch.
func (m *Machine) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// Running reports whether Start has run and Stop has not.
func (m *Machine) Running() bool {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.running
}

// Transitions returns the number of completed transitions since construction.
func (m *Machine) Transitions() uint64 {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.transitions
}

// Start marks the machine running and performs the initial transition into sleeping.
func (m *Machine) Start() {
	m.stateMu.Lock()
	m.running = true
	m.stateMu.Unlock()

	m.logger.Info("state machine started")
	m.TransitionTo(StateSleeping, Context{})
}

// Stop marks the machine inactive. In-flight callbacks finish; later transitions are ignored.
func (m *Machine) Stop() {
	m.stateMu.Lock()
	m.running = false
	m.stateMu.Unlock()

	m.logger.Info("state machine stopped")
}

// TransitionTo moves the machine to next. It reports false when next is already current or the
// machine is not running; no callbacks run in that case.
func (m *Machine) TransitionTo(next State, ctx Context) bool {
	m.transitionMu.Lock()
	defer m.transitionMu.Unlock()

	m.stateMu.RLock()
	current, running := m.state, m.running
	m.stateMu.RUnlock()

	if !running {
		m.logger.Debug("transition ignored; machine not running", "to", next)
		return false
	}
	if current == next {
		return false
	}

	key := Transition{From: current, To: next}
	m.logger.Info("state transition", "transition", key.String(), "context", ctx.String())

	for i, fn := range m.transitionCallbacks(key) {
		m.invoke(fmt.Sprintf("transition %s callback %d", key, i), func() error {
			return fn(current, next, ctx)
		})
	}

	m.stateMu.Lock()
	m.state = next
	m.transitions++
	m.stateMu.Unlock()

	for i, fn := range m.entryCallbacks(next) {
		m.invoke(fmt.Sprintf("entry %s callback %d", next, i), func() error {
			return fn(ctx)
		})
	}

	return true
}

// transitionCallbacks snapshots the callbacks registered for key.
func (m *Machine) transitionCallbacks(key Transition) []TransitionFunc {
	m.callbacksMu.RLock()
	defer m.callbacksMu.RUnlock()
	return append([]TransitionFunc(nil), m.onChange[key]...)
}

// entryCallbacks snapshots the callbacks registered for state.
func (m *Machine) entryCallbacks(state State) []EntryFunc {
	m.callbacksMu.RLock()
	defer m.callbacksMu.RUnlock()
	return append([]EntryFunc(nil), m.entry[state]...)
}

// invoke runs one callback, logging returned errors and recovered panics.
func (m *Machine) invoke(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("state callback panicked", "callback", name, "panic", fmt.Sprint(r))
		}
	}()
	if err := fn(); err != nil {
		m.logger.Error("state callback failed", "callback", name, "error", err.Error())
	}
}
