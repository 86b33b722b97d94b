// Package statemachine implements the mower's finite-state machine: a
// validated transition table, an entry/exit/transition callback protocol,
// and a bounded append-only audit trail.
//
// Generalized from the teacher's per-PID isolation state machine
// (escalation.ProcessState): the same mutex-guarded "swap under lock,
// append history" shape, but driven by a fixed validity table instead of
// monotonic escalate/decay, and carrying a richer callback protocol.
package statemachine

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/acredsfan/mowercore/internal/mowererrors"
)

// State is the mower's operational state.
type State int

const (
	Initializing State = iota
	Idle
	Mowing
	Docking
	Manual
	Avoiding
	ReturningHome
	Docked
	Paused
	Error
	EmergencyStop
	Stuck
	LowBattery
	ShuttingDown
)

// Category classifies a state for dashboards and alerting.
type Category int

const (
	CategoryOperational Category = iota
	CategoryError
	CategorySpecial
)

var stateNames = map[State]string{
	Initializing:  "Initializing",
	Idle:          "Idle",
	Mowing:        "Mowing",
	Docking:       "Docking",
	Manual:        "Manual",
	Avoiding:      "Avoiding",
	ReturningHome: "ReturningHome",
	Docked:        "Docked",
	Paused:        "Paused",
	Error:         "Error",
	EmergencyStop: "EmergencyStop",
	Stuck:         "Stuck",
	LowBattery:    "LowBattery",
	ShuttingDown:  "ShuttingDown",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
}

// Category returns this state's alerting category.
func (s State) Category() Category {
	switch s {
	case Error, EmergencyStop, Stuck, LowBattery:
		return CategoryError
	case Initializing, ShuttingDown, Docking, Manual:
		return CategorySpecial
	default:
		return CategoryOperational
	}
}

// validTransitions is the fixed (from, to) validity table. EmergencyStop is
// handled separately below: it is reachable unconditionally from every
// state except ShuttingDown, so it is omitted from each state's entry here.
var validTransitions = map[State]map[State]bool{
	Initializing:  {Idle: true, Error: true},
	Idle:          {Mowing: true, Manual: true, Docking: true, Paused: true, Error: true, ShuttingDown: true},
	Mowing:        {Avoiding: true, Paused: true, ReturningHome: true, Docking: true, LowBattery: true, Error: true, Stuck: true},
	Docking:       {Docked: true, Error: true},
	Manual:        {Idle: true, Error: true},
	Avoiding:      {Mowing: true, ReturningHome: true, Stuck: true, Error: true},
	ReturningHome: {Docking: true, Avoiding: true, Error: true, Stuck: true},
	Docked:        {Idle: true, Error: true, ShuttingDown: true},
	Paused:        {Mowing: true, Idle: true, Error: true},
	Error:         {Idle: true, ShuttingDown: true},
	EmergencyStop: {Idle: true, ShuttingDown: true},
	Stuck:         {Idle: true, Error: true, ShuttingDown: true},
	LowBattery:    {ReturningHome: true, Docking: true, Idle: true, Error: true},
	ShuttingDown:  {},
}

// CanTransition reports whether from -> to is permitted by the validity
// table, with EmergencyStop's unconditional-reachability rule applied
// first: EmergencyStop is reachable from every state except ShuttingDown.
func CanTransition(from, to State) bool {
	if to == EmergencyStop {
		return from != ShuttingDown
	}
	return validTransitions[from][to]
}

// TransitionRecord is one append-only audit trail entry.
type TransitionRecord struct {
	Timestamp time.Time
	From      State
	To        State
	Context   map[string]any
}

// Callbacks groups the entry/exit/transition hooks a caller may register.
// OnExit runs before the state swaps and must not call TransitionTo.
// OnTransition runs before the swap, after OnExit.
// OnEntry runs after the swap and may publish an event but must not call
// TransitionTo.
type Callbacks struct {
	OnExit       func(from State, ctx map[string]any)
	OnTransition func(from, to State, ctx map[string]any)
	OnEntry      func(to State, ctx map[string]any)
}

// Machine owns the current state, the previous state, and a bounded
// transition history. All mutation goes through TransitionTo, which is the
// sole externally observable state mutation.
type Machine struct {
	mu          sync.Mutex
	current     State
	previous    State
	errorMsg    string
	history     []TransitionRecord
	historyCap  int
	historyHead int
	historyLen  int
	callbacks   Callbacks
	log         *zap.Logger
}

// New creates a Machine starting in Initializing, with a ring-buffer audit
// trail of the given capacity (spec requires capacity >= 100).
func New(auditTrailSize int, callbacks Callbacks, log *zap.Logger) *Machine {
	if auditTrailSize < 1 {
		auditTrailSize = 100
	}
	return &Machine{
		current:    Initializing,
		previous:   Initializing,
		history:    make([]TransitionRecord, auditTrailSize),
		historyCap: auditTrailSize,
		callbacks:  callbacks,
		log:        log,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Previous returns the state held immediately before the current one.
func (m *Machine) Previous() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.previous
}

// TransitionTo attempts to move the machine to target. ctx may be nil.
//
// On success, runs the callback protocol in order: OnExit, OnTransition,
// atomic state swap, OnEntry. On failure, returns *mowererrors.InvalidTransition
// and leaves state unchanged — no callbacks are invoked and no history
// record is appended.
func (m *Machine) TransitionTo(target State, ctx map[string]any) error {
	m.mu.Lock()

	from := m.current
	if !CanTransition(from, target) {
		m.mu.Unlock()
		return &mowererrors.InvalidTransition{From: from.String(), To: target.String()}
	}

	if m.callbacks.OnExit != nil {
		m.callbacks.OnExit(from, ctx)
	}
	if m.callbacks.OnTransition != nil {
		m.callbacks.OnTransition(from, target, ctx)
	}

	m.previous = from
	m.current = target
	m.appendHistory(TransitionRecord{Timestamp: time.Now(), From: from, To: target, Context: ctx})

	m.mu.Unlock()

	if m.callbacks.OnEntry != nil {
		m.callbacks.OnEntry(target, ctx)
	}

	if m.log != nil {
		m.log.Info("state transition",
			zap.String("from", from.String()),
			zap.String("to", target.String()))
	}

	return nil
}

// appendHistory writes into the ring buffer. Caller must hold m.mu.
func (m *Machine) appendHistory(rec TransitionRecord) {
	m.history[m.historyHead] = rec
	m.historyHead = (m.historyHead + 1) % m.historyCap
	if m.historyLen < m.historyCap {
		m.historyLen++
	}
}

// History returns the transition records in chronological order, oldest
// first. Its length is exactly min(published_count, capacity).
func (m *Machine) History() []TransitionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]TransitionRecord, m.historyLen)
	if m.historyLen < m.historyCap {
		copy(out, m.history[:m.historyLen])
		return out
	}
	start := m.historyHead
	for i := 0; i < m.historyCap; i++ {
		out[i] = m.history[(start+i)%m.historyCap]
	}
	return out
}

// SetErrorCondition records an error message and then requests a
// transition to Error, folding the message into the transition context.
// The two steps take the state lock separately, so they are not atomic,
// and the message stays recorded even if the transition is rejected.
func (m *Machine) SetErrorCondition(message string) error {
	m.mu.Lock()
	m.errorMsg = message
	m.mu.Unlock()
	return m.TransitionTo(Error, map[string]any{"error_message": message})
}

// ClearErrorCondition removes a recorded error message without transitioning.
func (m *Machine) ClearErrorCondition() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsg = ""
}

// ErrorMessage returns the last error message recorded by SetErrorCondition.
func (m *Machine) ErrorMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errorMsg
}
