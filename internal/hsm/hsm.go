// Package hsm implements a small hierarchical state machine engine with
// run-to-completion event dispatch. States form a tree; events bubble from
// the current state toward the root until a handler consumes them or
// requests a transition. A machine owns a FIFO event queue that is safe to
// post to from any goroutine and is drained by a single dispatch loop, so
// handlers never run concurrently.
package hsm

import (
	"context"
	"log/slog"
	"sync"
)

// Signal identifies an event kind. Values below SigUser are reserved for
// the engine's entry/exit/init pseudo-events.
type Signal uint32

const (
	SigNone Signal = iota
	SigEntry
	SigExit
	SigInit

	// SigUser is the first signal available to machine authors.
	SigUser
)

// Event pairs a signal with an optional payload.
type Event struct {
	Sig  Signal
	Data any
}

type outcomeKind int

const (
	outcomeHandled outcomeKind = iota
	outcomeSuper
	outcomeTran
)

// Outcome is the result of a state handler: the event was consumed, should
// bubble to the parent state, or triggers a transition.
type Outcome struct {
	kind   outcomeKind
	target *State
}

func Handled() Outcome { return Outcome{kind: outcomeHandled} }

func Super() Outcome { return Outcome{kind: outcomeSuper} }

func Tran(target *State) Outcome { return Outcome{kind: outcomeTran, target: target} }

// HandlerFunc processes one event for one state. Entry and exit handlers
// must not request transitions; only init and regular events may.
type HandlerFunc func(e Event) Outcome

// State is a node in the state hierarchy. A nil parent marks a root state.
type State struct {
	name    string
	parent  *State
	handler HandlerFunc
}

func NewState(name string, parent *State, handler HandlerFunc) *State {
	return &State{name: name, parent: parent, handler: handler}
}

func (s *State) Name() string {
	if s == nil {
		return "<none>"
	}

	return s.name
}

// Machine dispatches events to a state tree. All dispatch happens on the
// goroutine calling Step or Run; Post is safe from anywhere.
type Machine struct {
	name   string
	logger *slog.Logger

	current *State

	mu     sync.Mutex
	queue  []Event
	halted bool
	wake   chan struct{}
}

func New(name string, logger *slog.Logger) *Machine {
	return &Machine{
		name:   name,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

func (m *Machine) Current() *State {
	return m.current
}

// Init performs the initial transition: entry handlers from the root down
// to the given state, then the init drill-down. Must be called before the
// first Step or Run, on the dispatch goroutine.
func (m *Machine) Init(initial *State) {
	var path []*State
	for s := initial; s != nil; s = s.parent {
		path = append(path, s)
	}
	for i := len(path) - 1; i >= 0; i-- {
		path[i].handler(Event{Sig: SigEntry})
	}
	m.current = initial
	m.logger.Debug("initial state", "machine", m.name, "state", initial.Name())
	m.drillInit()
}

// Post appends an event to the queue. Events posted by handlers during
// dispatch land behind already-pending ones, which is what gives multi-pass
// work (posting a reminder to self) its cooperative yield.
func (m *Machine) Post(e Event) {
	m.mu.Lock()
	if m.halted {
		m.mu.Unlock()

		return
	}
	m.queue = append(m.queue, e)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Halt stops event intake and makes Run return after the current event
// completes. Pending events are discarded.
func (m *Machine) Halt() {
	m.mu.Lock()
	m.halted = true
	m.queue = nil
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Machine) Halted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.halted
}

// Step dispatches the oldest queued event to completion. It reports whether
// an event was processed.
func (m *Machine) Step() bool {
	e, ok := m.take()
	if !ok {
		return false
	}
	m.dispatch(e)

	return true
}

// Run drains the queue until the context is cancelled or the machine halts.
func (m *Machine) Run(ctx context.Context) {
	for {
		if m.Halted() {
			return
		}
		if m.Step() {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		}
	}
}

func (m *Machine) take() (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return Event{}, false
	}
	e := m.queue[0]
	m.queue = m.queue[1:]

	return e, true
}

func (m *Machine) removeQueued(sig Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.queue[:0]
	for _, e := range m.queue {
		if e.Sig != sig {
			kept = append(kept, e)
		}
	}
	m.queue = kept
}

func (m *Machine) dispatch(e Event) {
	for s := m.current; s != nil; s = s.parent {
		switch out := s.handler(e); out.kind {
		case outcomeHandled:
			return
		case outcomeTran:
			m.transition(s, out.target)

			return
		case outcomeSuper:
		}
	}
	m.logger.Debug("event unhandled", "machine", m.name, "state", m.current.Name(), "signal", e.Sig)
}

// transition runs the exit/entry sequence from the state whose handler
// requested the transition (src) to the target, via their least common
// ancestor. A self-transition exits and re-enters the state.
func (m *Machine) transition(src, target *State) {
	from := m.current

	for s := m.current; s != src; s = s.parent {
		s.handler(Event{Sig: SigExit})
	}

	lca := commonAncestor(src, target)
	if src == target {
		lca = src.parent
	}
	for s := src; s != lca; s = s.parent {
		s.handler(Event{Sig: SigExit})
	}

	var path []*State
	for s := target; s != lca; s = s.parent {
		path = append(path, s)
	}
	for i := len(path) - 1; i >= 0; i-- {
		path[i].handler(Event{Sig: SigEntry})
	}
	m.current = target

	m.logger.Debug("transition", "machine", m.name, "from", from.Name(), "to", target.Name())
	m.drillInit()
}

// drillInit lets composite states hand control to a child via SigInit until
// a leaf declines.
func (m *Machine) drillInit() {
	for {
		out := m.current.handler(Event{Sig: SigInit})
		if out.kind != outcomeTran {
			return
		}
		var path []*State
		for s := out.target; s != m.current; s = s.parent {
			path = append(path, s)
		}
		for i := len(path) - 1; i >= 0; i-- {
			path[i].handler(Event{Sig: SigEntry})
		}
		m.current = out.target
		m.logger.Debug("init", "machine", m.name, "state", m.current.Name())
	}
}

func commonAncestor(a, b *State) *State {
	seen := map[*State]bool{}
	for s := a; s != nil; s = s.parent {
		seen[s] = true
	}
	for s := b; s != nil; s = s.parent {
		if seen[s] {
			return s
		}
	}

	return nil
}
