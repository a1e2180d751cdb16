// Package fsm implements the retrying state machine shared by every
// interaction protocol. Admissibility and the current state live in a
// looplab/fsm instance; retries, timeouts and listeners are layered on top.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Classroom/internal/clock"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/observer"
	lfsm "github.com/looplab/fsm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRetryInterval = 5 * time.Second
	DefaultRetryLimit    = 11
)

var ErrProtocolViolation = errors.New("protocol violation")

// ViolationError names the state that refused an event.
type ViolationError struct {
	Machine string
	State   State
	Event   Event
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("%s: event %q is not admissible in state %q", e.Machine, e.Event, e.State)
}

func (e *ViolationError) Unwrap() error { return ErrProtocolViolation }

// Payload is delivered to listeners. Failed, Reason and Body are copied
// from the caller of Transition on resolving and resetting events.
type Payload struct {
	Event      Event
	From       State
	State      State
	RetryCount int
	Failed     bool
	Reason     domain.RejectReason
	Body       domain.Body
}

type Listener func(Payload)

type Option func(*Machine)

func WithClock(c clock.Clock) Option { return func(m *Machine) { m.clock = c } }

func WithRetryInterval(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithRetryLimit(n int) Option {
	return func(m *Machine) {
		if n >= 0 {
			m.limit = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option { return func(m *Machine) { m.log = l } }

// Machine is safe for concurrent use. Listeners run outside the machine
// lock and see payloads in the order transitions were applied. One goroutine
// drains at a time: a transition that lands while another goroutine is
// emitting, or from inside a listener, is emitted by that drainer after the
// current listener returns.
type Machine struct {
	def      Definition
	effects  map[Event]Effect
	clock    clock.Clock
	interval time.Duration
	limit    int
	log      zerolog.Logger

	mu    sync.Mutex
	fsm   *lfsm.FSM
	count int
	timer clock.Timer
	gen   uint64

	pending  []Payload
	draining bool

	listeners observer.Emitter[Event, Payload]
}

func New(def Definition, opts ...Option) *Machine {
	m := &Machine{
		def:      def,
		effects:  make(map[Event]Effect, len(def.Rules)),
		clock:    clock.Real(),
		interval: DefaultRetryInterval,
		limit:    DefaultRetryLimit,
		log:      log.With().Str("module", "app.fsm").Logger(),
	}
	for _, o := range opts {
		o(m)
	}

	events := make(lfsm.Events, 0, len(def.Rules))
	for _, r := range def.Rules {
		src := make([]string, len(r.Src))
		for i, s := range r.Src {
			src[i] = string(s)
		}
		events = append(events, lfsm.EventDesc{Name: string(r.Event), Src: src, Dst: string(r.Dst)})
		m.effects[r.Event] = r.Effect
	}
	m.fsm = lfsm.NewFSM(string(def.Initial), events, lfsm.Callbacks{})
	return m
}

func (m *Machine) Name() string { return m.def.Name }

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State(m.fsm.Current())
}

func (m *Machine) Is(s State) bool { return m.State() == s }

func (m *Machine) RetryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

func (m *Machine) RetryLimit() int { return m.limit }

func (m *Machine) RetryInterval() time.Duration { return m.interval }

// Can reports whether ev is admissible from the current state.
func (m *Machine) Can(ev Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.effects[ev]; !ok {
		return false
	}
	return m.fsm.Can(string(ev))
}

func (m *Machine) On(ev Event, fn Listener) observer.ListenerID {
	return m.listeners.On(ev, fn)
}

func (m *Machine) Once(ev Event, fn Listener) observer.ListenerID {
	return m.listeners.Once(ev, fn)
}

func (m *Machine) Off(ev Event, id observer.ListenerID) bool {
	return m.listeners.Off(ev, id)
}

// Transition drives ev with the caller's payload. An inadmissible event
// returns a *ViolationError and leaves the machine untouched.
func (m *Machine) Transition(ev Event, p Payload) error {
	m.mu.Lock()
	out, err := m.applyLocked(ev, p)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.pending = append(m.pending, out...)
	m.drainLocked()
	return nil
}

// Stop clears the timer and drops every listener without emitting.
func (m *Machine) Stop() {
	m.mu.Lock()
	m.clearTimerLocked()
	m.count = 0
	m.pending = nil
	m.mu.Unlock()
	m.listeners.Clear()
}

func (m *Machine) applyLocked(ev Event, p Payload) ([]Payload, error) {
	from := State(m.fsm.Current())
	effect, ok := m.effects[ev]
	if !ok {
		return nil, &ViolationError{Machine: m.def.Name, State: from, Event: ev}
	}
	if err := m.fsm.Event(context.Background(), string(ev)); err != nil {
		var same lfsm.NoTransitionError
		if !errors.As(err, &same) {
			return nil, &ViolationError{Machine: m.def.Name, State: from, Event: ev}
		}
	}
	to := State(m.fsm.Current())

	var out []Payload
	switch effect {
	case EffectSend:
		m.count = 0
		m.armTimerLocked()
		out = []Payload{{Event: EventSend}}
	case EffectRetry:
		m.count++
		m.armTimerLocked()
		out = []Payload{{Event: EventSend}, {Event: EventRetry}}
	case EffectResolve, EffectReset:
		m.clearTimerLocked()
		m.count = 0
		out = []Payload{{Event: ev, Failed: p.Failed, Reason: p.Reason, Body: p.Body}}
	}
	for i := range out {
		out[i].From = from
		out[i].State = to
		out[i].RetryCount = m.count
	}

	m.log.Debug().
		Str("machine", m.def.Name).
		Str("event", string(ev)).
		Str("from", string(from)).
		Str("to", string(to)).
		Int("retry", m.count).
		Msg("transition")
	return out, nil
}

func (m *Machine) armTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.gen++
	gen := m.gen
	m.timer = m.clock.AfterFunc(m.interval, func() { m.onTimer(gen) })
}

func (m *Machine) clearTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
}

func (m *Machine) onTimer(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.timer == nil {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	ev := EventTimeout
	if m.count < m.limit {
		ev = EventRetry
	}
	out, err := m.applyLocked(ev, Payload{})
	if err != nil {
		m.mu.Unlock()
		m.log.Warn().Err(err).Str("machine", m.def.Name).Msg("timer fired into a settled machine")
		return
	}
	m.pending = append(m.pending, out...)
	m.drainLocked()
}

// drainLocked is entered with m.mu held and returns with it released.
func (m *Machine) drainLocked() {
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	for len(m.pending) > 0 {
		p := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()
		m.listeners.Emit(p.Event, p)
		m.mu.Lock()
	}
	m.draining = false
	m.mu.Unlock()
}
