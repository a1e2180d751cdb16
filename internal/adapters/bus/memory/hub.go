// Package memory is an in-process message bus. Every endpoint delivers on
// its own goroutine, and the hub can drop or duplicate messages to exercise
// the at-least-once paths.
package memory

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultInboxSize = 256

var (
	ErrUnreachable = errors.New("memory bus: destination not joined")
	ErrClosed      = errors.New("memory bus: endpoint closed")
)

// Faults are per-delivery probabilities in [0, 1]. DropFirst discards the
// first n deliveries regardless of the probabilities.
type Faults struct {
	Drop      float64
	Duplicate float64
	DropFirst int
}

type Option func(*Hub)

func WithFaults(f Faults, seed uint64) Option {
	return func(h *Hub) {
		h.faults = f
		h.rnd = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

func WithInboxSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.inboxSize = n
		}
	}
}

type Hub struct {
	inboxSize int
	faults    Faults
	delivered atomic.Int64

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu    sync.RWMutex
	peers map[domain.UserID]*Endpoint
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{inboxSize: DefaultInboxSize, peers: make(map[domain.UserID]*Endpoint)}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Join registers id and returns its endpoint. Joining twice replaces and
// closes the earlier endpoint.
func (h *Hub) Join(id domain.UserID) *Endpoint {
	e := &Endpoint{
		hub:   h,
		id:    id,
		inbox: make(chan core.Message, h.inboxSize),
		done:  make(chan struct{}),
	}
	h.mu.Lock()
	old := h.peers[id]
	h.peers[id] = e
	h.mu.Unlock()
	if old != nil {
		old.close(false)
	}
	go e.deliverLoop()
	return e
}

func (h *Hub) Members() []domain.UserID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.UserID, 0, len(h.peers))
	for id := range h.peers {
		out = append(out, id)
	}
	return out
}

func (h *Hub) leave(e *Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.peers[e.id] == e {
		delete(h.peers, e.id)
	}
}

func (h *Hub) roll(p float64) bool {
	if p <= 0 || h.rnd == nil {
		return false
	}
	h.rndMu.Lock()
	defer h.rndMu.Unlock()
	return h.rnd.Float64() < p
}

func (h *Hub) route(msg core.Message) error {
	h.mu.RLock()
	var targets []*Endpoint
	if msg.To == core.Broadcast {
		for id, e := range h.peers {
			if id != msg.From {
				targets = append(targets, e)
			}
		}
	} else if e, ok := h.peers[msg.To]; ok {
		targets = append(targets, e)
	}
	h.mu.RUnlock()

	if msg.To != core.Broadcast && len(targets) == 0 {
		return ErrUnreachable
	}
	for _, e := range targets {
		if n := h.delivered.Add(1); n <= int64(h.faults.DropFirst) || h.roll(h.faults.Drop) {
			log.Debug().Str("module", "bus.memory").Str("type", string(msg.Type)).Str("to", string(e.id)).Msg("fault: dropped")
			continue
		}
		copies := 1
		if h.roll(h.faults.Duplicate) {
			copies = 2
		}
		for range copies {
			e.enqueue(msg)
		}
	}
	return nil
}

// Endpoint is one participant's view of the hub. It implements core.Bus.
type Endpoint struct {
	hub   *Hub
	id    domain.UserID
	inbox chan core.Message

	mu      sync.RWMutex
	handler func(core.Message)

	closeOnce sync.Once
	done      chan struct{}
}

func (e *Endpoint) ID() domain.UserID { return e.id }

func (e *Endpoint) Send(ctx context.Context, msg core.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-e.done:
		return ErrClosed
	default:
	}
	msg.From = e.id
	return e.hub.route(msg)
}

func (e *Endpoint) Subscribe(handler func(core.Message)) {
	e.mu.Lock()
	e.handler = handler
	e.mu.Unlock()
}

func (e *Endpoint) Close() { e.close(true) }

func (e *Endpoint) close(leave bool) {
	e.closeOnce.Do(func() {
		close(e.done)
		if leave {
			e.hub.leave(e)
		}
	})
}

func (e *Endpoint) enqueue(msg core.Message) {
	select {
	case e.inbox <- msg:
	default:
		log.Warn().Str("module", "bus.memory").Str("to", string(e.id)).Str("type", string(msg.Type)).Msg("inbox full, message dropped")
	}
}

func (e *Endpoint) deliverLoop() {
	for {
		select {
		case <-e.done:
			return
		case msg := <-e.inbox:
			e.mu.RLock()
			h := e.handler
			e.mu.RUnlock()
			if h == nil {
				log.Debug().Str("module", "bus.memory").Str("to", string(e.id)).Msg("no subscriber, message dropped")
				continue
			}
			h(msg)
		}
	}
}

var _ core.Bus = (*Endpoint)(nil)
