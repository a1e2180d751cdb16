package app

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Classroom/internal/app/fsm"
	"github.com/dkeye/Classroom/internal/clock"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
)

const (
	DefaultExpiredTTL      = 10 * time.Minute
	DefaultExpiredCapacity = 4096
)

var ErrSessionConflict = errors.New("session already active")

// Session correlates one protocol exchange with one remote user.
type Session struct {
	ID        domain.SessionID
	Remote    domain.UserID
	Protocol  domain.Protocol
	Machine   *fsm.Machine
	CreatedAt time.Time
}

type sessionKey struct {
	remote   domain.UserID
	protocol domain.Protocol
}

type RegistryOption func(*Registry)

func WithRegistryClock(c clock.Clock) RegistryOption {
	return func(r *Registry) { r.clock = c }
}

// WithExpiredWindow bounds how long and how many terminal ids are
// remembered.
func WithExpiredWindow(ttl time.Duration, capacity int) RegistryOption {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
		if capacity > 0 {
			r.capacity = capacity
		}
	}
}

// Registry is the per-orchestrator table of in-flight sessions plus the
// window of expired session ids.
type Registry struct {
	clock    clock.Clock
	ttl      time.Duration
	capacity int

	mu    sync.RWMutex
	last  int64
	byID  map[domain.SessionID]*Session
	byKey map[sessionKey]domain.SessionID

	expired *expirable.LRU[expiredKey, struct{}]
}

// expiredKey scopes an id to the remote that generated or received it.
// Ids are only unique per sender.
type expiredKey struct {
	remote domain.UserID
	id     domain.SessionID
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		clock:    clock.Real(),
		ttl:      DefaultExpiredTTL,
		capacity: DefaultExpiredCapacity,
		byID:     make(map[domain.SessionID]*Session),
		byKey:    make(map[sessionKey]domain.SessionID),
	}
	for _, o := range opts {
		o(r)
	}
	r.expired = expirable.NewLRU[expiredKey, struct{}](r.capacity, nil, r.ttl)
	return r
}

// NewSessionID returns "<millis>_<protocol>". Ids handed out by one
// registry never repeat, even within a millisecond.
func (r *Registry) NewSessionID(p domain.Protocol) domain.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms := r.clock.Now().UnixMilli()
	if ms <= r.last {
		ms = r.last + 1
	}
	r.last = ms
	return domain.SessionID(strconv.FormatInt(ms, 10) + "_" + string(p))
}

// ProtocolOf extracts the protocol suffix of a generated id.
func ProtocolOf(id domain.SessionID) (domain.Protocol, bool) {
	ms, p, ok := strings.Cut(string(id), "_")
	if !ok || p == "" {
		return "", false
	}
	if _, err := strconv.ParseInt(ms, 10, 64); err != nil {
		return "", false
	}
	return domain.Protocol(p), true
}

// Insert registers s. It fails if s.ID is taken or another session is
// active for the same remote and protocol.
func (r *Registry) Insert(s *Session) error {
	k := sessionKey{s.Remote, s.Protocol}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[s.ID]; ok {
		return fmt.Errorf("%w: id %s", ErrSessionConflict, s.ID)
	}
	if id, ok := r.byKey[k]; ok {
		return fmt.Errorf("%w: %s with %s (%s)", ErrSessionConflict, s.Protocol, s.Remote, id)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = r.clock.Now()
	}
	r.byID[s.ID] = s
	r.byKey[k] = s.ID
	log.Info().Str("module", "app.registry").Str("session", string(s.ID)).Str("remote", string(s.Remote)).Msg("session added")
	return nil
}

func (r *Registry) Get(id domain.SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// Find returns the active session with remote for protocol p.
func (r *Registry) Find(remote domain.UserID, p domain.Protocol) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[sessionKey{remote, p}]
	if !ok {
		return nil, false
	}
	return r.byID[id], true
}

// Remove drops the session and stops its machine.
func (r *Registry) Remove(id domain.SessionID) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		delete(r.byKey, sessionKey{s.Remote, s.Protocol})
	}
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	s.Machine.Stop()
	log.Info().Str("module", "app.registry").Str("session", string(id)).Msg("session removed")
	return s, true
}

// Expire remembers id, as exchanged with remote, as settled so later
// messages for it are dropped.
func (r *Registry) Expire(remote domain.UserID, id domain.SessionID) {
	if id == "" {
		return
	}
	r.expired.Add(expiredKey{remote, id}, struct{}{})
}

func (r *Registry) IsExpired(remote domain.UserID, id domain.SessionID) bool {
	_, ok := r.expired.Peek(expiredKey{remote, id})
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}

// Close stops every machine and forgets all sessions and expired ids.
func (r *Registry) Close() {
	r.mu.Lock()
	all := r.byID
	r.byID = make(map[domain.SessionID]*Session)
	r.byKey = make(map[sessionKey]domain.SessionID)
	r.mu.Unlock()
	for _, s := range all {
		s.Machine.Stop()
	}
	r.expired.Purge()
	log.Info().Str("module", "app.registry").Int("sessions", len(all)).Msg("registry closed")
}
