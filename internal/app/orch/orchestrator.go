// Package orch holds the two role orchestrators. Each owns a session
// registry, turns verbs into sessions and outbound messages, and routes
// inbound messages onto the matching machine.
package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Classroom/internal/app"
	"github.com/dkeye/Classroom/internal/app/fsm"
	"github.com/dkeye/Classroom/internal/clock"
	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/observer"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultOutboxSize = 64

// Moderator is the teacher's verb set.
type Moderator interface {
	Invite(student domain.UserID) (*fsm.Machine, error)
	CancelInvitation(student domain.UserID) error
	ReceiveApplication(body domain.Body) (bool, error)
	AcceptApplication(student domain.UserID) error
	RejectApplication(student domain.UserID) error
	EndInteraction(student domain.UserID) error
	EndAllInteraction() error
	AllowEndInteraction(student domain.UserID, id domain.SessionID) error
	SetInteractionAllowed(allowed bool) error
	MuteAllMics(muted bool) error
	BroadcastMembers(members []domain.UserID) error
	ToggleCamera(student domain.UserID, turnOn bool) (*fsm.Machine, error)
	ToggleMic(student domain.UserID, turnOn bool) (*fsm.Machine, error)
}

// Participant is the student's verb set.
type Participant interface {
	SubmitApplication() (*fsm.Machine, error)
	CancelApplication() error
	ReportInteracting(micOpened, cameraOpened bool) error
	ReceiveInvitation(body domain.Body) (bool, error)
	AcceptInvitation() error
	RejectInvitation(reason domain.RejectReason) error
	NoticeEndingInteraction() (*fsm.Machine, error)
	ReceiveCameraControl(body domain.Body) (bool, error)
	ReceiveMicControl(body domain.Body) (bool, error)
	AnswerCameraControl(failed bool) error
	AnswerMicControl(failed bool) error
	NotifyMicChanged(opened bool) error
	NotifyCameraChanged(opened bool) error
}

// Orchestrator exposes both verb sets; the ones that do not belong to Role
// return ErrRoleActionMismatch.
type Orchestrator interface {
	Moderator
	Participant

	Role() domain.Role
	Self() domain.UserID
	// HandleMessage is the single inbound entry point. Unmatched, stale and
	// duplicate messages are dropped.
	HandleMessage(msg core.Message)
	OnNotice(kind NoticeKind, fn func(Notice)) observer.ListenerID
	OffNotice(kind NoticeKind, id observer.ListenerID) bool
	Sessions() []*app.Session
	Close()
}

type Options struct {
	// Teacher is the moderator a student talks to. Required for RoleStudent.
	Teacher domain.UserID

	Clock           clock.Clock
	RetryInterval   time.Duration
	RetryLimit      *int // nil means fsm.DefaultRetryLimit; zero disables retries
	ExpiredTTL      time.Duration
	ExpiredCapacity int
	OutboxSize      int
	Admission       app.AdmissionPolicy
	Logger          *zerolog.Logger
}

// New selects the implementation for role once.
func New(role domain.Role, self domain.UserID, bus core.MessageBus, opts Options) (Orchestrator, error) {
	if err := domain.ValidateUserID(self); err != nil {
		return nil, fmt.Errorf("orch: self: %w", err)
	}
	if bus == nil {
		return nil, errors.New("orch: nil message bus")
	}
	switch role {
	case domain.RoleTeacher:
		return newInitiator(newBase(role, self, bus, opts), opts), nil
	case domain.RoleStudent:
		if err := domain.ValidateUserID(opts.Teacher); err != nil {
			return nil, fmt.Errorf("orch: teacher: %w", err)
		}
		return newResponder(newBase(role, self, bus, opts), opts.Teacher), nil
	default:
		return nil, fmt.Errorf("orch: %w: %s", ErrRoleActionMismatch, role)
	}
}

// base is the role-independent half: registry, outbox and notices.
type base struct {
	role domain.Role
	self domain.UserID
	bus  core.MessageBus
	log  zerolog.Logger
	reg  *app.Registry

	machineOpts []fsm.Option
	notices     observer.Emitter[NoticeKind, Notice]

	outbox    chan core.Message
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func newBase(role domain.Role, self domain.UserID, bus core.MessageBus, opts Options) *base {
	lg := log.With().Str("module", "orch").Str("role", role.String()).Str("user", string(self)).Logger()
	if opts.Logger != nil {
		lg = *opts.Logger
	}
	size := opts.OutboxSize
	if size <= 0 {
		size = DefaultOutboxSize
	}

	var mopts []fsm.Option
	regOpts := []app.RegistryOption{app.WithExpiredWindow(opts.ExpiredTTL, opts.ExpiredCapacity)}
	if opts.Clock != nil {
		mopts = append(mopts, fsm.WithClock(opts.Clock))
		regOpts = append(regOpts, app.WithRegistryClock(opts.Clock))
	}
	if opts.RetryInterval > 0 {
		mopts = append(mopts, fsm.WithRetryInterval(opts.RetryInterval))
	}
	if opts.RetryLimit != nil {
		mopts = append(mopts, fsm.WithRetryLimit(*opts.RetryLimit))
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &base{
		role:        role,
		self:        self,
		bus:         bus,
		log:         lg,
		reg:         app.NewRegistry(regOpts...),
		machineOpts: mopts,
		outbox:      make(chan core.Message, size),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go b.sendPump()
	return b
}

func (b *base) Role() domain.Role   { return b.role }
func (b *base) Self() domain.UserID { return b.self }

func (b *base) OnNotice(kind NoticeKind, fn func(Notice)) observer.ListenerID {
	return b.notices.On(kind, fn)
}

func (b *base) OffNotice(kind NoticeKind, id observer.ListenerID) bool {
	return b.notices.Off(kind, id)
}

func (b *base) Sessions() []*app.Session { return b.reg.Sessions() }

// Close stops the send pump and tears down every session. Messages still
// queued are discarded.
func (b *base) Close() {
	b.closeOnce.Do(func() {
		b.cancel()
		<-b.done
		b.reg.Close()
		b.notices.Clear()
		b.log.Info().Msg("orchestrator closed")
	})
}

func (b *base) notify(kind NoticeKind, msg core.Message) {
	b.notices.Emit(kind, Notice{Kind: kind, From: msg.From, Body: msg.Body})
}

// send enqueues msg for the pump. It never blocks; a full outbox drops the
// message and leaves recovery to the retry timer.
func (b *base) send(t domain.MessageType, to domain.UserID, body domain.Body) {
	msg := core.Message{Type: t, To: to, From: b.self, Body: body}
	select {
	case <-b.ctx.Done():
		return
	default:
	}
	select {
	case b.outbox <- msg:
	default:
		b.log.Warn().Str("type", string(t)).Str("to", string(to)).Msg("outbox full, message dropped")
	}
}

// sendPump drains the outbox in order. Send failures are logged only.
func (b *base) sendPump() {
	defer close(b.done)
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg := <-b.outbox:
			if err := b.bus.Send(b.ctx, msg); err != nil {
				if b.ctx.Err() != nil {
					return
				}
				b.log.Warn().Err(err).Str("type", string(msg.Type)).Str("to", string(msg.To)).Msg("send failed")
			}
		}
	}
}

// announce sends a fire-and-forget message under a fresh session id.
func (b *base) announce(t domain.MessageType, to domain.UserID, body domain.Body) {
	body.SessionID = b.reg.NewSessionID(domain.ProtocolAnnouncement)
	b.send(t, to, body)
}

// open creates and registers a session whose machine sends out on every
// EventSend. The caller attaches hooks and then starts the machine.
func (b *base) open(p domain.Protocol, remote domain.UserID, def fsm.Definition, out domain.MessageType, body domain.Body) (*app.Session, error) {
	if s, ok := b.reg.Find(remote, p); ok {
		return nil, newError(ErrStateActionMismatch, "protocol", p, "remote", remote, "state", s.Machine.State())
	}
	id := b.reg.NewSessionID(p)
	body.SessionID = id
	m := fsm.New(def, b.machineOpts...)
	m.On(fsm.EventSend, func(fsm.Payload) { b.send(out, remote, body) })

	s := &app.Session{ID: id, Remote: remote, Protocol: p, Machine: m}
	if err := b.reg.Insert(s); err != nil {
		m.Stop()
		return nil, newError(ErrStateActionMismatch, "protocol", p, "remote", remote, "cause", err)
	}
	return s, nil
}

// start drives the initiating transition of a freshly opened session.
func (b *base) start(s *app.Session) (*fsm.Machine, error) {
	if err := s.Machine.Transition(fsm.EventSend, fsm.Payload{}); err != nil {
		b.reg.Remove(s.ID)
		return nil, err
	}
	b.log.Debug().Str("session", string(s.ID)).Str("remote", string(s.Remote)).Msg("session started")
	return s.Machine, nil
}

// settle removes and expires s when any of evs fires. then runs first.
func (b *base) settle(s *app.Session, then func(fsm.Payload), evs ...fsm.Event) {
	for _, ev := range evs {
		s.Machine.On(ev, func(p fsm.Payload) {
			b.reg.Expire(s.Remote, s.ID)
			if then != nil {
				then(p)
			}
			b.reg.Remove(s.ID)
			b.log.Debug().Str("session", string(s.ID)).Str("event", string(p.Event)).Msg("session settled")
		})
	}
}

// resolve looks up the session an inbound message refers to and drives ev.
func (b *base) resolve(msg core.Message, p domain.Protocol, ev fsm.Event, payload fsm.Payload) error {
	id := msg.Body.SessionID
	s, ok := b.reg.Get(id)
	if !ok || s.Protocol != p || s.Remote != msg.From {
		return newError(ErrSessionMissed, "session", id, "type", msg.Type)
	}
	payload.Body = msg.Body
	return s.Machine.Transition(ev, payload)
}

// fresh reports whether an id-carrying message from remote has not been
// seen, and marks it seen.
func (b *base) fresh(remote domain.UserID, id domain.SessionID) bool {
	if id == "" || b.reg.IsExpired(remote, id) {
		return false
	}
	b.reg.Expire(remote, id)
	return true
}

func (b *base) logDrop(msg core.Message, reason string, err error) {
	ev := b.log.Debug()
	if err != nil && !errors.Is(err, ErrSessionMissed) && !errors.Is(err, fsm.ErrProtocolViolation) {
		ev = b.log.Warn()
	}
	ev.Err(err).
		Str("type", string(msg.Type)).
		Str("from", string(msg.From)).
		Str("session", string(msg.Body.SessionID)).
		Msg(reason)
}
