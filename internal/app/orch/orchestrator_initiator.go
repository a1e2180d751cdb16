package orch

import (
	"slices"
	"sync"

	"github.com/dkeye/Classroom/internal/app"
	"github.com/dkeye/Classroom/internal/app/fsm"
	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
)

// Initiator is the teacher's orchestrator.
type Initiator struct {
	*base
	participantDenied

	admission app.AdmissionPolicy

	mu          sync.Mutex
	allowed     bool
	pending     map[domain.UserID]domain.Body
	onStage     map[domain.UserID]struct{}
	endRequests map[domain.UserID]domain.SessionID
}

func newInitiator(b *base, opts Options) *Initiator {
	adm := opts.Admission
	if adm == nil {
		adm = app.CapacityPolicy{}
	}
	return &Initiator{
		base:        b,
		admission:   adm,
		allowed:     true,
		pending:     make(map[domain.UserID]domain.Body),
		onStage:     make(map[domain.UserID]struct{}),
		endRequests: make(map[domain.UserID]domain.SessionID),
	}
}

func (o *Initiator) body(student domain.UserID) domain.Body {
	return domain.Body{TeacherID: o.self, StudentID: student}
}

// Invite asks student on stage. Timeout and Cancel notify the student.
func (o *Initiator) Invite(student domain.UserID) (*fsm.Machine, error) {
	if err := domain.ValidateUserID(student); err != nil {
		return nil, newError(ErrStateActionMismatch, "verb", "Invite", "cause", err)
	}
	s, err := o.open(domain.ProtocolInvitation, student, fsm.Invitation, domain.MsgInvitation, o.body(student))
	if err != nil {
		return nil, err
	}
	cancelNotice := func(fsm.Payload) {
		b := o.body(student)
		b.SessionID = s.ID
		o.send(domain.MsgCancelInvitation, student, b)
	}
	o.settle(s, func(fsm.Payload) { o.stage(student, true) }, fsm.EventAccepted)
	o.settle(s, nil, fsm.EventRejected)
	o.settle(s, cancelNotice, fsm.EventCancel, fsm.EventTimeout)
	return o.start(s)
}

func (o *Initiator) CancelInvitation(student domain.UserID) error {
	s, ok := o.reg.Find(student, domain.ProtocolInvitation)
	if !ok {
		return newError(ErrStateActionMismatch, "verb", "CancelInvitation", "remote", student)
	}
	return s.Machine.Transition(fsm.EventCancel, fsm.Payload{})
}

// ReceiveApplication runs admission, then records body as the student's
// latest application. It reports false for rejected, stale and duplicate
// applications.
func (o *Initiator) ReceiveApplication(body domain.Body) (bool, error) {
	student := body.StudentID
	if err := domain.ValidateUserID(student); err != nil {
		return false, newError(ErrSessionMissed, "verb", "ReceiveApplication", "cause", err)
	}

	o.mu.Lock()
	adm := o.admission.Admit(len(o.onStage), o.allowed)
	o.mu.Unlock()
	if !adm.Admit {
		reply := body
		reply.TeacherID = o.self
		reply.Full = adm.Full
		reply.InteractionAllowed = domain.Bool(adm.InteractionAllowed)
		o.send(domain.MsgRejectedApplication, student, reply)
		o.log.Info().Str("student", string(student)).Bool("full", adm.Full).Bool("allowed", adm.InteractionAllowed).Msg("application refused")
		return false, nil
	}
	if o.reg.IsExpired(student, body.SessionID) {
		return false, nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if last, ok := o.pending[student]; ok && last.SessionID == body.SessionID {
		return false, nil
	}
	if last, ok := o.pending[student]; ok {
		o.reg.Expire(student, last.SessionID)
		o.log.Info().Str("student", string(student)).Str("superseded", string(last.SessionID)).Msg("application replaced")
	}
	o.pending[student] = body
	return true, nil
}

func (o *Initiator) AcceptApplication(student domain.UserID) error {
	o.mu.Lock()
	body, ok := o.pending[student]
	o.mu.Unlock()
	if !ok {
		return newError(ErrSessionMissed, "verb", "AcceptApplication", "remote", student)
	}
	body.TeacherID = o.self
	o.send(domain.MsgAcceptedApplication, student, body)
	return nil
}

func (o *Initiator) RejectApplication(student domain.UserID) error {
	o.mu.Lock()
	body, ok := o.pending[student]
	if ok {
		delete(o.pending, student)
	}
	o.mu.Unlock()
	if !ok {
		return newError(ErrSessionMissed, "verb", "RejectApplication", "remote", student)
	}
	o.reg.Expire(student, body.SessionID)
	body.TeacherID = o.self
	body.InteractionAllowed = domain.Bool(true)
	o.send(domain.MsgRejectedApplication, student, body)
	return nil
}

// PendingApplications lists the students waiting for a decision.
func (o *Initiator) PendingApplications() []domain.UserID {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.UserID, 0, len(o.pending))
	for id := range o.pending {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (o *Initiator) EndInteraction(student domain.UserID) error {
	if err := domain.ValidateUserID(student); err != nil {
		return newError(ErrStateActionMismatch, "verb", "EndInteraction", "cause", err)
	}
	o.stage(student, false)
	o.announce(domain.MsgTeacherEndInteraction, student, o.body(student))
	return nil
}

func (o *Initiator) EndAllInteraction() error {
	o.mu.Lock()
	clear(o.onStage)
	o.mu.Unlock()
	o.announce(domain.MsgTeacherEndAll, core.Broadcast, o.body(""))
	return nil
}

// AllowEndInteraction answers a student's end notice identified by id.
func (o *Initiator) AllowEndInteraction(student domain.UserID, id domain.SessionID) error {
	if id == "" {
		return newError(ErrSessionMissed, "verb", "AllowEndInteraction", "remote", student)
	}
	o.mu.Lock()
	if o.endRequests[student] == id {
		delete(o.endRequests, student)
	}
	o.mu.Unlock()
	o.stage(student, false)
	o.reg.Expire(student, id)
	b := o.body(student)
	b.SessionID = id
	o.send(domain.MsgEndInteractionAllowed, student, b)
	return nil
}

func (o *Initiator) SetInteractionAllowed(allowed bool) error {
	o.mu.Lock()
	o.allowed = allowed
	o.mu.Unlock()
	b := o.body("")
	b.Allowed = domain.Bool(allowed)
	o.announce(domain.MsgInteractionAllowed, core.Broadcast, b)
	return nil
}

func (o *Initiator) InteractionAllowed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.allowed
}

func (o *Initiator) MuteAllMics(muted bool) error {
	b := o.body("")
	b.Muted = domain.Bool(muted)
	o.announce(domain.MsgAllMicMuted, core.Broadcast, b)
	return nil
}

func (o *Initiator) BroadcastMembers(members []domain.UserID) error {
	b := o.body("")
	b.Members = slices.Clone(members)
	o.announce(domain.MsgMembersUpdated, core.Broadcast, b)
	return nil
}

// OnStage lists the students currently interacting.
func (o *Initiator) OnStage() []domain.UserID {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.UserID, 0, len(o.onStage))
	for id := range o.onStage {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (o *Initiator) stage(student domain.UserID, on bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if on {
		o.onStage[student] = struct{}{}
	} else {
		delete(o.onStage, student)
	}
}

func (o *Initiator) ToggleCamera(student domain.UserID, turnOn bool) (*fsm.Machine, error) {
	return o.toggle(domain.ProtocolToggleCamera, domain.MsgToggleCamera, student, turnOn)
}

func (o *Initiator) ToggleMic(student domain.UserID, turnOn bool) (*fsm.Machine, error) {
	return o.toggle(domain.ProtocolToggleMic, domain.MsgToggleMic, student, turnOn)
}

func (o *Initiator) toggle(p domain.Protocol, t domain.MessageType, student domain.UserID, turnOn bool) (*fsm.Machine, error) {
	if err := domain.ValidateUserID(student); err != nil {
		return nil, newError(ErrStateActionMismatch, "protocol", p, "cause", err)
	}
	b := o.body(student)
	b.TurnOn = domain.Bool(turnOn)
	s, err := o.open(p, student, fsm.DeviceToggle, t, b)
	if err != nil {
		return nil, err
	}
	o.settle(s, nil, fsm.EventAnswered, fsm.EventTimeout)
	return o.start(s)
}

// HandleMessage accepts only messages a student sent about itself.
func (o *Initiator) HandleMessage(msg core.Message) {
	if msg.From == "" || msg.From == o.self || msg.Body.StudentID != msg.From {
		o.logDrop(msg, "foreign sender", nil)
		return
	}
	id := msg.Body.SessionID

	var err error
	switch msg.Type {
	case domain.MsgAcceptedInvitation:
		if o.reg.IsExpired(msg.From, id) {
			break
		}
		err = o.resolve(msg, domain.ProtocolInvitation, fsm.EventAccepted, fsm.Payload{})
	case domain.MsgRejectedInvitation:
		if o.reg.IsExpired(msg.From, id) {
			break
		}
		err = o.resolve(msg, domain.ProtocolInvitation, fsm.EventRejected, fsm.Payload{Reason: msg.Body.Reason})
	case domain.MsgApplication:
		var ok bool
		if ok, err = o.ReceiveApplication(msg.Body); ok {
			o.notify(NoticeApplicationReceived, msg)
		}
	case domain.MsgCancelApplication:
		o.applicationClosed(msg, NoticeApplicationCancelled, false)
	case domain.MsgApplicationSucceeded:
		o.applicationClosed(msg, NoticeApplicationSucceeded, true)
	case domain.MsgStudentEndInteraction:
		o.endRequested(msg)
	case domain.MsgToggleCameraAnswered:
		if o.reg.IsExpired(msg.From, id) {
			break
		}
		err = o.resolve(msg, domain.ProtocolToggleCamera, fsm.EventAnswered, fsm.Payload{Failed: msg.Body.Failed})
	case domain.MsgToggleMicAnswered:
		if o.reg.IsExpired(msg.From, id) {
			break
		}
		err = o.resolve(msg, domain.ProtocolToggleMic, fsm.EventAnswered, fsm.Payload{Failed: msg.Body.Failed})
	case domain.MsgMicChanged:
		if o.fresh(msg.From, id) {
			o.notify(NoticeMicChanged, msg)
		}
	case domain.MsgCameraChanged:
		if o.fresh(msg.From, id) {
			o.notify(NoticeCameraChanged, msg)
		}
	default:
		o.logDrop(msg, "unhandled type", nil)
		return
	}
	if err != nil {
		o.logDrop(msg, "message dropped", err)
	}
}

// applicationClosed handles cancel and success notices. The id is expired
// even when it no longer matches the pending entry so that late retransmits
// of that application are dropped.
func (o *Initiator) applicationClosed(msg core.Message, kind NoticeKind, onStage bool) {
	id, student := msg.Body.SessionID, msg.Body.StudentID
	if !o.fresh(student, id) {
		return
	}

	o.mu.Lock()
	last, ok := o.pending[student]
	matched := ok && last.SessionID == id
	if matched {
		delete(o.pending, student)
		if onStage {
			o.onStage[student] = struct{}{}
		}
	}
	o.mu.Unlock()
	if matched {
		o.notify(kind, msg)
	}
}

// endRequested surfaces a student's end notice once. Retransmits of a notice
// that was already allowed are answered again.
func (o *Initiator) endRequested(msg core.Message) {
	id, student := msg.Body.SessionID, msg.Body.StudentID
	if id == "" {
		return
	}
	if o.reg.IsExpired(student, id) {
		b := o.body(student)
		b.SessionID = id
		o.send(domain.MsgEndInteractionAllowed, student, b)
		return
	}
	o.mu.Lock()
	seen := o.endRequests[student] == id
	o.endRequests[student] = id
	o.mu.Unlock()
	if !seen {
		o.notify(NoticeEndRequested, msg)
	}
}
