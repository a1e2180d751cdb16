package orch

import (
	"sync"

	"github.com/dkeye/Classroom/internal/app/fsm"
	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
)

// Responder is a student's orchestrator. Every session it opens is with
// its teacher.
type Responder struct {
	*base
	moderatorDenied

	teacher domain.UserID

	mu         sync.Mutex
	invitation *domain.Body
	camera     *domain.Body
	mic        *domain.Body
}

func newResponder(b *base, teacher domain.UserID) *Responder {
	return &Responder{base: b, teacher: teacher}
}

func (o *Responder) Teacher() domain.UserID { return o.teacher }

func (o *Responder) body() domain.Body {
	return domain.Body{TeacherID: o.teacher, StudentID: o.self}
}

// SubmitApplication raises a hand. On timeout or cancel the teacher is told
// to drop the pending entry.
func (o *Responder) SubmitApplication() (*fsm.Machine, error) {
	s, err := o.open(domain.ProtocolApplication, o.teacher, fsm.Application, domain.MsgApplication, o.body())
	if err != nil {
		return nil, err
	}
	cancelNotice := func(fsm.Payload) {
		b := o.body()
		b.SessionID = s.ID
		o.send(domain.MsgCancelApplication, o.teacher, b)
	}
	o.settle(s, cancelNotice, fsm.EventCancel, fsm.EventTimeout)
	o.settle(s, nil, fsm.EventRejected)
	// Accepted keeps the session until ReportInteracting.
	s.Machine.On(fsm.EventAccepted, func(fsm.Payload) { o.reg.Expire(o.teacher, s.ID) })
	return o.start(s)
}

func (o *Responder) CancelApplication() error {
	s, ok := o.reg.Find(o.teacher, domain.ProtocolApplication)
	if !ok {
		return newError(ErrStateActionMismatch, "verb", "CancelApplication", "remote", o.teacher)
	}
	if s.Machine.Is(fsm.StateAccepted) {
		b := o.body()
		b.SessionID = s.ID
		o.send(domain.MsgCancelApplication, o.teacher, b)
		o.reg.Remove(s.ID)
		return nil
	}
	return s.Machine.Transition(fsm.EventCancel, fsm.Payload{})
}

// ReportInteracting confirms an accepted application once the student is on
// stage, and closes the session.
func (o *Responder) ReportInteracting(micOpened, cameraOpened bool) error {
	s, ok := o.reg.Find(o.teacher, domain.ProtocolApplication)
	if !ok || !s.Machine.Is(fsm.StateAccepted) {
		return newError(ErrSessionMissed, "verb", "ReportInteracting", "remote", o.teacher)
	}
	b := o.body()
	b.SessionID = s.ID
	b.MicOpened = domain.Bool(micOpened)
	b.CameraOpened = domain.Bool(cameraOpened)
	o.send(domain.MsgApplicationSucceeded, o.teacher, b)
	o.reg.Expire(o.teacher, s.ID)
	o.reg.Remove(s.ID)
	return nil
}

// ReceiveInvitation records body as the current invitation. It reports
// false for stale and repeated invitations.
func (o *Responder) ReceiveInvitation(body domain.Body) (bool, error) {
	return o.remember(&o.invitation, body), nil
}

func (o *Responder) AcceptInvitation() error {
	return o.answerInvitation(domain.MsgAcceptedInvitation, domain.RejectManual, "AcceptInvitation")
}

func (o *Responder) RejectInvitation(reason domain.RejectReason) error {
	return o.answerInvitation(domain.MsgRejectedInvitation, reason, "RejectInvitation")
}

func (o *Responder) answerInvitation(t domain.MessageType, reason domain.RejectReason, verb string) error {
	b, ok := o.take(&o.invitation)
	if !ok {
		return newError(ErrSessionMissed, "verb", verb, "remote", o.teacher)
	}
	b.StudentID = o.self
	b.Reason = reason
	o.send(t, o.teacher, b)
	return nil
}

// NoticeEndingInteraction asks the teacher to let the student leave the
// stage.
func (o *Responder) NoticeEndingInteraction() (*fsm.Machine, error) {
	s, err := o.open(domain.ProtocolEndNotice, o.teacher, fsm.EndNotice, domain.MsgStudentEndInteraction, o.body())
	if err != nil {
		return nil, err
	}
	o.settle(s, func(fsm.Payload) { o.leaveStage() }, fsm.EventAllowed)
	o.settle(s, nil, fsm.EventTimeout)
	return o.start(s)
}

func (o *Responder) ReceiveCameraControl(body domain.Body) (bool, error) {
	return o.remember(&o.camera, body), nil
}

func (o *Responder) ReceiveMicControl(body domain.Body) (bool, error) {
	return o.remember(&o.mic, body), nil
}

func (o *Responder) AnswerCameraControl(failed bool) error {
	return o.answerControl(&o.camera, domain.MsgToggleCameraAnswered, failed, "AnswerCameraControl")
}

func (o *Responder) AnswerMicControl(failed bool) error {
	return o.answerControl(&o.mic, domain.MsgToggleMicAnswered, failed, "AnswerMicControl")
}

func (o *Responder) answerControl(slot **domain.Body, t domain.MessageType, failed bool, verb string) error {
	b, ok := o.take(slot)
	if !ok {
		return newError(ErrSessionMissed, "verb", verb, "remote", o.teacher)
	}
	b.StudentID = o.self
	b.Failed = failed
	o.send(t, o.teacher, b)
	return nil
}

func (o *Responder) NotifyMicChanged(opened bool) error {
	b := o.body()
	b.MicOpened = domain.Bool(opened)
	o.announce(domain.MsgMicChanged, core.Broadcast, b)
	return nil
}

func (o *Responder) NotifyCameraChanged(opened bool) error {
	b := o.body()
	b.CameraOpened = domain.Bool(opened)
	o.announce(domain.MsgCameraChanged, core.Broadcast, b)
	return nil
}

// remember stores an inbound request in slot unless it is stale or already
// held.
func (o *Responder) remember(slot **domain.Body, body domain.Body) bool {
	if body.SessionID == "" || o.reg.IsExpired(o.teacher, body.SessionID) {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if *slot != nil && (*slot).SessionID == body.SessionID {
		return false
	}
	if *slot != nil {
		o.reg.Expire(o.teacher, (*slot).SessionID)
	}
	b := body
	*slot = &b
	return true
}

// take empties slot and expires the request it held.
func (o *Responder) take(slot **domain.Body) (domain.Body, bool) {
	o.mu.Lock()
	b := *slot
	*slot = nil
	o.mu.Unlock()
	if b == nil || o.reg.IsExpired(o.teacher, b.SessionID) {
		return domain.Body{}, false
	}
	o.reg.Expire(o.teacher, b.SessionID)
	return *b, true
}

// forget drops a held request whose id the teacher withdrew.
func (o *Responder) forget(slot **domain.Body, id domain.SessionID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if *slot == nil || (*slot).SessionID != id {
		return false
	}
	*slot = nil
	return true
}

// leaveStage drops an accepted application left open.
func (o *Responder) leaveStage() {
	if s, ok := o.reg.Find(o.teacher, domain.ProtocolApplication); ok && s.Machine.Is(fsm.StateAccepted) {
		o.reg.Remove(s.ID)
	}
}

// HandleMessage accepts only the teacher's messages that are addressed to
// this student or to everyone.
func (o *Responder) HandleMessage(msg core.Message) {
	if msg.From != o.teacher {
		o.logDrop(msg, "foreign sender", nil)
		return
	}
	if msg.Body.StudentID != o.self && msg.Body.StudentID != "" {
		o.logDrop(msg, "addressed to another student", nil)
		return
	}
	id := msg.Body.SessionID

	var err error
	switch msg.Type {
	case domain.MsgInvitation:
		if ok, _ := o.ReceiveInvitation(msg.Body); ok {
			o.notify(NoticeInvitationReceived, msg)
		}
	case domain.MsgCancelInvitation:
		if o.fresh(o.teacher, id) && o.forget(&o.invitation, id) {
			o.notify(NoticeInvitationCancelled, msg)
		}
	case domain.MsgAcceptedApplication:
		if o.reg.IsExpired(o.teacher, id) {
			break
		}
		err = o.resolve(msg, domain.ProtocolApplication, fsm.EventAccepted, fsm.Payload{})
	case domain.MsgRejectedApplication:
		if o.reg.IsExpired(o.teacher, id) {
			break
		}
		err = o.resolve(msg, domain.ProtocolApplication, fsm.EventRejected, fsm.Payload{Reason: msg.Body.Reason})
	case domain.MsgEndInteractionAllowed:
		if o.reg.IsExpired(o.teacher, id) {
			break
		}
		err = o.resolve(msg, domain.ProtocolEndNotice, fsm.EventAllowed, fsm.Payload{})
	case domain.MsgToggleCamera:
		if ok, _ := o.ReceiveCameraControl(msg.Body); ok {
			o.notify(NoticeCameraControlRequested, msg)
		}
	case domain.MsgToggleMic:
		if ok, _ := o.ReceiveMicControl(msg.Body); ok {
			o.notify(NoticeMicControlRequested, msg)
		}
	case domain.MsgTeacherEndInteraction, domain.MsgTeacherEndAll:
		if o.fresh(o.teacher, id) {
			o.leaveStage()
			o.notify(NoticeInteractionEnded, msg)
		}
	case domain.MsgInteractionAllowed:
		if o.fresh(o.teacher, id) {
			o.notify(NoticeAllowedChanged, msg)
		}
	case domain.MsgAllMicMuted:
		if o.fresh(o.teacher, id) {
			o.notify(NoticeAllMicMuted, msg)
		}
	case domain.MsgMembersUpdated:
		if o.fresh(o.teacher, id) {
			o.notify(NoticeMembersUpdated, msg)
		}
	default:
		o.logDrop(msg, "unhandled type", nil)
		return
	}
	if err != nil {
		o.logDrop(msg, "message dropped", err)
	}
}
