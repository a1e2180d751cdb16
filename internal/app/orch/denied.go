package orch

import (
	"github.com/dkeye/Classroom/internal/app/fsm"
	"github.com/dkeye/Classroom/internal/domain"
)

// moderatorDenied fills the Moderator verbs for a student.
type moderatorDenied struct{}

func (moderatorDenied) Invite(domain.UserID) (*fsm.Machine, error) {
	return nil, roleMismatch("Invite")
}

func (moderatorDenied) CancelInvitation(domain.UserID) error {
	return roleMismatch("CancelInvitation")
}

func (moderatorDenied) ReceiveApplication(domain.Body) (bool, error) {
	return false, roleMismatch("ReceiveApplication")
}

func (moderatorDenied) AcceptApplication(domain.UserID) error {
	return roleMismatch("AcceptApplication")
}

func (moderatorDenied) RejectApplication(domain.UserID) error {
	return roleMismatch("RejectApplication")
}

func (moderatorDenied) EndInteraction(domain.UserID) error {
	return roleMismatch("EndInteraction")
}

func (moderatorDenied) EndAllInteraction() error {
	return roleMismatch("EndAllInteraction")
}

func (moderatorDenied) AllowEndInteraction(domain.UserID, domain.SessionID) error {
	return roleMismatch("AllowEndInteraction")
}

func (moderatorDenied) SetInteractionAllowed(bool) error {
	return roleMismatch("SetInteractionAllowed")
}

func (moderatorDenied) MuteAllMics(bool) error {
	return roleMismatch("MuteAllMics")
}

func (moderatorDenied) BroadcastMembers([]domain.UserID) error {
	return roleMismatch("BroadcastMembers")
}

func (moderatorDenied) ToggleCamera(domain.UserID, bool) (*fsm.Machine, error) {
	return nil, roleMismatch("ToggleCamera")
}

func (moderatorDenied) ToggleMic(domain.UserID, bool) (*fsm.Machine, error) {
	return nil, roleMismatch("ToggleMic")
}

// participantDenied fills the Participant verbs for a teacher.
type participantDenied struct{}

func (participantDenied) SubmitApplication() (*fsm.Machine, error) {
	return nil, roleMismatch("SubmitApplication")
}

func (participantDenied) CancelApplication() error {
	return roleMismatch("CancelApplication")
}

func (participantDenied) ReportInteracting(bool, bool) error {
	return roleMismatch("ReportInteracting")
}

func (participantDenied) ReceiveInvitation(domain.Body) (bool, error) {
	return false, roleMismatch("ReceiveInvitation")
}

func (participantDenied) AcceptInvitation() error {
	return roleMismatch("AcceptInvitation")
}

func (participantDenied) RejectInvitation(domain.RejectReason) error {
	return roleMismatch("RejectInvitation")
}

func (participantDenied) NoticeEndingInteraction() (*fsm.Machine, error) {
	return nil, roleMismatch("NoticeEndingInteraction")
}

func (participantDenied) ReceiveCameraControl(domain.Body) (bool, error) {
	return false, roleMismatch("ReceiveCameraControl")
}

func (participantDenied) ReceiveMicControl(domain.Body) (bool, error) {
	return false, roleMismatch("ReceiveMicControl")
}

func (participantDenied) AnswerCameraControl(bool) error {
	return roleMismatch("AnswerCameraControl")
}

func (participantDenied) AnswerMicControl(bool) error {
	return roleMismatch("AnswerMicControl")
}

func (participantDenied) NotifyMicChanged(bool) error {
	return roleMismatch("NotifyMicChanged")
}

func (participantDenied) NotifyCameraChanged(bool) error {
	return roleMismatch("NotifyCameraChanged")
}

var (
	_ Orchestrator = (*Initiator)(nil)
	_ Orchestrator = (*Responder)(nil)
)
