package orch

import "github.com/dkeye/Classroom/internal/domain"

// NoticeKind names an inbound event that is not tied to a local machine.
type NoticeKind string

const (
	NoticeInvitationReceived     NoticeKind = "invitation_received"
	NoticeInvitationCancelled    NoticeKind = "invitation_cancelled"
	NoticeApplicationReceived    NoticeKind = "application_received"
	NoticeApplicationCancelled   NoticeKind = "application_cancelled"
	NoticeApplicationSucceeded   NoticeKind = "application_succeeded"
	NoticeCameraControlRequested NoticeKind = "camera_control_requested"
	NoticeMicControlRequested    NoticeKind = "mic_control_requested"
	NoticeEndRequested           NoticeKind = "end_requested"
	NoticeInteractionEnded       NoticeKind = "interaction_ended"
	NoticeAllowedChanged         NoticeKind = "allowed_changed"
	NoticeAllMicMuted            NoticeKind = "all_mic_muted"
	NoticeMembersUpdated         NoticeKind = "members_updated"
	NoticeMicChanged             NoticeKind = "mic_changed"
	NoticeCameraChanged          NoticeKind = "camera_changed"
)

type Notice struct {
	Kind NoticeKind
	From domain.UserID
	Body domain.Body
}
