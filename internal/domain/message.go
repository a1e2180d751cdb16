package domain

// MessageType is the discriminant carried by every bus message.
type MessageType string

const (
	MsgInvitation         MessageType = "interaction_invitation"
	MsgCancelInvitation   MessageType = "cancel_interaction_invitation"
	MsgAcceptedInvitation MessageType = "accepted_interaction_invitation"
	MsgRejectedInvitation MessageType = "rejected_interaction_invitation"

	MsgApplication          MessageType = "interaction_application"
	MsgCancelApplication    MessageType = "cancel_interaction_application"
	MsgAcceptedApplication  MessageType = "accepted_interaction_application"
	MsgRejectedApplication  MessageType = "rejected_interaction_application"
	MsgApplicationSucceeded MessageType = "interaction_application_succeed"

	MsgStudentEndInteraction MessageType = "student_end_interaction"
	MsgEndInteractionAllowed MessageType = "student_end_interaction_allowed"
	MsgTeacherEndInteraction MessageType = "teacher_end_interaction"
	MsgTeacherEndAll         MessageType = "teacher_end_all_interaction"

	MsgToggleCamera         MessageType = "toggle_camera"
	MsgToggleCameraAnswered MessageType = "toggle_camera_answered"
	MsgToggleMic            MessageType = "toggle_mic"
	MsgToggleMicAnswered    MessageType = "toggle_mic_answered"

	MsgInteractionAllowed MessageType = "interaction_allowed"
	MsgAllMicMuted        MessageType = "all_mic_muted"
	MsgMicChanged         MessageType = "mic_changed"
	MsgCameraChanged      MessageType = "camera_changed"
	MsgMembersUpdated     MessageType = "interaction_member_updated"
)

// Protocol selects which state machine shape governs a session. It is also
// the suffix of generated session ids.
type Protocol string

const (
	ProtocolInvitation   Protocol = "invitation"
	ProtocolApplication  Protocol = "application"
	ProtocolEndNotice    Protocol = "end_notice"
	ProtocolToggleCamera Protocol = "toggle_camera"
	ProtocolToggleMic    Protocol = "toggle_mic"

	// Announcement ids for fire-and-forget messages that have no machine.
	ProtocolAnnouncement Protocol = "announcement"
)

type SessionID string

// RejectReason tells the teacher why an invitation was declined. The
// protocol treats every reason as the same rejection.
type RejectReason int

const (
	RejectManual RejectReason = iota
	RejectNotSupportWebRTC
	RejectNoDevicePermissions
)

func (r RejectReason) String() string {
	switch r {
	case RejectManual:
		return "manual"
	case RejectNotSupportWebRTC:
		return "not_support_webrtc"
	case RejectNoDevicePermissions:
		return "no_device_permissions"
	default:
		return "unknown"
	}
}

// Body is the wire payload. Every message carries SessionID; the rest is
// protocol specific. Optional booleans are pointers so that an explicit
// false survives encoding.
type Body struct {
	SessionID SessionID `json:"sessionId"`
	TeacherID UserID    `json:"teacherId,omitempty"`
	StudentID UserID    `json:"studentId"`

	TurnOn *bool        `json:"turnOn,omitempty"`
	Failed bool         `json:"failed,omitempty"`
	Reason RejectReason `json:"reason,omitempty"`

	Full               bool  `json:"full,omitempty"`
	InteractionAllowed *bool `json:"interactionAllowed,omitempty"`

	Allowed *bool    `json:"allowed,omitempty"`
	Muted   *bool    `json:"muted,omitempty"`
	Members []UserID `json:"members,omitempty"`

	MicOpened    *bool `json:"micOpened,omitempty"`
	CameraOpened *bool `json:"cameraOpened,omitempty"`
}

// Bool returns a pointer to v for the optional Body fields.
func Bool(v bool) *bool { return &v }

// BoolValue dereferences an optional field, falling back to def.
func BoolValue(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
