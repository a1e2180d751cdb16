package app

import "github.com/dkeye/Classroom/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what the relay does with a member whose outbound queue is
// full.
type Policy interface {
	OnBackPressure(group core.GroupService, member core.MemberSession) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(group core.GroupService, member core.MemberSession) BackpressureAction {
	return KickMember
}

// Admission is the moderator's answer to an application before any session
// state exists for it.
type Admission struct {
	Admit              bool
	Full               bool
	InteractionAllowed bool
}

type AdmissionPolicy interface {
	Admit(onStage int, interactionAllowed bool) Admission
}

// CapacityPolicy admits while fewer than Capacity students are on stage.
// A non-positive Capacity means unlimited.
type CapacityPolicy struct {
	Capacity int
}

func (p CapacityPolicy) Admit(onStage int, interactionAllowed bool) Admission {
	full := p.Capacity > 0 && onStage >= p.Capacity
	return Admission{
		Admit:              interactionAllowed && !full,
		Full:               full,
		InteractionAllowed: interactionAllowed,
	}
}
