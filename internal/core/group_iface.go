package core

import (
	"github.com/dkeye/Classroom/internal/domain"
)

// PublishResult reports delivery stats/backpressure to the relay.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID       domain.UserID `json:"id"`
	JoinedAt int64         `json:"joined_at"`
}

// GroupService is the relay-facing API of a group.
// It owns the membership set but never touches transport resources.
type GroupService interface {
	ID() domain.GroupID
	MemberCount() int
	MembersSnapshot() []MemberDTO

	// AddMember returns the session it replaced for the same user, if any.
	AddMember(cid ConnID, ms MemberSession) MemberSession
	RemoveMember(cid ConnID)
	Broadcast(from ConnID, data Frame) PublishResult
	SendTo(to domain.UserID, data Frame) (PublishResult, bool)
}

type GroupInfo struct {
	ID          domain.GroupID `json:"id"`
	MemberCount int            `json:"client_count"`
}

type GroupManager interface {
	// AddMember creates the group if needed and adds ms to it atomically
	// with respect to ReleaseIfEmpty. It returns the group and the session
	// ms replaced, if any.
	AddMember(id domain.GroupID, cid ConnID, ms MemberSession) (GroupService, MemberSession)
	Get(id domain.GroupID) (GroupService, bool)
	List() []GroupInfo
	ReleaseIfEmpty(id domain.GroupID) bool
}
