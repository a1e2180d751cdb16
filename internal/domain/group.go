package domain

import "time"

// GroupID names a relay group, one per classroom.
type GroupID string

// Member is a user's presence in a relay group.
type Member struct {
	ID       UserID    `json:"id"`
	Group    GroupID   `json:"group"`
	JoinedAt time.Time `json:"joinedAt"`
}

func NewMember(id UserID, group GroupID, now time.Time) *Member {
	return &Member{ID: id, Group: group, JoinedAt: now}
}
