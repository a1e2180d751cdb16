// Package domain contains the signaling vocabulary without logic: users,
// roles, message types and the wire body.
package domain

import (
	"errors"
	"fmt"
)

const MaxUserIDLen = 64

var (
	ErrUserIDTooLong = errors.New("user id too long")
	ErrUserIDEmpty   = errors.New("user id empty")
)

type UserID string

// ValidateUserID rejects ids the relay and the orchestrators cannot key on.
func ValidateUserID(id UserID) error {
	if len(id) == 0 {
		return ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return ErrUserIDTooLong
	}
	return nil
}

// Role is the closed set of classroom roles. The teacher originates
// actions; students respond to them.
type Role int

const (
	RoleTeacher Role = iota + 1
	RoleStudent
)

func (r Role) String() string {
	switch r {
	case RoleTeacher:
		return "teacher"
	case RoleStudent:
		return "student"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole maps a flag/config value onto a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "teacher", "moderator":
		return RoleTeacher, nil
	case "student", "participant":
		return RoleStudent, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}
