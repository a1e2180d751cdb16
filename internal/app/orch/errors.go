package orch

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Contract errors returned by orchestrator verbs. They are caller mistakes
// or stale references, never network faults.
var (
	ErrRoleActionMismatch  = errors.New("role and action mismatch")
	ErrStateActionMismatch = errors.New("state and action mismatch")
	ErrSessionMissed       = errors.New("session missed")
)

// Error carries the failing class plus the arguments that produced it.
// errors.Is matches it against the class sentinel.
type Error struct {
	Reason error
	Args   map[string]string
}

func (e *Error) Error() string {
	if len(e.Args) == 0 {
		return e.Reason.Error()
	}
	var b strings.Builder
	b.WriteString(e.Reason.Error())
	for i, k := range slices.Sorted(maps.Keys(e.Args)) {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s=%s", k, e.Args[k])
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Reason }

// newError pairs keys and values: newError(ErrSessionMissed, "session", id).
func newError(reason error, kv ...any) *Error {
	e := &Error{Reason: reason}
	if len(kv) > 1 {
		e.Args = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			e.Args[fmt.Sprint(kv[i])] = fmt.Sprint(kv[i+1])
		}
	}
	return e
}

func roleMismatch(verb string) *Error {
	return newError(ErrRoleActionMismatch, "verb", verb)
}
