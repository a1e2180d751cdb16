package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Classroom/internal/adapters/bus/memory"
	"github.com/dkeye/Classroom/internal/app/orch"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *shell) output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.(*bytes.Buffer).String()
}

func newShells(t *testing.T) (teacher, student *shell) {
	t.Helper()
	h := memory.NewHub()
	te, se := h.Join("t1"), h.Join("u1")
	t.Cleanup(te.Close)
	t.Cleanup(se.Close)

	retries := 5
	opts := orch.Options{RetryInterval: 20 * time.Millisecond, RetryLimit: &retries}
	to, err := orch.New(domain.RoleTeacher, "t1", te, opts)
	require.NoError(t, err)
	t.Cleanup(to.Close)
	opts.Teacher = "t1"
	so, err := orch.New(domain.RoleStudent, "u1", se, opts)
	require.NoError(t, err)
	t.Cleanup(so.Close)
	te.Subscribe(to.HandleMessage)
	se.Subscribe(so.HandleMessage)

	teacher, student = newShell(to, &bytes.Buffer{}), newShell(so, &bytes.Buffer{})
	teacher.watchNotices()
	student.watchNotices()
	return teacher, student
}

func TestShellInviteAccept(t *testing.T) {
	teacher, student := newShells(t)

	require.NoError(t, teacher.exec("invite u1"))
	require.Eventually(t, func() bool {
		return strings.Contains(student.output(), "<invitation_received> from t1")
	}, time.Second, time.Millisecond)

	require.NoError(t, student.exec("accept"))
	require.Eventually(t, func() bool {
		return strings.Contains(teacher.output(), "] accepted: ")
	}, time.Second, time.Millisecond)

	require.NoError(t, teacher.exec("end u1"))
	require.Eventually(t, func() bool {
		return strings.Contains(student.output(), "<interaction_ended>")
	}, time.Second, time.Millisecond)
}

func TestShellUsageAndUnknown(t *testing.T) {
	teacher, student := newShells(t)

	assert.EqualError(t, teacher.exec("invite"), "usage: invite <student>")
	assert.ErrorContains(t, teacher.exec("dance"), "unknown command")
	assert.ErrorIs(t, teacher.exec("quit"), errQuit)
	assert.NoError(t, teacher.exec("   "))
	assert.ErrorIs(t, teacher.exec("apply"), orch.ErrRoleActionMismatch)
	assert.ErrorIs(t, student.exec("withdraw"), orch.ErrStateActionMismatch)

	require.NoError(t, teacher.exec("help"))
	assert.Contains(t, teacher.output(), "invite <student>")
}
