package app

import (
	"testing"
	"time"

	"github.com/dkeye/Classroom/internal/app/fsm"
	"github.com/dkeye/Classroom/internal/clock"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(r *Registry, remote domain.UserID, p domain.Protocol) *Session {
	return &Session{ID: r.NewSessionID(p), Remote: remote, Protocol: p, Machine: fsm.NewInvitation()}
}

func TestSessionIDsAreMonotonic(t *testing.T) {
	c := clock.Fake(time.UnixMilli(1700000000000))
	r := NewRegistry(WithRegistryClock(c))

	a := r.NewSessionID(domain.ProtocolInvitation)
	b := r.NewSessionID(domain.ProtocolInvitation)
	assert.Equal(t, domain.SessionID("1700000000000_invitation"), a)
	assert.Equal(t, domain.SessionID("1700000000001_invitation"), b)

	p, ok := ProtocolOf(domain.SessionID("1700000000001_toggle_camera"))
	require.True(t, ok)
	assert.Equal(t, domain.ProtocolToggleCamera, p)
	_, ok = ProtocolOf("garbage")
	assert.False(t, ok)
}

func TestInsertRejectsSecondActiveSession(t *testing.T) {
	r := NewRegistry()
	first := newSession(r, "u1", domain.ProtocolInvitation)
	require.NoError(t, r.Insert(first))

	err := r.Insert(newSession(r, "u1", domain.ProtocolInvitation))
	require.ErrorIs(t, err, ErrSessionConflict)
	assert.Equal(t, 1, r.Len())

	got, ok := r.Find("u1", domain.ProtocolInvitation)
	require.True(t, ok)
	assert.Same(t, first, got)

	require.NoError(t, r.Insert(newSession(r, "u1", domain.ProtocolToggleMic)))
	require.NoError(t, r.Insert(newSession(r, "u2", domain.ProtocolInvitation)))
	assert.Equal(t, 3, r.Len())
}

func TestRemoveFreesKey(t *testing.T) {
	r := NewRegistry()
	s := newSession(r, "u1", domain.ProtocolInvitation)
	require.NoError(t, r.Insert(s))

	_, ok := r.Remove(s.ID)
	require.True(t, ok)
	_, ok = r.Remove(s.ID)
	assert.False(t, ok)
	_, ok = r.Get(s.ID)
	assert.False(t, ok)

	assert.NoError(t, r.Insert(newSession(r, "u1", domain.ProtocolInvitation)))
}

func TestExpiredWindow(t *testing.T) {
	r := NewRegistry(WithExpiredWindow(50*time.Millisecond, 2))

	r.Expire("u1", "a")
	assert.True(t, r.IsExpired("u1", "a"))
	assert.False(t, r.IsExpired("u1", "b"))

	r.Expire("u1", "b")
	r.Expire("u1", "c")
	assert.False(t, r.IsExpired("u1", "a"), "evicted by capacity")

	assert.Eventually(t, func() bool { return !r.IsExpired("u1", "c") }, time.Second, 10*time.Millisecond)
}

func TestExpiredIsScopedByRemote(t *testing.T) {
	r := NewRegistry()
	const id domain.SessionID = "1700000000000_announcement"

	r.Expire("a", id)
	assert.True(t, r.IsExpired("a", id))
	assert.False(t, r.IsExpired("b", id), "same id from another sender is unrelated")

	r.Expire("b", id)
	assert.True(t, r.IsExpired("b", id))
}

func TestCloseStopsMachines(t *testing.T) {
	c := clock.Fake(time.Unix(0, 0))
	r := NewRegistry()
	s := &Session{ID: r.NewSessionID(domain.ProtocolInvitation), Remote: "u1", Protocol: domain.ProtocolInvitation,
		Machine: fsm.NewInvitation(fsm.WithClock(c))}
	require.NoError(t, r.Insert(s))
	require.NoError(t, s.Machine.Transition(fsm.EventSend, fsm.Payload{}))
	require.Equal(t, 1, c.Pending())

	r.Expire(s.Remote, s.ID)
	r.Close()
	assert.Zero(t, r.Len())
	assert.Zero(t, c.Pending())
	assert.False(t, r.IsExpired(s.Remote, s.ID))
}
