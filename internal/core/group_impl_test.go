package core

import (
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Classroom/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConn struct {
	got  []Frame
	full bool
}

func (c *stubConn) TrySend(f Frame) error {
	if c.full {
		return errors.New("full")
	}
	c.got = append(c.got, f)
	return nil
}

func (c *stubConn) Close() {}

func member(id domain.UserID) (MemberSession, *stubConn) {
	c := &stubConn{}
	return NewMemberSession(domain.NewMember(id, "g", time.UnixMilli(42)), c), c
}

func TestGroupSendToAndBroadcast(t *testing.T) {
	g := NewGroupService("g")
	t1, ct := member("t1")
	u1, cu1 := member("u1")
	u2, cu2 := member("u2")
	g.AddMember("c-t1", t1)
	g.AddMember("c-u1", u1)
	g.AddMember("c-u2", u2)
	require.Equal(t, 3, g.MemberCount())

	res, ok := g.SendTo("u1", Frame("x"))
	require.True(t, ok)
	assert.Equal(t, 1, res.SendTo)
	assert.Len(t, cu1.got, 1)

	_, ok = g.SendTo("nobody", Frame("x"))
	assert.False(t, ok)

	cu2.full = true
	res = g.Broadcast("c-t1", Frame("y"))
	assert.Equal(t, 1, res.SendTo)
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, domain.UserID("u2"), res.Dropped[0].Meta().ID)
	assert.Empty(t, ct.got)
}

func TestGroupReplacesSameUser(t *testing.T) {
	g := NewGroupService("g")
	first, _ := member("u1")
	second, c2 := member("u1")

	assert.Nil(t, g.AddMember("c1", first))
	assert.Equal(t, first, g.AddMember("c2", second))
	assert.Equal(t, 1, g.MemberCount())

	// removing the stale connection keeps the new one addressable
	g.RemoveMember("c1")
	_, ok := g.SendTo("u1", Frame("z"))
	assert.True(t, ok)
	assert.Len(t, c2.got, 1)

	g.RemoveMember("c2")
	assert.Zero(t, g.MemberCount())
	assert.Empty(t, g.MembersSnapshot())
}

func TestGroupSnapshot(t *testing.T) {
	g := NewGroupService("g")
	u1, _ := member("u1")
	g.AddMember("c1", u1)
	assert.Equal(t, []MemberDTO{{ID: "u1", JoinedAt: 42}}, g.MembersSnapshot())
}
