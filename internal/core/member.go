package core

import "github.com/dkeye/Classroom/internal/domain"

// ConnID identifies one relay connection, not a protocol session.
type ConnID string

// Frame is one encoded relay frame, already addressed.
type Frame []byte

// SignalConnection is the write side of a relay connection. The adapter
// that created it owns Close.
type SignalConnection interface {
	// TrySend queues f without blocking and fails when the peer is behind.
	TrySend(f Frame) error
	Close()
}

// MemberSession is what a group fans frames out to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
}

type memberSession struct {
	meta *domain.Member
	sig  SignalConnection
}

func NewMemberSession(meta *domain.Member, sig SignalConnection) MemberSession {
	return &memberSession{meta: meta, sig: sig}
}

func (m *memberSession) Meta() *domain.Member     { return m.meta }
func (m *memberSession) Signal() SignalConnection { return m.sig }
