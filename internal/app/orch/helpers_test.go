package orch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Classroom/internal/clock"
	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/stretchr/testify/require"
)

type recordingBus struct {
	mu   sync.Mutex
	sent []core.Message
}

func (b *recordingBus) Send(_ context.Context, msg core.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, msg)
	return nil
}

func (b *recordingBus) of(t domain.MessageType) []core.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []core.Message
	for _, m := range b.sent {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// wait blocks until n messages of type t were sent and returns them.
func (b *recordingBus) wait(tb testing.TB, t domain.MessageType, n int) []core.Message {
	tb.Helper()
	require.Eventually(tb, func() bool { return len(b.of(t)) >= n }, time.Second, 2*time.Millisecond,
		"waiting for %d %s", n, t)
	return b.of(t)
}

const (
	teacherID domain.UserID = "t1"
	studentID domain.UserID = "u1"
)

func testOptions(c clock.Clock) Options {
	return Options{Clock: c, RetryInterval: 10 * time.Millisecond, RetryLimit: limit(2)}
}

func limit(n int) *int { return &n }

func newTeacher(t *testing.T, opts Options) (*Initiator, *recordingBus) {
	t.Helper()
	bus := &recordingBus{}
	o, err := New(domain.RoleTeacher, teacherID, bus, opts)
	require.NoError(t, err)
	t.Cleanup(o.Close)
	return o.(*Initiator), bus
}

func newStudent(t *testing.T, opts Options) (*Responder, *recordingBus) {
	t.Helper()
	bus := &recordingBus{}
	opts.Teacher = teacherID
	o, err := New(domain.RoleStudent, studentID, bus, opts)
	require.NoError(t, err)
	t.Cleanup(o.Close)
	return o.(*Responder), bus
}

func from(sender domain.UserID, t domain.MessageType, body domain.Body) core.Message {
	return core.Message{Type: t, From: sender, Body: body}
}

func fakeClock() *clock.FakeClock { return clock.Fake(time.UnixMilli(1700000000000)) }
