package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Classroom/internal/adapters/signal"
	"github.com/dkeye/Classroom/internal/adapters/wire"
	"github.com/dkeye/Classroom/internal/app"
	"github.com/dkeye/Classroom/internal/app/fsm"
	"github.com/dkeye/Classroom/internal/app/orch"
	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func relayURL(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctl := signal.NewRelayWSController(app.NewRelay(app.NewGroupManager(), app.SimplePolicy{}), signal.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := gin.New()
	r.GET("/api/ws/relay", func(c *gin.Context) { ctl.HandleRelay(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/relay"
}

func connect(t *testing.T, url string, user domain.UserID) *Client {
	t.Helper()
	c, err := Dial(context.Background(), url, "class", user)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

type inbox struct {
	mu   sync.Mutex
	msgs []core.Message
}

func (b *inbox) add(m core.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, m)
}

func (b *inbox) snapshot() []core.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]core.Message(nil), b.msgs...)
}

func TestClientRoundTrip(t *testing.T) {
	url := relayURL(t)
	a, b := connect(t, url, "t1"), connect(t, url, "u1")

	var ib inbox
	b.Subscribe(ib.add)

	require.NoError(t, a.Send(context.Background(), core.Message{
		Type: domain.MsgToggleMic,
		To:   "u1",
		Body: domain.Body{SessionID: "1_toggle_mic", StudentID: "u1", TurnOn: domain.Bool(true)},
	}))

	require.Eventually(t, func() bool { return len(ib.snapshot()) == 1 }, 2*time.Second, time.Millisecond)
	got := ib.snapshot()[0]
	assert.Equal(t, domain.MsgToggleMic, got.Type)
	assert.Equal(t, domain.UserID("t1"), got.From)
	assert.Equal(t, domain.SessionID("1_toggle_mic"), got.Body.SessionID)
	assert.True(t, domain.BoolValue(got.Body.TurnOn, false))
}

func TestClientDispatchSkipsControlFrames(t *testing.T) {
	c := &Client{self: "u1", done: make(chan struct{})}
	var ib inbox
	c.Subscribe(ib.add)

	frames := []wire.Frame{
		{Type: wire.TypeWelcome, To: "u1"},
		{Type: wire.TypePong},
		wire.ErrorFrame("t1", wire.CodeUnreachable),
		{Type: string(domain.MsgMicChanged), From: "t1", Data: json.RawMessage(`{"sessionId":"1_announcement","micOpened":true}`)},
	}
	for _, f := range frames {
		b, err := json.Marshal(f)
		require.NoError(t, err)
		c.dispatch(b)
	}

	got := ib.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, domain.MsgMicChanged, got[0].Type)
	assert.Equal(t, domain.UserID("t1"), got[0].From)
	assert.True(t, domain.BoolValue(got[0].Body.MicOpened, false))
}

func TestClientDialFailsWithoutUser(t *testing.T) {
	_, err := Dial(context.Background(), relayURL(t), "class", "")
	require.Error(t, err)
}

func TestClientSendAfterClose(t *testing.T) {
	c := connect(t, relayURL(t), "t1")
	c.Close()
	assert.ErrorIs(t, c.Send(context.Background(), core.Message{Type: domain.MsgAllMicMuted}), ErrClosed)
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed")
	}
}

func TestOrchestratorsOverRelay(t *testing.T) {
	url := relayURL(t)
	tc, sc := connect(t, url, "t1"), connect(t, url, "u1")

	retries := 5
	opts := orch.Options{RetryInterval: 50 * time.Millisecond, RetryLimit: &retries}
	to, err := orch.New(domain.RoleTeacher, "t1", tc, opts)
	require.NoError(t, err)
	t.Cleanup(to.Close)
	opts.Teacher = "t1"
	so, err := orch.New(domain.RoleStudent, "u1", sc, opts)
	require.NoError(t, err)
	t.Cleanup(so.Close)
	tc.Subscribe(to.HandleMessage)
	sc.Subscribe(so.HandleMessage)

	teacher, student := to.(*orch.Initiator), so.(*orch.Responder)

	student.OnNotice(orch.NoticeInvitationReceived, func(orch.Notice) {
		assert.NoError(t, student.AcceptInvitation())
	})
	m, err := teacher.Invite("u1")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return m.Is(fsm.StateAccepted) }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []domain.UserID{"u1"}, teacher.OnStage())

	ended := make(chan struct{}, 1)
	student.OnNotice(orch.NoticeInteractionEnded, func(orch.Notice) {
		select {
		case ended <- struct{}{}:
		default:
		}
	})
	require.NoError(t, teacher.EndInteraction("u1"))
	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("student never saw the end of interaction")
	}
	require.Eventually(t, func() bool { return len(teacher.OnStage()) == 0 }, time.Second, time.Millisecond)
}
