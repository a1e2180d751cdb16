package signal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Classroom/internal/adapters/wire"
	"github.com/dkeye/Classroom/internal/app"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRelayServer(t *testing.T, opts Options) (*httptest.Server, *RelayWSController) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctl := NewRelayWSController(app.NewRelay(app.NewGroupManager(), app.SimplePolicy{}), opts)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.HandleRelay(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, ctl
}

func dial(t *testing.T, srv *httptest.Server, group, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?group=" + group + "&user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	welcome := read(t, conn)
	require.Equal(t, wire.TypeWelcome, welcome.Type)
	assert.Equal(t, domain.UserID(user), welcome.To)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) wire.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f wire.Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func write(t *testing.T, conn *websocket.Conn, f wire.Frame) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(f))
}

func TestRelayDirectFrameStampsSender(t *testing.T) {
	srv, _ := newRelayServer(t, Options{})
	teacher := dial(t, srv, "class", "t1")
	student := dial(t, srv, "class", "u1")

	write(t, teacher, wire.Frame{Type: "interaction_invitation", To: "u1", From: "spoofed", Data: json.RawMessage(`{"sessionId":"1_invitation"}`)})

	got := read(t, student)
	assert.Equal(t, "interaction_invitation", got.Type)
	assert.Equal(t, domain.UserID("t1"), got.From)
	assert.NotEmpty(t, got.ID)
	assert.JSONEq(t, `{"sessionId":"1_invitation"}`, string(got.Data))
}

func TestRelayBroadcastSkipsSender(t *testing.T) {
	srv, ctl := newRelayServer(t, Options{})
	teacher := dial(t, srv, "class", "t1")
	a := dial(t, srv, "class", "u1")
	b := dial(t, srv, "class", "u2")
	require.Eventually(t, func() bool { return ctl.Relay.Connections() == 3 }, time.Second, time.Millisecond)

	write(t, teacher, wire.Frame{Type: "all_mic_muted"})
	assert.Equal(t, "all_mic_muted", read(t, a).Type)
	assert.Equal(t, "all_mic_muted", read(t, b).Type)

	// the sender only sees its own pong
	write(t, teacher, wire.Frame{Type: wire.TypePing})
	assert.Equal(t, wire.TypePong, read(t, teacher).Type)
}

func TestRelayUnreachableAndBadPayload(t *testing.T) {
	srv, _ := newRelayServer(t, Options{})
	teacher := dial(t, srv, "class", "t1")

	write(t, teacher, wire.Frame{Type: "interaction_invitation", To: "nobody"})
	f := read(t, teacher)
	assert.Equal(t, wire.TypeError, f.Type)
	assert.JSONEq(t, `{"error":"unreachable"}`, string(f.Data))

	require.NoError(t, teacher.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f = read(t, teacher)
	assert.Equal(t, wire.TypeError, f.Type)
	assert.JSONEq(t, `{"error":"bad_payload"}`, string(f.Data))

	// control frames are the relay's own and are never relayed
	write(t, teacher, wire.Frame{Type: wire.TypeWelcome, To: "t1"})
	assert.Equal(t, wire.CodeBadPayload, wire.ErrorCode(read(t, teacher)))
}

func TestRelayRateLimit(t *testing.T) {
	srv, _ := newRelayServer(t, Options{RateLimit: 2, RateWindow: time.Hour})
	teacher := dial(t, srv, "class", "t1")
	student := dial(t, srv, "class", "u1")

	for range 3 {
		write(t, teacher, wire.Frame{Type: "mic_changed", To: "u1"})
	}
	assert.Equal(t, "mic_changed", read(t, student).Type)
	assert.Equal(t, "mic_changed", read(t, student).Type)

	f := read(t, teacher)
	assert.Equal(t, wire.TypeError, f.Type)
	assert.JSONEq(t, `{"error":"rate_limited"}`, string(f.Data))
}

func TestRelayRejectsBadQuery(t *testing.T) {
	srv, _ := newRelayServer(t, Options{})
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(base+"?user=u1", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(base+"?group=class", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestRelayDisconnectLeavesGroup(t *testing.T) {
	srv, ctl := newRelayServer(t, Options{})
	conn := dial(t, srv, "class", "t1")
	require.Eventually(t, func() bool { return len(ctl.Relay.Groups.List()) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return ctl.Relay.Connections() == 0 && len(ctl.Relay.Groups.List()) == 0
	}, time.Second, 5*time.Millisecond)
}
