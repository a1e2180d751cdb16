// Package signal is the relay's WebSocket side: one connection per user per
// group, frames relayed by the app.Relay.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Classroom/internal/adapters/wire"
	"github.com/dkeye/Classroom/internal/app"
	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const sendQueueSize = 32

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	RateLimit  int
	RateWindow time.Duration
}

type RelayWSController struct {
	Relay   *app.Relay
	Limiter *RateLimiter
	opts    Options
}

func NewRelayWSController(relay *app.Relay, opts Options) *RelayWSController {
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 32768
	}
	ctl := &RelayWSController{Relay: relay, opts: opts}
	if opts.RateLimit > 0 && opts.RateWindow > 0 {
		ctl.Limiter = NewRateLimiter(opts.RateLimit, opts.RateWindow)
	}
	return ctl
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleRelay upgrades GET /api/ws/relay?group=&user= and binds the
// connection to the group.
func (ctl *RelayWSController) HandleRelay(ctx context.Context, c *gin.Context) {
	group := domain.GroupID(c.Query("group"))
	user := domain.UserID(c.Query("user"))
	if group == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "group required"})
		return
	}
	if err := domain.ValidateUserID(user); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.opts.ReadLimit)

	cid := core.ConnID(uuid.NewString())
	log.Info().Str("module", "signal").Str("cid", string(cid)).Str("token", c.GetString("client_token")).
		Str("group", string(group)).Str("user", string(user)).Msg("new WS connection")

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, sendQueueSize),
	}
	meta := domain.NewMember(user, group, time.Now())
	sess := core.NewMemberSession(meta, conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Relay.Join(cid, group, sess, cancel)

	ctl.sendJSON(conn, wire.Frame{ID: string(cid), Type: wire.TypeWelcome, To: user})

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cid, user, conn)
}
