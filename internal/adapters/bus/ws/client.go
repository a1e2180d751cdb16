// Package ws is a core.Bus over the relay's WebSocket endpoint.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/Classroom/internal/adapters/wire"
	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait     = 5 * time.Second
	handshakeWait = 5 * time.Second
)

var (
	ErrClosed    = errors.New("ws bus: closed")
	ErrHandshake = errors.New("ws bus: no welcome from relay")
)

type Client struct {
	conn  *websocket.Conn
	self  domain.UserID
	group domain.GroupID

	writeMu sync.Mutex

	mu      sync.RWMutex
	handler func(core.Message)

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the relay at rawURL as user in group and waits for the
// relay to confirm the join.
func Dial(ctx context.Context, rawURL string, group domain.GroupID, user domain.UserID) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("ws bus: parse url: %w", err)
	}
	q := u.Query()
	q.Set("group", string(group))
	q.Set("user", string(user))
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("ws bus: dial %s: %w", u.Redacted(), err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeWait))
	var hello wire.Frame
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != wire.TypeWelcome {
		_ = conn.Close()
		return nil, errors.Join(ErrHandshake, err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := &Client{conn: conn, self: user, group: group, done: make(chan struct{})}
	log.Info().Str("module", "bus.ws").Str("user", string(user)).Str("group", string(group)).Str("cid", hello.ID).Msg("connected")
	go c.readLoop()
	return c, nil
}

func (c *Client) Self() domain.UserID { return c.self }

func (c *Client) Send(ctx context.Context, msg core.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	msg.From = c.self
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("ws bus: marshal: %w", err)
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) Subscribe(handler func(core.Message)) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
}

func (c *Client) readLoop() {
	defer c.Close()
	c.conn.SetPingHandler(func(data string) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Warn().Err(err).Str("module", "bus.ws").Str("user", string(c.self)).Msg("read failed")
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var f wire.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Warn().Err(err).Str("module", "bus.ws").Msg("bad frame")
		return
	}
	if wire.IsControl(f.Type) {
		if code := wire.ErrorCode(f); code != "" {
			log.Debug().Str("module", "bus.ws").Str("to", string(f.To)).Str("code", code).Msg("relay error")
		}
		return
	}

	msg := core.Message{Type: domain.MessageType(f.Type), To: f.To, From: f.From}
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, &msg.Body); err != nil {
			log.Warn().Err(err).Str("module", "bus.ws").Str("type", f.Type).Msg("bad body")
			return
		}
	}

	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h == nil {
		log.Debug().Str("module", "bus.ws").Str("type", f.Type).Msg("no subscriber, message dropped")
		return
	}
	h(msg)
}

var _ core.Bus = (*Client)(nil)
