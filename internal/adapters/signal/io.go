package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/Classroom/internal/adapters/wire"
	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *RelayWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *RelayWSController) readPump(ctx context.Context, cid core.ConnID, user domain.UserID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("cid", string(cid)).Msg("readPump closing")
		ctl.Relay.OnDisconnect(cid)
		c.Close()
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(user)
		}
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("cid", string(cid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Error().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
			ctl.handleFrame(cid, user, c, data)
		}
	}
}

func (ctl *RelayWSController) handleFrame(cid core.ConnID, user domain.UserID, c *WsSignalConn, data []byte) {
	var f wire.Frame
	if err := json.Unmarshal(data, &f); err != nil || f.Type == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendJSON(c, wire.ErrorFrame("", wire.CodeBadPayload))
		return
	}

	if f.Type == wire.TypePing {
		ctl.sendJSON(c, wire.Frame{Type: wire.TypePong})
		return
	}
	if wire.IsControl(f.Type) {
		log.Warn().Str("module", "signal").Str("user", string(user)).Str("type", f.Type).Msg("client sent relay control frame")
		ctl.sendJSON(c, wire.ErrorFrame("", wire.CodeBadPayload))
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(user) {
		log.Warn().Str("module", "signal").Str("user", string(user)).Msg("rate limited")
		ctl.sendJSON(c, wire.ErrorFrame("", wire.CodeRateLimited))
		return
	}

	f.From = user
	f.ID = uuid.NewString()
	out, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("relay marshal")
		return
	}
	if !ctl.Relay.OnFrame(cid, f.To, out) {
		log.Debug().Str("module", "signal").Str("to", string(f.To)).Str("type", f.Type).Msg("destination not connected")
		ctl.sendJSON(c, wire.ErrorFrame(f.To, wire.CodeUnreachable))
	}
}

func (ctl *RelayWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
