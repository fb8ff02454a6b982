package signal

import (
	"context"
	"time"

	"github.com/dkeye/Tasting/internal/core"
	"github.com/dkeye/Tasting/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
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
				log.Warn().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping")
				c.Close()
				return
			}
		}
	}
}

// readPump owns the connection: when it returns the client is detached
// from every session and the socket is closed.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, client *core.Client, c *WsSignalConn) {
	defer func() {
		cancel()
		// the client is gone; cleanup must not inherit its cancellation
		ctl.Orch.Disconnect(context.WithoutCancel(ctx), client)
		c.Close()
		log.Info().Str("module", "signal").Str("conn", string(client.ID)).Msg("readPump closing")
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	inbound := newInboundLimiter(ctl.opts.InboundRate, ctl.opts.InboundBurst)
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(client.ID)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("conn", string(client.ID)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
			if !inbound.Allow() {
				ctl.Orch.Reject(client, "", "", domain.RateLimited(1))
				continue
			}
			ctl.handleSignal(ctx, client, data)
		}
	}
}
