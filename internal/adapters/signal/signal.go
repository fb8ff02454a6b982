package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Tasting/internal/app/orch"
	"github.com/dkeye/Tasting/internal/core"
	"github.com/dkeye/Tasting/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	SendBuffer   int
	InboundRate  float64
	InboundBurst int
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:    32768,
		PingPeriod:   54 * time.Second,
		SendBuffer:   64,
		InboundRate:  20,
		InboundBurst: 40,
	}
}

type SignalWSController struct {
	Orch     *orch.Orchestrator
	validate *validator.Validate
	opts     Options
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	return &SignalWSController{
		Orch:     o,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		opts:     opts,
	}
}

// WsSignalConn is the core.SignalConnection of one websocket. Frames are
// queued on send and written by writePump.
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
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
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

// HandleSignal upgrades an authenticated request and runs the connection
// until either side goes away.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context, user domain.User) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}
	client := core.NewClient(core.ConnID(uuid.NewString()), user, conn)
	ctl.Orch.Connect(client)
	log.Info().Str("module", "signal").Str("conn", string(client.ID)).Str("user", string(user.ID)).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, client, conn)
}
