package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/config"
)

// Client pairs one websocket connection with its session and outbox. The
// read pump dispatches inbound frames to the session one at a time, which
// gives each connection in-order event handling; the write pump drains the
// outbox. Each pump runs on its own goroutine.
type Client struct {
	conn    *websocket.Conn
	session *Session
	outbox  *Outbox
	cfg     config.GatewayConfig
	logger  *zap.Logger
}

// NewClient wires a freshly upgraded connection to its session.
//
// Precondition: session has been activated with outbox.
func NewClient(conn *websocket.Conn, session *Session, outbox *Outbox, cfg config.GatewayConfig, logger *zap.Logger) *Client {
	return &Client{
		conn:    conn,
		session: session,
		outbox:  outbox,
		cfg:     cfg,
		logger:  logger.With(zap.String("connection_id", session.ID())),
	}
}

// Run starts both pumps and blocks until the connection is gone. Cleanup
// (session termination, hub deregistration, presence purge) happens before
// Run returns.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.session.Terminate(ctx)
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("closing connection in read pump", zap.Error(err))
		}
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout)); err != nil {
		c.logger.Warn("setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("unexpected websocket close", zap.Error(err))
			} else {
				c.logger.Debug("connection closed", zap.Error(err))
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.logger.Warn("discarding malformed frame", zap.Error(err))
			continue
		}
		if frame.Event == "" {
			c.logger.Warn("discarding frame without event")
			continue
		}

		c.session.HandleEvent(ctx, frame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("closing connection in write pump", zap.Error(err))
		}
	}()

	for {
		select {
		case frame, ok := <-c.outbox.Frames():
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.logger.Warn("setting write deadline", zap.Error(err))
				return
			}
			if !ok {
				// Outbox closed: tell the peer we are done.
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					c.logger.Debug("writing close message", zap.Error(err))
				}
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("writing frame", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.logger.Warn("setting write deadline for ping", zap.Error(err))
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("writing ping", zap.Error(err))
				return
			}
		}
	}
}
