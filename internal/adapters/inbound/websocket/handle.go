package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
)

// Inbound control frames a subscriber may send.
const (
	controlSubscribe   = "subscribe"
	controlUnsubscribe = "unsubscribe"
)

type controlMessage struct {
	Type string `json:"type"`
}

type enqueueResult int

const (
	enqueued enqueueResult = iota
	enqueueFull
	enqueueClosed
)

// Handle is one subscriber connection. Frames are written by a single
// writer goroutine in the order they were queued.
type Handle struct {
	id   string
	hub  *Hub
	conn *gorilla.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newHandle(hub *Hub, conn *gorilla.Conn) *Handle {
	return &Handle{
		id:   uuid.NewString(),
		hub:  hub,
		conn: conn,
		send: make(chan []byte, hub.config.SendBufferSize),
		done: make(chan struct{}),
	}
}

// ID returns the connection identifier used in logs.
func (c *Handle) ID() string {
	return c.id
}

func (c *Handle) start() {
	c.conn.SetReadLimit(c.hub.config.ReadLimit)
	go c.writeLoop()
	go c.readLoop()
}

func (c *Handle) enqueue(payload []byte) enqueueResult {
	select {
	case <-c.done:
		return enqueueClosed
	default:
	}

	select {
	case c.send <- payload:
		return enqueued
	default:
		return enqueueFull
	}
}

func (c *Handle) writeLoop() {
	var ping <-chan time.Time
	if c.hub.config.PingInterval > 0 {
		ticker := time.NewTicker(c.hub.config.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	ctx := context.Background()
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout)); err != nil {
				c.fail("failed to set write deadline", err)
				return
			}
			if err := c.conn.WriteMessage(gorilla.TextMessage, payload); err != nil {
				c.hub.config.Telemetry.recordFrameDropped(ctx, dropWriteFailed)
				c.fail("failed to write notification", err)
				return
			}
			c.hub.config.Telemetry.recordFrameSent(ctx)
		case <-ping:
			deadline := time.Now().Add(c.hub.config.WriteTimeout)
			if err := c.conn.WriteControl(gorilla.PingMessage, nil, deadline); err != nil {
				c.fail("failed to ping subscriber", err)
				return
			}
		}
	}
}

// readLoop consumes inbound frames until the connection ends, then removes
// the handle from the hub.
func (c *Handle) readLoop() {
	defer c.hub.Disconnect(c)
	defer c.close()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if gorilla.IsUnexpectedCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway, gorilla.CloseNoStatusReceived) {
				c.hub.logger.Warn("subscriber connection lost", "id", c.id, "error", err)
			}
			return
		}
		if messageType != gorilla.TextMessage {
			continue
		}
		c.handleControl(data)
	}
}

func (c *Handle) handleControl(data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.hub.logger.Debug("ignoring non-JSON frame from subscriber", "id", c.id)
		return
	}

	switch msg.Type {
	case controlSubscribe:
		if !c.hub.attach(c) {
			c.hub.logger.Info("ignoring subscribe from superseded subscriber", "id", c.id)
			return
		}
		c.hub.logger.Info("subscriber subscribed", "id", c.id)
	case controlUnsubscribe:
		c.hub.detach(c)
		c.hub.logger.Info("subscriber unsubscribed", "id", c.id)
	default:
		c.hub.logger.Debug("ignoring frame from subscriber", "id", c.id, "type", msg.Type)
	}
}

func (c *Handle) fail(msg string, err error) {
	c.hub.logger.Warn(msg, "id", c.id, "error", err)
	c.close()
}

func (c *Handle) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// closeWithReason sends a close frame before closing the connection.
func (c *Handle) closeWithReason(code int, reason string) {
	deadline := time.Now().Add(c.hub.config.WriteTimeout)
	_ = c.conn.WriteControl(gorilla.CloseMessage, gorilla.FormatCloseMessage(code, reason), deadline)
	c.close()
}
