package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"delivery-core/internal/common/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
)

// Frame is the wire format in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(event string, payload json.RawMessage) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: payload})
}

// Conn is one websocket client. Outbound frames go through a bounded queue
// drained by writeLoop; a client that falls behind is disconnected.
type Conn struct {
	id           string
	hub          *Hub
	ws           *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	logger       logger.Logger
}

func newConn(hub *Hub, ws *websocket.Conn, buffer int, writeTimeout time.Duration) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:           id,
		hub:          hub,
		ws:           ws,
		send:         make(chan []byte, buffer),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		logger:       hub.logger.WithFields(map[string]interface{}{"connId": id}),
	}
}

func (c *Conn) ID() string { return c.id }

// enqueue never blocks the emitter.
func (c *Conn) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn("send queue full, dropping slow connection", map[string]interface{}{"queued": len(c.send)})
		c.Close()
		return false
	}
}

// Emit queues an event for this connection only.
func (c *Conn) Emit(event string, data interface{}) bool {
	payload, err := json.Marshal(data)
	if err != nil {
		c.logger.Error("failed to encode event payload", map[string]interface{}{"event": event, "error": err.Error()})
		return false
	}
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return false
	}
	return c.enqueue(frame)
}

// Close is safe to call more than once and from any goroutine.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.unregister(c)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

// serve runs the connection until the client goes away. Events are handed to
// dispatch in arrival order.
func (c *Conn) serve(ctx context.Context, dispatch func(ctx context.Context, c *Conn, f Frame)) {
	c.hub.register(c)
	go c.writeLoop()
	defer c.Close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("connection closed unexpectedly", map[string]interface{}{"error": err.Error()})
			}
			return
		}
		dispatch(ctx, c, f)
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("write failed", map[string]interface{}{"error": err.Error()})
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
