package syncserver

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/LaazAlae/expenseTracker-sub000/pkg/syncproto"
)

// connState tracks a connection's lifecycle: transport established, identity
// bound, or terminally closed.
type connState int

const (
	stateConnected connState = iota
	stateAuthenticated
	stateClosed
)

const sendBufferSize = 64

// connection wraps one websocket. Reads happen on the serve goroutine; writes
// go through the buffered send channel and a dedicated writer goroutine so a
// broadcast never blocks on a slow peer.
type connection struct {
	id     string
	ws     *websocket.Conn
	logger *slog.Logger

	send chan syncproto.Envelope
	done chan struct{}

	mu     sync.Mutex
	state  connState
	userID string
}

func newConnection(id string, ws *websocket.Conn, logger *slog.Logger) *connection {
	return &connection{
		id:     id,
		ws:     ws,
		logger: logger,
		send:   make(chan syncproto.Envelope, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// bind transitions the connection to authenticated under userID. Returns
// false if the connection already closed.
func (c *connection) bind(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return false
	}
	c.state = stateAuthenticated
	c.userID = userID
	return true
}

// boundUserID returns the authenticated identity, or "" before bind.
func (c *connection) boundUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *connection) authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateAuthenticated
}

// trySend queues an envelope without blocking. Returns false when the buffer
// is full or the connection is closed.
func (c *connection) trySend(envelope syncproto.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- envelope:
		return true
	default:
		return false
	}
}

// closeAsync marks the connection closed and tears down the socket. Safe to
// call multiple times from any goroutine.
func (c *connection) closeAsync() {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return
	}
	c.state = stateClosed
	c.mu.Unlock()

	close(c.done)
	_ = c.ws.Close()
}

// writePump drains the send channel onto the socket, applying a per-message
// write deadline, and emits websocket-level pings on pingInterval.
func (c *connection) writePump(writeTimeout, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case envelope := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteJSON(envelope); err != nil {
				c.logger.Debug("Write failed, closing connection", slog.String("error", err.Error()))
				c.closeAsync()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.closeAsync()
				return
			}
		case <-c.done:
			return
		}
	}
}
