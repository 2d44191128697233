package syncserver

import (
	"log/slog"
	"sync"

	"github.com/LaazAlae/expenseTracker-sub000/pkg/syncproto"
)

// Hub owns the connection registry: every live connection, plus an index by
// authenticated user id (a user may hold several sockets at once). All state
// is instance-owned and injected where needed; there are no package-level
// registries.
type Hub struct {
	logger *slog.Logger

	mu     sync.RWMutex
	conns  map[string]*connection            // connection id -> connection
	byUser map[string]map[string]*connection // user id -> connection id -> connection
	userOf map[string]string                 // connection id -> registered user id
}

// NewHub creates an empty registry.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		conns:  make(map[string]*connection),
		byUser: make(map[string]map[string]*connection),
		userOf: make(map[string]string),
	}
}

// register admits an authenticated connection under its user id. A
// connection that re-authenticates as a different user is moved, not
// duplicated, in the per-user index.
func (h *Hub) register(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	userID := c.boundUserID()
	if prev, ok := h.userOf[c.id]; ok && prev != userID {
		h.removeFromUserIndexLocked(prev, c.id)
	}
	h.conns[c.id] = c
	h.userOf[c.id] = userID
	userConns, ok := h.byUser[userID]
	if !ok {
		userConns = make(map[string]*connection)
		h.byUser[userID] = userConns
	}
	userConns[c.id] = c
}

// unregister removes a connection. Safe to call for connections that never
// authenticated.
func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c.id)
	if userID, ok := h.userOf[c.id]; ok {
		h.removeFromUserIndexLocked(userID, c.id)
		delete(h.userOf, c.id)
	}
}

func (h *Hub) removeFromUserIndexLocked(userID, connID string) {
	if userConns, ok := h.byUser[userID]; ok {
		delete(userConns, connID)
		if len(userConns) == 0 {
			delete(h.byUser, userID)
		}
	}
}

// closeUser closes every connection registered under userID (the account was
// deleted or otherwise revoked).
func (h *Hub) closeUser(userID string) {
	h.mu.RLock()
	conns := make([]*connection, 0, len(h.byUser[userID]))
	for _, c := range h.byUser[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		h.logger.Info("Closing connection for revoked user",
			slog.String("conn_id", c.id),
			slog.String("user_id", userID),
		)
		c.closeAsync()
	}
}

// Broadcast queues an envelope on every authenticated connection. The send is
// non-blocking: a connection whose outbound buffer is full is closed rather
// than allowed to stall the mutation that triggered the broadcast.
func (h *Hub) Broadcast(envelope syncproto.Envelope) {
	h.mu.RLock()
	conns := make([]*connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if !c.trySend(envelope) {
			h.logger.Warn("Dropping slow connection",
				slog.String("conn_id", c.id),
				slog.String("user_id", c.boundUserID()),
			)
			c.closeAsync()
		}
	}
}

// ConnectionCount reports the number of authenticated connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
