// Package hub provides the realtime fan-out registry: the set of live,
// authenticated WebSocket connections per user.
//
// The hub is an injectable service object owned by the server process:
// created at startup, passed to the transport adapters, and torn down at
// shutdown. It never originates messages itself; adapters hand it
// pre-encoded payloads to distribute.
package hub

import (
	"context"
	"log"
	"os"
	"sync"
	"time"
)

// sendTimeout bounds one delivery so a slow client cannot stall the
// broadcast of a mutation to its siblings.
const sendTimeout = 5 * time.Second

// Conn is the handle the hub holds for one live connection.
type Conn interface {
	// Send delivers one text frame to the peer.
	Send(ctx context.Context, data []byte) error

	// Ready reports whether the connection is in an open, authenticated
	// state. The hub silently skips connections that are not ready.
	Ready() bool
}

// Hub maintains userID -> set of live connection handles.
type Hub struct {
	mu     sync.RWMutex
	users  map[string]map[Conn]bool
	closed bool
	logger *log.Logger
}

// New creates an empty hub.
func New(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(os.Stderr, "[hub] ", log.LstdFlags)
	}
	return &Hub{
		users:  make(map[string]map[Conn]bool),
		logger: logger,
	}
}

// Register adds an authenticated connection to the user's set.
func (h *Hub) Register(userID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	set, ok := h.users[userID]
	if !ok {
		set = make(map[Conn]bool)
		h.users[userID] = set
	}
	set[conn] = true
	h.logger.Printf("Connection registered for user %s (now %d)", userID, len(set))
}

// Unregister removes a connection from the user's set. Safe to call for a
// connection that was never registered.
func (h *Hub) Unregister(userID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.users[userID]
	if !ok || !set[conn] {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.users, userID)
	}
	h.logger.Printf("Connection unregistered for user %s (now %d)", userID, len(set))
}

// Broadcast sends data to every connection in the user's set except
// exclude (the originator, which already received a direct ack).
// Connections that are not ready are skipped silently; connections whose
// send fails are dropped from the set.
func (h *Hub) Broadcast(userID string, data []byte, exclude Conn) {
	h.mu.RLock()
	var targets []Conn
	for conn := range h.users[userID] {
		if conn == exclude {
			continue
		}
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	// Sends happen outside the lock so one slow peer cannot block
	// registration or other users' broadcasts.
	for _, conn := range targets {
		if !conn.Ready() {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := conn.Send(ctx, data)
		cancel()
		if err != nil {
			h.logger.Printf("Dropping connection for user %s after failed send: %v", userID, err)
			h.Unregister(userID, conn)
		}
	}
}

// Count returns the number of live connections for one user.
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// TotalCount returns the number of live connections across all users.
func (h *Hub) TotalCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, set := range h.users {
		total += len(set)
	}
	return total
}

// Close empties the registry and rejects further registrations. The caller
// is responsible for closing the underlying sockets.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.users = make(map[string]map[Conn]bool)
}
