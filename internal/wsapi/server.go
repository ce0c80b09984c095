// Package wsapi is the WebSocket transport adapter: the real-time sync
// channel. Each connection walks a small state machine
// (Connected -> Authenticated -> Closed); only authenticated connections
// join the fan-out hub and may mutate.
package wsapi

import (
	"context"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/markwell/bookmarkd/internal/auth"
	"github.com/markwell/bookmarkd/internal/engine"
	"github.com/markwell/bookmarkd/internal/hub"
)

// Config holds the WebSocket adapter settings.
type Config struct {
	// PingInterval is how often the liveness probe runs (default 30s).
	PingInterval time.Duration

	// PongTimeout is how long a probe waits before the connection is
	// declared dead and forcibly closed (default 10s).
	PongTimeout time.Duration

	// Logger for connection activity (default: stderr logger).
	Logger *log.Logger
}

func (c *Config) fill() {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = log.New(os.Stderr, "[ws] ", log.LstdFlags)
	}
}

// Server handles WebSocket upgrades and drives connection sessions.
type Server struct {
	engine   *engine.Engine
	hub      *hub.Hub
	verifier auth.Verifier
	logger   *log.Logger

	// Liveness settings are hot-reloadable; probes read them each cycle.
	pingInterval atomic.Int64
	pongTimeout  atomic.Int64
}

// NewServer creates the WebSocket adapter.
func NewServer(eng *engine.Engine, h *hub.Hub, verifier auth.Verifier, config Config) *Server {
	config.fill()
	s := &Server{
		engine:   eng,
		hub:      h,
		verifier: verifier,
		logger:   config.Logger,
	}
	s.SetLiveness(config.PingInterval, config.PongTimeout)
	return s
}

// SetLiveness updates the probe interval and dead-connection timeout.
// Existing connections pick the values up on their next probe cycle.
func (s *Server) SetLiveness(pingInterval, pongTimeout time.Duration) {
	if pingInterval > 0 {
		s.pingInterval.Store(int64(pingInterval))
	}
	if pongTimeout > 0 {
		s.pongTimeout.Store(int64(pongTimeout))
	}
}

// connection state machine values.
type connState int

const (
	stateConnected connState = iota
	stateAuthenticated
	stateClosed
)

// connection is one live WebSocket session. It implements hub.Conn; writes
// are serialized through writeMu since the liveness pinger and broadcasts
// run on different goroutines than the read loop.
type connection struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	state    connState
	userID   string
	clientID string
}

// Send implements hub.Conn.
func (c *connection) Send(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Ready implements hub.Conn: only authenticated connections receive
// broadcasts.
func (c *connection) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateAuthenticated
}

func (c *connection) currentState() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *connection) authenticate(userID, clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = stateAuthenticated
	c.userID = userID
	c.clientID = clientID
}

func (c *connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = stateClosed
}

// HandleWS upgrades the request and runs the session to completion.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	conn := &connection{ws: ws}
	s.runSession(r.Context(), conn)
}

// runSession drives one connection from Connected to Closed.
func (s *Server) runSession(ctx context.Context, conn *connection) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	defer func() {
		conn.close()
		if conn.userID != "" {
			s.hub.Unregister(conn.userID, conn)
		}
		_ = conn.ws.Close(websocket.StatusNormalClosure, "")
	}()

	// The server opens with an auth challenge.
	if err := s.send(ctx, conn, authRequiredMsg()); err != nil {
		return
	}

	for {
		_, data, err := conn.ws.Read(ctx)
		if err != nil {
			return
		}

		msg, err := parseClientMessage(data)
		if err != nil {
			// Malformed frames are reported but do not close the
			// connection.
			_ = s.send(ctx, conn, errorMsg("", CodeInvalidRequest, err.Error()))
			continue
		}

		if conn.currentState() != stateAuthenticated {
			if done := s.handleUnauthenticated(ctx, conn, msg); done {
				return
			}
			continue
		}

		s.handleAuthenticated(ctx, conn, msg)
	}
}

// handleUnauthenticated accepts only auth and ping before the handshake.
// Returns true when the session must end (failed auth).
func (s *Server) handleUnauthenticated(ctx context.Context, conn *connection, msg *ClientMessage) bool {
	switch msg.Type {
	case ClientPing:
		_ = s.send(ctx, conn, pongMsg(msg.Timestamp))
		return false

	case ClientAuth:
		userID, err := s.verifier.Verify(msg.Token)
		if err != nil {
			_ = s.send(ctx, conn, authErrorMsg("authentication failed"))
			conn.close()
			_ = conn.ws.Close(websocket.StatusCode(CloseAuthFailed), "auth failed")
			return true
		}

		conn.authenticate(userID, msg.ClientID)
		s.hub.Register(userID, conn)
		s.logger.Printf("Client %s authenticated as user %s", msg.ClientID, userID)

		if err := s.send(ctx, conn, authSuccessMsg(userID)); err != nil {
			return true
		}

		// Reclaim dead sockets whose transport dropped silently.
		go s.livenessLoop(ctx, conn)
		return false

	default:
		// Mutating/sync messages before auth have no side effects.
		_ = s.send(ctx, conn, errorMsg(msg.RequestID, CodeAuthRequired, "authenticate first"))
		return false
	}
}

// handleAuthenticated dispatches the full message set.
func (s *Server) handleAuthenticated(ctx context.Context, conn *connection, msg *ClientMessage) {
	switch msg.Type {
	case ClientPing:
		_ = s.send(ctx, conn, pongMsg(msg.Timestamp))

	case ClientAuth:
		// Re-auth on a live session is a no-op acknowledgement.
		_ = s.send(ctx, conn, authSuccessMsg(conn.userID))

	case ClientSyncRequest:
		s.handleSyncRequest(ctx, conn, msg)

	case ClientSyncClear:
		if err := s.engine.Clear(ctx, conn.userID); err != nil {
			s.logger.Printf("sync_clear failed for user %s: %v", conn.userID, err)
			_ = s.send(ctx, conn, errorMsg(msg.RequestID, CodeServerError, "clear failed"))
			return
		}
		// The cleared client re-syncs from scratch.
		_ = s.send(ctx, conn, syncFullMsg(nil, 0))

	case ClientBookmarkCreate:
		s.handleCreate(ctx, conn, msg)

	case ClientBookmarkUpdate:
		s.handleUpdate(ctx, conn, msg)

	case ClientBookmarkDelete:
		s.handleDelete(ctx, conn, msg)

	case ClientBookmarkMove:
		s.handleMove(ctx, conn, msg)
	}
}

func (s *Server) handleSyncRequest(ctx context.Context, conn *connection, msg *ClientMessage) {
	res, err := s.engine.Sync(ctx, conn.userID, msg.LastSyncVersion)
	if err != nil {
		s.logger.Printf("sync_request failed for user %s: %v", conn.userID, err)
		_ = s.send(ctx, conn, errorMsg(msg.RequestID, CodeServerError, "sync failed"))
		return
	}
	if res.Full {
		_ = s.send(ctx, conn, syncFullMsg(res.Bookmarks, res.Version))
		return
	}
	_ = s.send(ctx, conn, syncIncrementalMsg(res.Events, res.Version))
}

// send encodes and delivers one server message with a write deadline.
func (s *Server) send(ctx context.Context, conn *connection, msg any) error {
	data, err := encode(msg)
	if err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return conn.Send(sendCtx, data)
}

// livenessLoop probes the peer until the session ends, forcibly closing the
// socket when a probe exceeds the configured timeout. The interval and
// timeout are re-read each cycle so config reloads apply to live sessions.
func (s *Server) livenessLoop(ctx context.Context, conn *connection) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(s.pingInterval.Load())):
			pingCtx, cancel := context.WithTimeout(ctx, time.Duration(s.pongTimeout.Load()))
			err := conn.ws.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Printf("Liveness probe failed for user %s, closing connection: %v", conn.userID, err)
				conn.close()
				_ = conn.ws.Close(websocket.StatusGoingAway, "liveness timeout")
				return
			}
		}
	}
}
