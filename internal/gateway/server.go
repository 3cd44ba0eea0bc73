// Package gateway bridges authenticated WebSocket connections to
// logical chat rooms. It owns connection upgrade and authentication,
// the in-memory room registry, and the fan-out primitives the chat
// controllers use to deliver events. Delivery is best-effort: a
// disconnected recipient misses the event and reconciles against the
// message store on reconnect.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/quizdash/chat-service/internal/metrics"
	"github.com/quizdash/chat-service/internal/protocol"
	"github.com/quizdash/chat-service/internal/session"
)

// Authenticator verifies connection credentials and yields the user
// behind them. It runs during the HTTP upgrade, before the socket
// exists, so no unauthenticated connection ever holds a room binding.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// ServerConfig holds tunable parameters for the gateway server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
}

// DefaultServerConfig returns production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Server is the real-time gateway. It upgrades and authenticates HTTP
// connections, registers sockets with the poller for read readiness,
// dispatches ready sockets to a bounded worker pool, and fans events
// out to rooms.
type Server struct {
	config       ServerConfig
	poller       *Poller
	conns        *ConnectionManager
	rooms        *RoomRegistry
	auth         Authenticator
	presence     *session.Store // optional Redis presence tracking
	workerPool   chan struct{}
	onMessage    func(conn *Connection, data []byte)
	onDisconnect func(conn *Connection)
	httpServer   *http.Server
	bufPool      sync.Pool
	done         chan struct{}
	startedAt    time.Time
}

// NewServer creates a gateway Server. onMessage is invoked from a
// worker goroutine for every complete text frame received from an
// authenticated client. presence may be nil to disable tracking.
func NewServer(config ServerConfig, auth Authenticator, presence *session.Store, onMessage func(conn *Connection, data []byte)) *Server {
	return &Server{
		config:     config,
		conns:      NewConnectionManager(),
		rooms:      NewRoomRegistry(),
		auth:       auth,
		presence:   presence,
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		done:       make(chan struct{}),
		bufPool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, 4096)
				return &buf
			},
		},
	}
}

// Start initializes the poller, wires the HTTP mux (/ws, /health,
// /metrics), launches the event loop and heartbeat, and blocks on
// ListenAndServe.
func (s *Server) Start() error {
	var err error
	s.poller, err = NewPoller()
	if err != nil {
		return fmt.Errorf("gateway: failed to create poller: %w", err)
	}

	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: mux,
	}

	go s.startEventLoop()

	StartHeartbeat(s, DefaultHeartbeatConfig())

	log.Printf("gateway: listening on %s (workers=%d, max_conns=%d)",
		s.config.ListenAddr, s.config.WorkerPoolSize, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway: http server error: %w", err)
	}
	return nil
}

// bearerToken extracts the client credential from the upgrade request:
// an Authorization: Bearer header, or a token query parameter for
// browser clients that cannot set headers on WebSocket dials.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// handleUpgrade authenticates the request, upgrades it to a WebSocket,
// and registers the connection. Authentication failures are rejected
// with an explicit 401 before the upgrade; a rejected client never
// holds a socket or a room binding.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	userID, err := s.auth.Authenticate(ctx, bearerToken(r))
	cancel()
	if err != nil {
		log.Printf("gateway: auth rejected from %s: %v", r.RemoteAddr, err)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("gateway: upgrade failed: %v", err)
		return
	}

	c := &Connection{
		ID:           uuid.New().String(),
		UserID:       userID,
		Conn:         conn,
		Fd:           socketFD(conn),
		CreatedAt:    time.Now(),
		WriteTimeout: s.config.WriteTimeout,
	}
	c.touch()

	s.conns.Add(c)
	if err := s.poller.Add(conn); err != nil {
		log.Printf("gateway: poller add failed conn=%s: %v", c.ID, err)
		s.conns.Remove(c.ID)
		return
	}
	metrics.ConnectionsOpen.Set(float64(s.conns.Count()))

	if s.presence != nil {
		pctx, pcancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := s.presence.Track(pctx, c.ID, userID); err != nil {
			log.Printf("gateway: presence track failed conn=%s: %v", c.ID, err)
		}
		pcancel()
	}

	ready, err := protocol.NewServerMessage(protocol.TypeReady, protocol.ReadyMsg{
		UserID:       userID,
		ConnectionID: c.ID,
	})
	if err != nil {
		log.Printf("gateway: failed to build ready message conn=%s: %v", c.ID, err)
	} else if err := c.WriteMessage(ready); err != nil {
		log.Printf("gateway: failed to send ready conn=%s: %v", c.ID, err)
	}

	log.Printf("gateway: new connection conn=%s user=%s (total=%d)", c.ID, userID, s.conns.Count())
}

// handleHealth reports connection count and uptime for load-balancer
// health checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Rooms       int    `json:"rooms"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Rooms:       s.rooms.RoomCount(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// startEventLoop runs the poller wait loop, dispatching each ready
// connection to a worker goroutine bounded by the pool semaphore.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.poller.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				// EINTR is expected during signal handling.
				if isEINTR(err) {
					continue
				}
				log.Printf("gateway: poller wait error: %v", err)
				continue
			}
		}

		for _, conn := range conns {
			conn := conn

			s.workerPool <- struct{}{}
			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads a single frame from a ready connection using
// wsutil.NextReader so control frames are handled without blocking on
// a data frame that may never arrive.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// Guard against duplicate dispatch from level-triggered epoll.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A read timeout means a stale dispatch, not a dead peer; the
		// heartbeat owns dead-connection eviction.
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	_ = netConn.SetReadDeadline(time.Time{})

	// Any frame proves liveness.
	c.touch()

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
		}
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}

	if len(data) == 0 {
		return
	}

	if s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// SetOnDisconnect registers a callback invoked after a connection has
// been removed and unbound from its rooms.
func (s *Server) SetOnDisconnect(fn func(conn *Connection)) {
	s.onDisconnect = fn
}

// RemoveConnection evicts a connection: poller, manager, every room
// binding, and presence. Safe against racing cleanup paths; only the
// goroutine that wins the manager removal runs the rest.
func (s *Server) RemoveConnection(c *Connection) {
	if s.poller != nil {
		_ = s.poller.Remove(c.Conn)
	}

	if !s.conns.Remove(c.ID) {
		return
	}

	s.rooms.LeaveAll(c.ID)
	metrics.ConnectionsOpen.Set(float64(s.conns.Count()))
	metrics.RoomsOpen.Set(float64(s.rooms.RoomCount()))

	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}

	if s.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := s.presence.Remove(ctx, c.ID); err != nil {
			log.Printf("gateway: presence remove failed conn=%s: %v", c.ID, err)
		}
		cancel()
	}

	log.Printf("gateway: connection closed conn=%s user=%s (total=%d)", c.ID, c.UserID, s.conns.Count())
}

// JoinRoom binds a connection to a room. Idempotent; the room is
// created implicitly on first join.
func (s *Server) JoinRoom(c *Connection, roomID string) {
	s.rooms.Join(c, roomID)
	metrics.RoomsOpen.Set(float64(s.rooms.RoomCount()))
}

// LeaveRoom unbinds a connection from a room. Idempotent; empty rooms
// are pruned.
func (s *Server) LeaveRoom(connID, roomID string) {
	s.rooms.Leave(connID, roomID)
	metrics.RoomsOpen.Set(float64(s.rooms.RoomCount()))
}

// InRoom reports whether the connection currently holds a binding to
// the room.
func (s *Server) InRoom(connID, roomID string) bool {
	return s.rooms.Contains(connID, roomID)
}

// EmitToRoom delivers an event to every connection bound to roomID.
// Best-effort broadcast: an uninitialized gateway or an empty room is a
// no-op, and individual write failures are dropped — the message store
// remains the durable record clients reconcile against.
func (s *Server) EmitToRoom(roomID, event string, payload interface{}) {
	if s == nil || s.rooms == nil {
		return
	}

	members := s.rooms.Members(roomID)
	if len(members) == 0 {
		return
	}

	data, err := protocol.NewServerMessage(event, payload)
	if err != nil {
		log.Printf("gateway: failed to build %q event for room %s: %v", event, roomID, err)
		return
	}

	start := time.Now()
	for _, c := range members {
		if err := c.WriteMessage(data); err != nil {
			log.Printf("gateway: emit to conn=%s in room %s failed: %v", c.ID, roomID, err)
		}
	}
	metrics.FanoutDeliveries.Add(float64(len(members)))
	metrics.FanoutLatency.Observe(time.Since(start).Seconds())
}

// EmitToConnection delivers an event to exactly one connection, or
// returns an error if it is no longer bound.
func (s *Server) EmitToConnection(connID, event string, payload interface{}) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("gateway: connection %s not found", connID)
	}

	data, err := protocol.NewServerMessage(event, payload)
	if err != nil {
		return err
	}

	return c.WriteMessage(data)
}

// Connections exposes the connection manager to the heartbeat and
// presence layers.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Rooms exposes the room registry for observability.
func (s *Server) Rooms() *RoomRegistry {
	return s.rooms
}

// Shutdown gracefully stops the gateway: HTTP listener, event loop,
// all connections, and the poller.
func (s *Server) Shutdown() error {
	log.Println("gateway: shutting down...")

	close(s.done)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("gateway: http shutdown error: %v", err)
		}
	}

	for _, c := range s.conns.All() {
		if s.presence != nil {
			pctx, pcancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = s.presence.Remove(pctx, c.ID)
			pcancel()
		}
		s.rooms.LeaveAll(c.ID)
		if s.poller != nil {
			_ = s.poller.Remove(c.Conn)
		}
		c.Close()
	}

	if s.poller != nil {
		_ = s.poller.Close()
	}

	log.Printf("gateway: stopped, all connections closed")
	return nil
}

// isEINTR checks for interrupted syscalls, which are expected during
// signal handling and retried.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}
