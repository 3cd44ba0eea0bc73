package gateway

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is one authenticated WebSocket client. UserID is set
// during the upgrade handshake, before the connection can join any
// room. The write mutex serializes outbound frames from concurrent
// fan-out goroutines; the per-write deadline lives inside it so
// concurrent emits cannot clobber each other's deadline.
type Connection struct {
	ID           string        // connection ID (UUID), unique per socket
	UserID       string        // authenticated user behind the socket
	Conn         net.Conn      // underlying TCP connection
	Fd           int           // file descriptor for event-loop lookups
	CreatedAt    time.Time
	WriteTimeout time.Duration // per-frame write deadline; zero disables
	lastPing     int64         // unix nanos of last observed activity, accessed atomically
	writeMu      sync.Mutex    // serializes writes to this connection
	processing   int32         // atomic flag: 1 while a read worker owns the socket
}

// touch records activity on the connection. Safe to call from read
// workers while the heartbeat reads concurrently.
func (c *Connection) touch() {
	atomic.StoreInt64(&c.lastPing, time.Now().UnixNano())
}

// lastActive returns the time of the last observed client activity.
func (c *Connection) lastActive() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastPing))
}

// WriteMessage sends a WebSocket text frame to this connection.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a protocol-level ping frame (opcode 0x9); browsers
// answer it automatically with a pong.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager is a goroutine-safe registry of live connections
// with O(1) lookup by connection ID and by file descriptor.
type ConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection
	byFd map[int]*Connection
}

// NewConnectionManager creates an empty ConnectionManager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID: make(map[string]*Connection),
		byFd: make(map[int]*Connection),
	}
}

// Add registers a connection in both lookup maps.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.byFd[conn.Fd] = conn
	cm.mu.Unlock()
}

// Remove deletes a connection by ID and closes its socket. It returns
// false if the connection was already gone, which lets racing cleanup
// paths (read error vs. heartbeat eviction) settle on a single winner.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		delete(cm.byFd, conn.Fd)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given ID, or nil.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// GetByFd returns the connection for the given file descriptor, or nil.
func (cm *ConnectionManager) GetByFd(fd int) *Connection {
	cm.mu.RLock()
	conn := cm.byFd[fd]
	cm.mu.RUnlock()
	return conn
}

// GetByConn resolves a net.Conn back to its Connection via the fd.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	return cm.GetByFd(socketFD(c))
}

// Count returns the number of live connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of the current connections, safe to iterate
// without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
