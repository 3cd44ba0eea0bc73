//go:build linux

package gateway

import (
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Poller multiplexes read-readiness for all gateway sockets through a
// single epoll instance, so idle connections cost no goroutine. The
// event loop asks Wait for ready sockets and hands them to the worker
// pool.
type Poller struct {
	fd    int
	mu    sync.RWMutex
	conns map[int]net.Conn
	// reusable buffer for EpollWait results
	events []unix.EpollEvent
}

// NewPoller creates an epoll instance via epoll_create1.
func NewPoller() (*Poller, error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &Poller{
		fd:     fd,
		conns:  make(map[int]net.Conn),
		events: make([]unix.EpollEvent, 128),
	}, nil
}

// Add registers a connection for read-readiness and hang-up events.
func (p *Poller) Add(conn net.Conn) error {
	fd := socketFD(conn)
	err := unix.EpollCtl(p.fd, syscall.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP,
		Fd:     int32(fd),
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.conns[fd] = conn
	p.mu.Unlock()
	return nil
}

// Remove drops a connection from the interest list.
func (p *Poller) Remove(conn net.Conn) error {
	fd := socketFD(conn)
	if err := unix.EpollCtl(p.fd, syscall.EPOLL_CTL_DEL, fd, nil); err != nil {
		return err
	}

	p.mu.Lock()
	delete(p.conns, fd)
	p.mu.Unlock()
	return nil
}

// Wait blocks until at least one registered socket is readable and
// returns the corresponding connections. Sockets removed between the
// kernel wakeup and the map lookup are skipped.
func (p *Poller) Wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(p.fd, p.events, -1)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	ready := make([]net.Conn, 0, n)
	for i := 0; i < n; i++ {
		if conn, ok := p.conns[int(p.events[i].Fd)]; ok {
			ready = append(ready, conn)
		}
	}
	p.mu.RUnlock()
	return ready, nil
}

// Close releases the epoll file descriptor.
func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns = nil
	return unix.Close(p.fd)
}

// socketFD extracts the fd from a net.Conn via SyscallConn, which
// keeps the original descriptor valid (File() would duplicate it).
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}

	var fd int
	_ = raw.Control(func(sfd uintptr) {
		fd = int(sfd)
	})
	return fd
}
