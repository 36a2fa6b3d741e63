// Package poll provides the readiness-notification primitive for the
// single-threaded event loops of the filewire client and server.
//
// It wraps Linux epoll from golang.org/x/sys/unix behind a small Poller
// type and translates raw descriptor I/O into Go error values. All
// descriptors handed to a Poller must be nonblocking; the only blocking
// point in a loop built on this package is Poller.Wait.
package poll

import (
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// ErrWouldBlock indicates a read or write on a nonblocking descriptor
// that cannot complete immediately.
var ErrWouldBlock = errors.New("operation would block")

// ErrConnectionReset indicates the peer reset or broke the connection.
var ErrConnectionReset = errors.New("connection reset by peer")

// Event is one readiness notification delivered by Wait.
type Event struct {
	FD       int
	Readable bool
	Writable bool
	// Closed reports a hangup or error condition on the descriptor.
	Closed bool
}

// Poller multiplexes readiness events across a set of descriptors.
// It is not safe for concurrent use; the design assumes exactly one
// dispatching thread.
type Poller struct {
	epfd   int
	events []unix.EpollEvent
}

// maxEvents bounds how many notifications one Wait call can return.
const maxEvents = 64

// New creates a Poller backed by a fresh epoll instance.
func New() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"epoll_fd": epfd,
	}).Debug("Created epoll instance")

	return &Poller{
		epfd:   epfd,
		events: make([]unix.EpollEvent, maxEvents),
	}, nil
}

// Add registers fd for readable (and optionally writable) readiness.
// Registration is level-triggered.
func (p *Poller) Add(fd int, writable bool) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, p.event(fd, writable))
}

// Modify changes whether fd is watched for writable readiness.
// Writable interest should be held only while a send is actively in
// progress, otherwise the loop spins on an always-writable socket.
func (p *Poller) Modify(fd int, writable bool) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, p.event(fd, writable))
}

// Remove deregisters fd.
func (p *Poller) Remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *Poller) event(fd int, writable bool) *unix.EpollEvent {
	events := uint32(unix.EPOLLIN)
	if writable {
		events |= unix.EPOLLOUT
	}
	return &unix.EpollEvent{Events: events, Fd: int32(fd)}
}

// Wait blocks until at least one watched descriptor is ready or the
// timeout elapses. A negative timeout blocks indefinitely. An empty
// result with a nil error means the timeout expired. Interrupted waits
// are retried transparently.
func (p *Poller) Wait(timeout time.Duration) ([]Event, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout.Milliseconds())
	}

	for {
		n, err := unix.EpollWait(p.epfd, p.events, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}

		out := make([]Event, 0, n)
		for i := 0; i < n; i++ {
			ev := p.events[i]
			out = append(out, Event{
				FD:       int(ev.Fd),
				Readable: ev.Events&unix.EPOLLIN != 0,
				Writable: ev.Events&unix.EPOLLOUT != 0,
				Closed:   ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0,
			})
		}
		return out, nil
	}
}

// Close releases the epoll instance.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}

// SetNonblock switches fd to nonblocking mode.
func SetNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}

// SetBlocking restores fd to blocking mode. The client uses this to hand
// the terminal back in a sane state on exit.
func SetBlocking(fd int) error {
	return unix.SetNonblock(fd, false)
}

// Conn wraps a nonblocking descriptor with io.Reader/io.Writer semantics.
// A read of zero bytes maps to io.EOF, EAGAIN maps to ErrWouldBlock, and
// reset/broken-pipe conditions map to ErrConnectionReset so callers can
// branch on error identity instead of raw errno values.
type Conn struct {
	FD int
}

// Read reads whatever bytes are immediately available.
func (c Conn) Read(p []byte) (int, error) {
	n, err := unix.Read(c.FD, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		if err == unix.ECONNRESET || err == unix.EPIPE {
			return 0, ErrConnectionReset
		}
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write writes as much of p as the socket buffer accepts.
func (c Conn) Write(p []byte) (int, error) {
	n, err := unix.Write(c.FD, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		if err == unix.ECONNRESET || err == unix.EPIPE {
			return 0, ErrConnectionReset
		}
		return 0, err
	}
	return n, nil
}

// Close closes the descriptor.
func (c Conn) Close() error {
	return unix.Close(c.FD)
}

// WriteAll pushes all of data through w, absorbing short writes and a
// bounded number of would-block conditions with progressive backoff.
// It is meant for small control messages; bulk chunk traffic is paced
// by writable readiness instead.
func WriteAll(w io.Writer, data []byte) error {
	sent := 0
	retries := 0
	for sent < len(data) {
		n, err := w.Write(data[sent:])
		if errors.Is(err, ErrWouldBlock) {
			retries++
			if retries > maxWriteRetries {
				return err
			}
			time.Sleep(time.Duration(retries) * time.Millisecond)
			continue
		}
		if err != nil {
			return err
		}
		sent += n
		retries = 0
	}
	return nil
}

// maxWriteRetries bounds WriteAll's would-block retries.
const maxWriteRetries = 10
