// Package server implements the filewire server: a single-threaded,
// epoll-driven loop multiplexing many client connections, each carrying
// a text command channel and a binary chunk-transfer channel on the same
// socket.
package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/opd-ai/filewire/limits"
	"github.com/opd-ai/filewire/poll"
	"github.com/opd-ai/filewire/session"
	"github.com/opd-ai/filewire/transfer"
	"github.com/opd-ai/filewire/wire"
)

// Config carries the server's tunable settings.
type Config struct {
	// Port is the TCP listening port.
	Port int
	// ReceiveDir is the directory uploaded files are stored under,
	// created on demand.
	ReceiveDir string
	// MaxClients bounds the connection table.
	MaxClients int
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:       8080,
		ReceiveDir: "saved",
		MaxClients: limits.MaxConnections,
	}
}

// Server is the epoll-driven connection multiplexer. All state is owned
// by the single dispatching goroutine that calls Run; no locking exists
// or is needed.
type Server struct {
	cfg      *Config
	poller   *poll.Poller
	table    *session.Table
	listenFD int
}

// readBufferSize is the span requested from each socket read. The
// reassembly layer tolerates any fragmentation, so the exact size only
// affects syscall count.
const readBufferSize = 4096

// New creates a Server listening on cfg.Port. The listening socket is
// nonblocking and registered with a fresh poller.
func New(cfg *Config) (*Server, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("creating listen socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setting SO_REUSEADDR: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: cfg.Port}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("binding port %d: %w", cfg.Port, err)
	}

	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listening: %w", err)
	}

	poller, err := poll.New()
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("creating poller: %w", err)
	}

	if err := poller.Add(fd, false); err != nil {
		poller.Close()
		unix.Close(fd)
		return nil, fmt.Errorf("watching listen socket: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"port":     cfg.Port,
	}).Info("Server listening")

	return &Server{
		cfg:      cfg,
		poller:   poller,
		table:    session.NewTable(cfg.MaxClients),
		listenFD: fd,
	}, nil
}

// Run drives the event loop until an unrecoverable poller failure. Each
// iteration blocks for readiness, then dispatches every ready descriptor:
// accepts on the listener, reads and writes on client sockets, teardown
// on hangup.
func (s *Server) Run() error {
	for {
		events, err := s.poller.Wait(-1)
		if err != nil {
			return fmt.Errorf("waiting for events: %w", err)
		}

		for _, ev := range events {
			if ev.FD == s.listenFD {
				s.acceptPending()
				continue
			}

			rec := s.table.Get(ev.FD)
			if rec == nil {
				// Stale event for a descriptor torn down earlier
				// in this batch.
				continue
			}

			if ev.Closed {
				s.teardown(rec, "peer hangup")
				continue
			}
			if ev.Readable {
				if !s.handleReadable(rec) {
					continue
				}
			}
			if ev.Writable && rec.Sending() {
				s.handleWritable(rec)
			}
		}
	}
}

// Port reports the bound listening port. Useful when the configured
// port was 0 and the kernel picked one.
func (s *Server) Port() (int, error) {
	sa, err := unix.Getsockname(s.listenFD)
	if err != nil {
		return 0, fmt.Errorf("reading socket name: %w", err)
	}
	inet, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return 0, errors.New("unexpected socket family")
	}
	return inet.Port, nil
}

// Close releases the listening socket and the poller.
func (s *Server) Close() {
	unix.Close(s.listenFD)
	s.poller.Close()
}

// acceptPending accepts every connection waiting on the listener. A
// table at capacity rejects the newcomer by closing it immediately;
// existing connections are untouched.
func (s *Server) acceptPending() {
	for {
		fd, sa, err := unix.Accept(s.listenFD)
		if err != nil {
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
				logrus.WithFields(logrus.Fields{
					"function": "acceptPending",
					"error":    err.Error(),
				}).Error("Accept failed")
			}
			return
		}

		addr := sockaddrString(sa)
		if err := poll.SetNonblock(fd); err != nil {
			unix.Close(fd)
			continue
		}

		if _, err := s.table.Add(fd, addr); err != nil {
			// Capacity violation: reject outright.
			unix.Close(fd)
			continue
		}

		if err := s.poller.Add(fd, false); err != nil {
			s.table.Remove(fd)
			unix.Close(fd)
			continue
		}

		logrus.WithFields(logrus.Fields{
			"function": "acceptPending",
			"peer":     addr,
			"fd":       fd,
			"clients":  s.table.Len(),
		}).Info("New client connected")
	}
}

// handleReadable drains one socket read and routes the bytes by mode.
// It returns false if the connection was torn down.
func (s *Server) handleReadable(rec *session.Record) bool {
	buf := make([]byte, readBufferSize)
	conn := poll.Conn{FD: rec.FD}

	n, err := conn.Read(buf)
	if err != nil {
		if errors.Is(err, poll.ErrWouldBlock) {
			return true
		}
		if errors.Is(err, io.EOF) {
			s.teardown(rec, "peer disconnected")
		} else {
			s.teardown(rec, err.Error())
		}
		return false
	}

	return s.consumeInbound(rec, buf[:n])
}

// consumeInbound walks one read's bytes with a cursor so a command line
// and the binary stream it introduces can share a single read. Text is
// taken one line at a time; the moment a command switches the record to
// transfer mode, the untouched remainder feeds the receiver verbatim.
func (s *Server) consumeInbound(rec *session.Record, data []byte) bool {
	for len(data) > 0 {
		if rec.Receiver() != nil {
			s.consumeTransfer(rec, data)
			return true
		}

		// A client may start streaming chunks before its upload line
		// is processed; a plausible first chunk in command mode
		// switches the record to receiving.
		if rec.Lines.Pending() == 0 && wire.LooksLikeFirstChunk(data) {
			logrus.WithFields(logrus.Fields{
				"function": "consumeInbound",
				"peer":     rec.Addr,
			}).Info("Detected chunk stream in command mode, switching to transfer mode")
			rec.BeginReceive(transfer.NewReceiver(s.cfg.ReceiveDir))
			continue
		}

		span := data
		if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
			span = data[:idx+1]
		}
		data = data[len(span):]

		lines, err := rec.Lines.Append(span)
		if err != nil {
			// Command line past the protective bound: notify, then
			// drop the connection.
			s.reply(rec, respOverflow)
			s.teardown(rec, "command buffer overflow")
			return false
		}

		for _, line := range lines {
			logrus.WithFields(logrus.Fields{
				"function": "consumeInbound",
				"peer":     rec.Addr,
				"command":  line,
			}).Info("Command received")
			s.dispatchCommand(rec, line)
		}
	}
	return true
}

// consumeTransfer feeds inbound bytes to the record's receiver and
// handles both terminal outcomes.
func (s *Server) consumeTransfer(rec *session.Record, data []byte) {
	done, err := rec.Receiver().Consume(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "consumeTransfer",
			"peer":     rec.Addr,
			"error":    err.Error(),
		}).Error("Upload failed")
		s.reply(rec, uploadErrorResponse(err))
		rec.EndTransfer()
		return
	}
	if done {
		s.reply(rec, respUploadOK)
		rec.EndTransfer()
		logrus.WithFields(logrus.Fields{
			"function": "consumeTransfer",
			"peer":     rec.Addr,
		}).Info("Upload complete, client back in command mode")
	}
}

// handleWritable drives one send attempt of the record's outbound
// transfer, dropping writable interest as soon as the transfer ends.
func (s *Server) handleWritable(rec *session.Record) {
	done, err := rec.Sender().SendNext(poll.Conn{FD: rec.FD})
	if err != nil {
		rec.EndTransfer()
		s.poller.Modify(rec.FD, false)
		if errors.Is(err, poll.ErrConnectionReset) {
			s.teardown(rec, "connection lost during send")
			return
		}
		logrus.WithFields(logrus.Fields{
			"function": "handleWritable",
			"peer":     rec.Addr,
			"error":    err.Error(),
		}).Error("Send failed")
		return
	}
	if done {
		rec.EndTransfer()
		s.poller.Modify(rec.FD, false)
	}
}

// teardown closes a connection and discards its record. Any transfer
// file handle is released; a partially written upload stays on disk.
func (s *Server) teardown(rec *session.Record, reason string) {
	logrus.WithFields(logrus.Fields{
		"function": "teardown",
		"peer":     rec.Addr,
		"fd":       rec.FD,
		"reason":   reason,
	}).Info("Closing connection")

	s.poller.Remove(rec.FD)
	s.table.Remove(rec.FD)
	unix.Close(rec.FD)
}

// reply writes one control message to the peer, best effort.
func (s *Server) reply(rec *session.Record, msg string) {
	if err := poll.WriteAll(poll.Conn{FD: rec.FD}, []byte(msg)); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "reply",
			"peer":     rec.Addr,
			"error":    err.Error(),
		}).Warn("Failed to deliver response")
	}
}

// tuneForBulk widens the socket buffers ahead of a very large outbound
// transfer.
func tuneForBulk(fd int) {
	const bufSize = 256 * 1024
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, bufSize); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "tuneForBulk",
			"error":    err.Error(),
		}).Warn("Could not widen send buffer")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, bufSize); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "tuneForBulk",
			"error":    err.Error(),
		}).Warn("Could not widen receive buffer")
	}
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3], a.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%x]:%d", a.Addr, a.Port)
	default:
		return "unknown"
	}
}

// uploadErrorResponse maps a terminal receive error to the protocol's
// error line. Malformed or out-of-sequence headers are the peer's
// fault; anything else, such as a local write or sync failure, is a
// resource problem and reports as a creation failure.
func uploadErrorResponse(err error) string {
	switch {
	case errors.Is(err, wire.ErrHeaderTooShort),
		errors.Is(err, wire.ErrReservedType),
		errors.Is(err, limits.ErrChunkSizeRange),
		errors.Is(err, limits.ErrTotalChunksRange),
		errors.Is(err, transfer.ErrChunkSequence),
		errors.Is(err, transfer.ErrRunawayInput),
		errors.Is(err, transfer.ErrAssemblerDone),
		errors.Is(err, transfer.ErrUnsafeFilename):
		return respInvalidHeader
	}
	return respCannotCreate
}
