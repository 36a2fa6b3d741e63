// Package client implements the interactive filewire client. It drives
// one TCP connection and standard input from a single epoll loop,
// switching the socket between text responses and binary chunk streams
// as transfers start and finish.
package client

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/opd-ai/filewire/command"
	"github.com/opd-ai/filewire/poll"
	"github.com/opd-ai/filewire/transfer"
	"github.com/opd-ai/filewire/wire"
)

// Config carries the client's connection settings.
type Config struct {
	Host string
	Port int
	// DownloadDir is where received files land. Defaults to the
	// current directory.
	DownloadDir string
}

// DefaultConfig returns settings matching a local default server.
func DefaultConfig() *Config {
	return &Config{
		Host:        "127.0.0.1",
		Port:        8080,
		DownloadDir: ".",
	}
}

// Client owns the socket, the poller, and the per-connection transfer
// state. One goroutine drives it.
type Client struct {
	cfg    *Config
	sockFD int
	poller *poll.Poller
	lines  command.LineBuffer
	recv   *transfer.Receiver
	snd    *transfer.Sender
	stalls int
	ui     *UI
}

// receiveWait is how long one poll iteration blocks while a download is
// in flight before it counts as a stall.
const receiveWait = 10 * time.Second

// stallLimit and bulkStallLimit bound consecutive empty waits before an
// in-flight download is declared dead. Very large transfers get more
// slack.
const (
	stallLimit     = 5
	bulkStallLimit = 10
	bulkChunks     = 100_000
)

const readBufferSize = 4096

// Dial connects to the configured server. The connect itself is
// blocking; the socket is switched to nonblocking before it joins the
// event loop.
func Dial(cfg *Config) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	raddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", addr, err)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("creating socket: %w", err)
	}

	var sa unix.SockaddrInet4
	sa.Port = raddr.Port
	copy(sa.Addr[:], raddr.IP.To4())
	if err := unix.Connect(fd, &sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	if err := poll.SetNonblock(fd); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setting socket nonblocking: %w", err)
	}

	poller, err := poll.New()
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("creating poller: %w", err)
	}
	if err := poller.Add(fd, false); err != nil {
		poller.Close()
		unix.Close(fd)
		return nil, fmt.Errorf("watching socket: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Dial",
		"server":   addr,
	}).Debug("Connected")

	return &Client{
		cfg:    cfg,
		sockFD: fd,
		poller: poller,
		ui:     NewUI(os.Stdout),
	}, nil
}

// Run takes over standard input and loops until exit or a broken
// connection. Stdin is made nonblocking for the duration and restored on
// return so the surrounding shell is left usable.
func (c *Client) Run() error {
	stdin := int(os.Stdin.Fd())
	if err := poll.SetNonblock(stdin); err != nil {
		return fmt.Errorf("setting stdin nonblocking: %w", err)
	}
	defer poll.SetBlocking(stdin)

	if err := c.poller.Add(stdin, false); err != nil {
		return fmt.Errorf("watching stdin: %w", err)
	}
	defer c.poller.Remove(stdin)

	c.ui.Banner(c.cfg.Host, c.cfg.Port)
	c.ui.Prompt()

	var input command.LineBuffer
	buf := make([]byte, readBufferSize)

	for {
		timeout := time.Duration(-1)
		if c.recv != nil {
			timeout = receiveWait
		}

		events, err := c.poller.Wait(timeout)
		if err != nil {
			return fmt.Errorf("waiting for events: %w", err)
		}

		if len(events) == 0 && c.recv != nil {
			if c.noteStall() {
				current, total := c.recv.Progress()
				c.ui.ProgressDone()
				c.ui.Errorf("Download stalled at %d/%d chunks, keeping partial file", current, total)
				c.abortReceive()
				c.ui.Prompt()
			}
			continue
		}
		c.stalls = 0

		for _, ev := range events {
			switch ev.FD {
			case stdin:
				stop, err := c.handleStdin(&input, buf)
				if err != nil {
					return err
				}
				if stop {
					return nil
				}
			case c.sockFD:
				if ev.Closed {
					return errors.New("server closed the connection")
				}
				if ev.Readable {
					if err := c.handleSocketReadable(buf); err != nil {
						return err
					}
				}
				if ev.Writable && c.snd != nil {
					if err := c.handleSocketWritable(); err != nil {
						return err
					}
				}
			}
		}
	}
}

// Close releases the socket and poller.
func (c *Client) Close() {
	if c.recv != nil {
		c.recv.Close()
	}
	if c.snd != nil {
		c.snd.Close()
	}
	c.poller.Close()
	unix.Close(c.sockFD)
}

// noteStall records one empty wait and reports whether the stall limit
// for the current download has been reached.
func (c *Client) noteStall() bool {
	c.stalls++
	limit := stallLimit
	if c.recv != nil {
		if _, total := c.recv.Progress(); total > bulkChunks {
			limit = bulkStallLimit
		}
	}
	return c.stalls >= limit
}

func (c *Client) abortReceive() {
	if c.recv != nil {
		c.recv.Close()
		c.recv = nil
	}
	c.stalls = 0
}

// handleStdin consumes buffered terminal input and dispatches each
// complete line. Returns stop=true on the exit command.
func (c *Client) handleStdin(input *command.LineBuffer, buf []byte) (bool, error) {
	conn := poll.Conn{FD: int(os.Stdin.Fd())}
	n, err := conn.Read(buf)
	if err != nil {
		if errors.Is(err, poll.ErrWouldBlock) {
			return false, nil
		}
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		return false, fmt.Errorf("reading stdin: %w", err)
	}

	lines, err := input.Append(buf[:n])
	if err != nil {
		c.ui.Errorf("Command too long")
		input.Reset()
		c.ui.Prompt()
		return false, nil
	}

	for _, line := range lines {
		stop, err := c.dispatchInput(line)
		if err != nil || stop {
			return stop, err
		}
	}
	return false, nil
}

// dispatchInput handles one terminal line: local verbs run here, the
// send verb starts an upload, anything else goes to the server as-is.
func (c *Client) dispatchInput(line string) (bool, error) {
	line = strings.TrimSpace(line)
	verb, args := command.Split(line)

	switch verb {
	case "":
		c.ui.Prompt()
		return false, nil
	case "exit", "quit":
		return true, nil
	case "help":
		c.ui.Help()
		c.ui.Prompt()
		return false, nil
	case "clear":
		c.ui.Clear()
		c.ui.Prompt()
		return false, nil
	case "send":
		if err := c.startUpload(args); err != nil {
			c.ui.Errorf("%v", err)
			c.ui.Prompt()
		}
		return false, nil
	default:
		if err := poll.WriteAll(poll.Conn{FD: c.sockFD}, []byte(line+"\n")); err != nil {
			return false, fmt.Errorf("sending command: %w", err)
		}
		return false, nil
	}
}

// startUpload opens the local file, tells the server an upload follows,
// and arms writable interest so the loop streams the chunks.
func (c *Client) startUpload(path string) error {
	if path == "" {
		return errors.New("usage: send <file>")
	}

	snd, err := transfer.NewSender(path)
	if err != nil {
		if errors.Is(err, transfer.ErrEmptyFile) {
			return fmt.Errorf("%s is empty, nothing to send", path)
		}
		return fmt.Errorf("cannot open %s: %w", path, err)
	}

	if err := poll.WriteAll(poll.Conn{FD: c.sockFD}, []byte("upload\n")); err != nil {
		snd.Close()
		return fmt.Errorf("sending upload command: %w", err)
	}

	snd.OnProgress(func(current, total uint32) {
		c.ui.Progress(current, total)
	})

	c.snd = snd
	if err := c.poller.Modify(c.sockFD, true); err != nil {
		c.snd = nil
		snd.Close()
		return fmt.Errorf("arming socket for send: %w", err)
	}

	c.ui.Infof("Uploading %s (%d chunks)", path, snd.TotalChunks())
	return nil
}

// handleSocketReadable routes inbound socket bytes: active download
// first, then the chunk-stream heuristic, then plain text responses.
func (c *Client) handleSocketReadable(buf []byte) error {
	conn := poll.Conn{FD: c.sockFD}
	n, err := conn.Read(buf)
	if err != nil {
		if errors.Is(err, poll.ErrWouldBlock) {
			return nil
		}
		if errors.Is(err, io.EOF) || errors.Is(err, poll.ErrConnectionReset) {
			return errors.New("server closed the connection")
		}
		return fmt.Errorf("reading socket: %w", err)
	}
	data := buf[:n]

	for len(data) > 0 {
		if c.recv != nil {
			return c.consumeDownload(data)
		}

		// A chunk stream begins without ceremony right after the get
		// command; its first header is recognized by shape.
		if c.lines.Pending() == 0 && wire.LooksLikeFirstChunk(data) {
			c.recv = transfer.NewReceiver(c.cfg.DownloadDir)
			c.stalls = 0
			continue
		}

		span := data
		if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
			span = data[:idx+1]
		}
		data = data[len(span):]

		lines, err := c.lines.Append(span)
		if err != nil {
			// Server responses never exceed the command bound; treat
			// an overlong line as a broken peer.
			return fmt.Errorf("oversized server response: %w", err)
		}
		for _, line := range lines {
			c.ui.Response(line)
		}
		if len(lines) > 0 && len(data) == 0 {
			c.ui.Prompt()
		}
	}
	return nil
}

// consumeDownload feeds bytes to the active receiver and reports
// completion or failure to the terminal.
func (c *Client) consumeDownload(data []byte) error {
	done, err := c.recv.Consume(data)
	if err != nil {
		c.ui.Errorf("Download failed: %v", err)
		c.abortReceive()
		c.ui.Prompt()
		return nil
	}

	current, total := c.recv.Progress()
	c.ui.Progress(current, total)

	if done {
		c.ui.ProgressDone()
		c.ui.Successf("Saved %s", c.recv.Filename())
		c.recv = nil
		c.stalls = 0
		c.ui.Prompt()
	}
	return nil
}

// handleSocketWritable pushes upload chunks while the socket accepts
// them.
func (c *Client) handleSocketWritable() error {
	done, err := c.snd.SendNext(poll.Conn{FD: c.sockFD})
	if err != nil {
		c.snd.Close()
		c.snd = nil
		c.poller.Modify(c.sockFD, false)
		if errors.Is(err, poll.ErrConnectionReset) {
			return errors.New("connection lost during upload")
		}
		c.ui.ProgressDone()
		c.ui.Errorf("Upload failed: %v", err)
		c.ui.Prompt()
		return nil
	}
	if done {
		c.snd = nil
		c.poller.Modify(c.sockFD, false)
		c.ui.ProgressDone()
		// The success line arrives from the server next.
	}
	return nil
}
