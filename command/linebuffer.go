// Package command implements the line-oriented text side of the filewire
// protocol: buffering inbound bytes until complete newline-terminated
// commands can be extracted, and splitting a command into verb and
// arguments.
package command

import (
	"bytes"
	"strings"

	"github.com/opd-ai/filewire/limits"
)

// LineBuffer accumulates bytes from a socket or input stream and yields
// complete lines. Bytes after the last newline stay buffered for the
// next append. Each LineBuffer is owned by exactly one connection.
type LineBuffer struct {
	buf []byte
}

// Append adds data and extracts every complete line it finishes, in
// order. The terminating newline and an optional trailing carriage
// return are stripped. If any line, complete or still pending, exceeds
// limits.MaxCommandLine, Append returns limits.ErrLineTooLong; the
// connection must then be notified and closed, discarding the buffer.
func (b *LineBuffer) Append(data []byte) ([]string, error) {
	b.buf = append(b.buf, data...)

	var lines []string
	for {
		i := bytes.IndexByte(b.buf, '\n')
		if i < 0 {
			break
		}
		line := b.buf[:i]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		if err := limits.ValidateCommandLine(len(line)); err != nil {
			return nil, err
		}
		lines = append(lines, string(line))

		// Shift the remainder down; it belongs to the next line.
		b.buf = b.buf[:copy(b.buf, b.buf[i+1:])]
	}

	if err := limits.ValidateCommandLine(len(b.buf)); err != nil {
		return nil, err
	}
	return lines, nil
}

// Pending returns how many bytes await a terminating newline.
func (b *LineBuffer) Pending() int {
	return len(b.buf)
}

// Reset discards any buffered remainder.
func (b *LineBuffer) Reset() {
	b.buf = b.buf[:0]
}

// Split divides a command line into its verb and the argument remainder.
// The remainder keeps internal spaces intact ("rename old new" yields
// args "old new").
func Split(line string) (verb, args string) {
	verb, args, _ = strings.Cut(line, " ")
	return verb, args
}
