package transfer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/filewire/limits"
	"github.com/opd-ai/filewire/poll"
	"github.com/opd-ai/filewire/wire"
)

// ErrEmptyFile indicates a source file with no content. A transfer must
// announce at least one chunk, so empty files cannot be represented.
var ErrEmptyFile = errors.New("source file is empty")

// ErrSendRetries indicates a chunk whose send kept hitting a would-block
// condition past the retry bound.
var ErrSendRetries = errors.New("send retry limit exceeded")

// Sender owns one outbound transfer: it reads the source file in
// fixed-size slices and emits header-prefixed chunks in order. One call
// to SendNext emits one chunk; the caller drives it from writable
// readiness until done.
type Sender struct {
	file    *os.File
	name    string
	size    int64
	total   uint32
	current uint32
	buf     [wire.HeaderSize + limits.PayloadMax]byte

	progressCallback func(current, total uint32)
}

// NewSender opens the source file at path and computes the chunk plan.
// The wire filename is the path's base name.
func NewSender(path string) (*Sender, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}

	// Bound the count before narrowing so an oversized file cannot wrap
	// into a small in-range value.
	total := (info.Size() + limits.PayloadMax - 1) / limits.PayloadMax
	if total > limits.MaxTotalChunks {
		f.Close()
		return nil, fmt.Errorf("%w: %s needs %d chunks, limit is %d",
			limits.ErrTotalChunksRange, path, total, limits.MaxTotalChunks)
	}
	if err := limits.ValidateTotalChunks(uint32(total)); err != nil {
		f.Close()
		return nil, err
	}

	s := &Sender{
		file:  f,
		name:  filepath.Base(path),
		size:  info.Size(),
		total: uint32(total),
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewSender",
		"path":         path,
		"size":         info.Size(),
		"total_chunks": s.total,
	}).Info("Starting file send")
	return s, nil
}

// OnProgress sets a callback invoked after each chunk is fully sent.
func (s *Sender) OnProgress(callback func(current, total uint32)) {
	s.progressCallback = callback
}

// TotalChunks returns the announced chunk count.
func (s *Sender) TotalChunks() uint32 {
	return s.total
}

// Progress returns sent and announced chunk counts.
func (s *Sender) Progress() (current, total uint32) {
	return s.current, s.total
}

// SendNext emits the next chunk to w as one header+payload unit. A
// would-block write is retried with a small progressive backoff up to
// limits.MaxSendRetries attempts; a reset or broken-pipe condition
// aborts immediately. It returns true once the final chunk has been
// written, at which point the source file is closed. Any returned error
// is terminal and the caller must Close the sender.
func (s *Sender) SendNext(w io.Writer) (bool, error) {
	if s.current >= s.total {
		return true, nil
	}

	payload := s.buf[wire.HeaderSize:]
	n, err := s.file.Read(payload)
	if err != nil {
		return false, fmt.Errorf("reading chunk %d: %w", s.current, err)
	}

	hdr := &wire.ChunkHeader{
		ChunkID:     s.current,
		ChunkSize:   uint32(n),
		TotalChunks: s.total,
	}
	// The filename travels only in chunk 0; later headers carry an
	// all-zero field.
	if s.current == 0 {
		hdr.Filename = s.name
	}

	block, err := hdr.Serialize()
	if err != nil {
		return false, err
	}
	copy(s.buf[:wire.HeaderSize], block)

	if err := s.writeChunk(w, wire.HeaderSize+n); err != nil {
		return false, err
	}

	s.current++
	if s.progressCallback != nil {
		s.progressCallback(s.current, s.total)
	}

	s.pace()

	if s.current >= s.total {
		s.Close()
		logrus.WithFields(logrus.Fields{
			"function": "SendNext",
			"filename": s.name,
			"chunks":   s.total,
		}).Info("File sent successfully")
		return true, nil
	}
	return false, nil
}

// writeChunk pushes one header+payload unit through w, absorbing short
// writes and bounded would-block retries.
func (s *Sender) writeChunk(w io.Writer, length int) error {
	sent := 0
	retries := 0
	for sent < length {
		n, err := w.Write(s.buf[sent:length])
		switch {
		case errors.Is(err, poll.ErrWouldBlock):
			retries++
			if retries > limits.MaxSendRetries {
				return fmt.Errorf("%w: chunk %d", ErrSendRetries, s.current)
			}
			// Progressive backoff: 1ms, 2ms, 3ms, ...
			time.Sleep(time.Duration(retries) * time.Millisecond)
			continue
		case errors.Is(err, poll.ErrConnectionReset):
			return fmt.Errorf("sending chunk %d: %w", s.current, err)
		case err != nil:
			return fmt.Errorf("sending chunk %d: %w", s.current, err)
		}
		sent += n
		retries = 0
	}
	return nil
}

// pace inserts small proportional delays on very large transfers so the
// peer's receive path keeps up without explicit flow control.
func (s *Sender) pace() {
	switch {
	case s.total > 500_000 && s.current%100 == 0:
		time.Sleep(900 * time.Microsecond)
	case s.total > 100_000 && s.current%500 == 0:
		time.Sleep(600 * time.Microsecond)
	}
}

// Close releases the source file handle if still held.
func (s *Sender) Close() {
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Close",
				"filename": s.name,
				"error":    err.Error(),
			}).Warn("Failed to close source file")
		}
		s.file = nil
	}
}
