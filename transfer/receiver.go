package transfer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/filewire/limits"
	"github.com/opd-ai/filewire/wire"
)

// ErrCannotCreate indicates the destination file could not be created.
var ErrCannotCreate = errors.New("cannot create destination file")

// ErrUnsafeFilename indicates a first-chunk filename that would escape
// the receive directory.
var ErrUnsafeFilename = errors.New("unsafe filename in transfer header")

// Receiver owns one inbound transfer: it drives an Assembler over the
// incoming byte stream and persists reassembled payloads under a fixed
// receive directory. Exactly one Receiver may hold the destination file
// handle; Close releases it whether or not the transfer completed.
type Receiver struct {
	dir      string
	asm      *Assembler
	file     *os.File
	filename string
	written  uint64
	chunks   uint32
}

// NewReceiver creates a Receiver that stores the incoming file under dir.
// The destination name arrives in the first chunk's header; dir is
// created on demand.
func NewReceiver(dir string) *Receiver {
	r := &Receiver{dir: dir}
	r.asm = NewAssembler(r)
	return r
}

// Filename returns the destination name announced by the first chunk,
// or "" before it arrives.
func (r *Receiver) Filename() string {
	return r.filename
}

// Progress returns completed and announced chunk counts.
func (r *Receiver) Progress() (current, total uint32) {
	return r.asm.Progress()
}

// Consume feeds one socket read's worth of bytes into the transfer.
// It returns true when the transfer completed; completion closes and
// syncs the destination file. Any returned error is terminal: the caller
// must Close the receiver, which leaves any partial file in place.
func (r *Receiver) Consume(data []byte) (bool, error) {
	done, err := r.asm.Consume(data)
	if err != nil {
		return false, err
	}
	if done {
		if err := r.finish(); err != nil {
			return false, err
		}
	}
	return done, nil
}

// BeginFile implements ChunkSink. It creates (or overwrites) the
// destination file named by the first chunk's header.
func (r *Receiver) BeginFile(filename string, totalChunks uint32) error {
	name, err := sanitizeName(filename)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(r.dir, 0o777); err != nil {
		return fmt.Errorf("%w: %v", ErrCannotCreate, err)
	}

	path := filepath.Join(r.dir, name)
	f, err := os.Create(path)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "BeginFile",
			"path":     path,
			"error":    err.Error(),
		}).Error("Failed to create destination file")
		return fmt.Errorf("%w: %v", ErrCannotCreate, err)
	}

	r.file = f
	r.filename = name

	logrus.WithFields(logrus.Fields{
		"function":     "BeginFile",
		"path":         path,
		"total_chunks": totalChunks,
	}).Info("Receiving file")
	return nil
}

// WriteChunk implements ChunkSink. It appends one reassembled payload
// and flushes periodically so very large transfers make durable progress.
func (r *Receiver) WriteChunk(hdr *wire.ChunkHeader, payload []byte) error {
	if _, err := r.file.Write(payload); err != nil {
		return fmt.Errorf("writing chunk %d: %w", hdr.ChunkID, err)
	}

	r.written += uint64(len(payload))
	r.chunks++
	if r.chunks%limits.FlushInterval == 0 {
		if err := r.file.Sync(); err != nil {
			return fmt.Errorf("flushing after chunk %d: %w", hdr.ChunkID, err)
		}
	}
	return nil
}

// finish makes the completed file durable and releases the handle.
func (r *Receiver) finish() error {
	if r.file == nil {
		return nil
	}
	if err := r.file.Sync(); err != nil {
		r.file.Close()
		r.file = nil
		return err
	}
	err := r.file.Close()
	r.file = nil

	logrus.WithFields(logrus.Fields{
		"function": "finish",
		"filename": r.filename,
		"bytes":    r.written,
		"chunks":   r.chunks,
	}).Info("File received successfully")
	return err
}

// Close releases the destination file handle if still held. A partially
// written file is left in place; retaining partial data on abort is
// intentional.
func (r *Receiver) Close() {
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Close",
				"filename": r.filename,
				"error":    err.Error(),
			}).Warn("Failed to close partial destination file")
		}
		r.file = nil
	}
}

// sanitizeName reduces a wire filename to a bare name inside the receive
// directory, rejecting traversal attempts.
func sanitizeName(filename string) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("%w: empty name", ErrUnsafeFilename)
	}
	name := filepath.Base(filepath.Clean(filename))
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeFilename, filename)
	}
	return name, nil
}
