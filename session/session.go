// Package session tracks per-connection state for the filewire server
// and client: the current protocol mode, the command line buffer, and
// any in-flight transfer. The server additionally keeps a bounded table
// of records keyed by socket descriptor.
package session

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/filewire/command"
	"github.com/opd-ai/filewire/transfer"
)

// ErrTableFull indicates the connection table reached capacity; the new
// connection must be rejected without disturbing existing ones.
var ErrTableFull = errors.New("connection table full")

// Mode is the interpretation applied to inbound bytes on a connection.
type Mode uint8

const (
	// ModeCommand interprets inbound bytes as newline-terminated text.
	ModeCommand Mode = iota
	// ModeTransfer interprets bytes as the binary chunk stream.
	ModeTransfer
)

// Record bundles the state of one connection. A record is in
// ModeTransfer exactly when it holds a Receiver or a Sender; leaving
// transfer mode always releases the associated file handle.
type Record struct {
	FD    int
	Addr  string
	Lines command.LineBuffer

	mode Mode
	recv *transfer.Receiver
	send *transfer.Sender
}

// Mode returns the record's current mode.
func (r *Record) Mode() Mode {
	return r.mode
}

// Receiver returns the active inbound transfer, or nil.
func (r *Record) Receiver() *transfer.Receiver {
	return r.recv
}

// Sender returns the active outbound transfer, or nil.
func (r *Record) Sender() *transfer.Sender {
	return r.send
}

// Sending reports whether an outbound transfer is active. Writable
// readiness should be watched only while this holds.
func (r *Record) Sending() bool {
	return r.send != nil
}

// BeginReceive switches the record to transfer mode with recv owning
// the inbound stream.
func (r *Record) BeginReceive(recv *transfer.Receiver) {
	r.releaseTransfer()
	r.recv = recv
	r.mode = ModeTransfer
}

// BeginSend switches the record to transfer mode with snd producing
// the outbound stream.
func (r *Record) BeginSend(snd *transfer.Sender) {
	r.releaseTransfer()
	r.send = snd
	r.mode = ModeTransfer
}

// EndTransfer leaves transfer mode, releasing any file handle held by
// the active transfer state, and returns the record to command mode.
// Calling it with no active transfer is a no-op.
func (r *Record) EndTransfer() {
	r.releaseTransfer()
	r.mode = ModeCommand
}

func (r *Record) releaseTransfer() {
	if r.recv != nil {
		r.recv.Close()
		r.recv = nil
	}
	if r.send != nil {
		r.send.Close()
		r.send = nil
	}
}

// Table is a fixed-capacity collection of connection records keyed by
// socket descriptor. It is mutated only by the dispatcher thread, so no
// locking is required.
type Table struct {
	capacity int
	records  map[int]*Record
}

// NewTable creates an empty table bounded at capacity records.
func NewTable(capacity int) *Table {
	return &Table{
		capacity: capacity,
		records:  make(map[int]*Record, capacity),
	}
}

// Add registers a new connection. It fails with ErrTableFull at
// capacity, leaving existing records untouched.
func (t *Table) Add(fd int, addr string) (*Record, error) {
	if len(t.records) >= t.capacity {
		logrus.WithFields(logrus.Fields{
			"function": "Add",
			"capacity": t.capacity,
			"peer":     addr,
		}).Warn("Connection table full, rejecting connection")
		return nil, ErrTableFull
	}

	rec := &Record{FD: fd, Addr: addr}
	t.records[fd] = rec
	return rec, nil
}

// Get looks up the record for fd, or nil.
func (t *Table) Get(fd int) *Record {
	return t.records[fd]
}

// Remove discards the record for fd, releasing any transfer state it
// holds. A partially written upload stays on disk.
func (t *Table) Remove(fd int) {
	if rec, ok := t.records[fd]; ok {
		rec.EndTransfer()
		delete(t.records, fd)
	}
}

// Len returns the number of active records.
func (t *Table) Len() int {
	return len(t.records)
}
