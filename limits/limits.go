// Package limits provides centralized protocol bounds for the filewire
// transfer protocol. This ensures both roles (sender and receiver) enforce
// identical limits on every connection.
package limits

import (
	"errors"
	"fmt"
)

const (
	// PayloadMax is the authoritative chunk payload bound (512 bytes).
	// Both roles enforce it symmetrically: a sender never produces a
	// larger payload and a receiver rejects any header announcing one.
	PayloadMax = 512

	// MaxTotalChunks caps the chunk count a single transfer may announce.
	// At PayloadMax bytes per chunk this bounds a transfer near 1 GiB.
	MaxTotalChunks = 2_000_000

	// MaxCommandLine is the protective bound on one buffered text command
	// line, excluding the newline. A connection whose buffer exceeds it
	// is notified and forcibly closed.
	MaxCommandLine = 1024

	// MaxConnections is the server connection-table capacity. An accept
	// beyond it is rejected without disturbing existing clients.
	MaxConnections = 10

	// MaxSendRetries bounds how many would-block retries one chunk send
	// is allowed before the transfer is abandoned.
	MaxSendRetries = 10

	// FlushInterval is the receiver's periodic flush cadence in completed
	// chunks. Data is always durable by transfer completion; this only
	// bounds how much a crash mid-transfer can lose.
	FlushInterval = 2048
)

var (
	// ErrChunkSizeRange indicates a chunk_size outside (0, PayloadMax].
	ErrChunkSizeRange = errors.New("chunk size out of range")

	// ErrTotalChunksRange indicates a total_chunks outside (0, MaxTotalChunks].
	ErrTotalChunksRange = errors.New("total chunks out of range")

	// ErrLineTooLong indicates a command line exceeding MaxCommandLine.
	ErrLineTooLong = errors.New("command line too long")
)

// ValidateChunkSize validates an announced payload length against PayloadMax.
// Returns an error with context including the actual value and the bound.
func ValidateChunkSize(size uint32) error {
	if size == 0 || size > PayloadMax {
		return fmt.Errorf("%w: chunk_size %d not in (0, %d]", ErrChunkSizeRange, size, PayloadMax)
	}
	return nil
}

// ValidateTotalChunks validates an announced chunk count against MaxTotalChunks.
// Returns an error with context if the count is zero or above the cap.
func ValidateTotalChunks(total uint32) error {
	if total == 0 || total > MaxTotalChunks {
		return fmt.Errorf("%w: total_chunks %d not in (0, %d]", ErrTotalChunksRange, total, MaxTotalChunks)
	}
	return nil
}

// ValidateCommandLine validates a buffered command-line length against
// MaxCommandLine.
func ValidateCommandLine(length int) error {
	if length > MaxCommandLine {
		return fmt.Errorf("%w: %d bytes exceeds limit %d", ErrLineTooLong, length, MaxCommandLine)
	}
	return nil
}
