// Package transfer implements the per-connection transfer state machines
// of the filewire protocol: reassembly of an inbound chunk stream and
// production of an outbound one.
//
// # Overview
//
// The package provides three components:
//
//   - Assembler: a two-state machine (awaiting header, awaiting payload)
//     that reconstructs chunks from arbitrary-length byte spans
//   - Receiver: drives an Assembler and persists payloads to a file under
//     a fixed receive directory
//   - Sender: reads a source file in fixed slices and emits ordered
//     header-prefixed chunks with bounded would-block retries
//
// # Reassembly
//
// Incoming bytes arrive however TCP delivers them: a single read may hold
// a fraction of a header, several whole chunks, or anything in between.
// The Assembler copies only as many bytes as the current sub-structure
// needs, loops until the span is exhausted, and therefore produces output
// independent of how the stream was fragmented:
//
//	recv := transfer.NewReceiver("saved")
//	done, err := recv.Consume(span)
//
// Header validation, chunk sequencing (each chunk_id must follow its
// predecessor, starting at 0), and a per-span transition bound guard the
// machine against corrupt or adversarial input. Any violation is a
// terminal error; the caller discards the transfer and any partially
// written file stays on disk.
//
// # Sending
//
// A Sender emits one chunk per SendNext call, which the event loop drives
// from writable readiness:
//
//	snd, err := transfer.NewSender("report.txt")
//	for {
//	    done, err := snd.SendNext(conn)
//	    ...
//	}
//
// Each chunk is written as one header+payload unit. EAGAIN conditions are
// retried with progressive backoff up to limits.MaxSendRetries; a reset
// or broken pipe aborts the transfer immediately. The filename travels
// only in chunk 0.
//
// # File Handle Ownership
//
// Exactly one Receiver or Sender owns its file handle at a time. The
// handle is released on completion, on terminal error via Close, and on
// connection teardown. Closing after an aborted receive leaves the
// partial file in place deliberately.
//
// # Error Handling
//
// Sentinel errors identify failure classes:
//
//	ErrChunkSequence  // chunk_id skipped or repeated
//	ErrRunawayInput   // transition bound exceeded on one span
//	ErrCannotCreate   // destination file creation failed
//	ErrUnsafeFilename // header filename escapes the receive directory
//	ErrEmptyFile      // source file has no content
//	ErrSendRetries    // would-block retry bound exceeded
//
// Bound violations surface as limits.ErrChunkSizeRange and
// limits.ErrTotalChunksRange wrapped with context.
package transfer
