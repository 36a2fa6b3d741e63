package transfer

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/filewire/limits"
	"github.com/opd-ai/filewire/wire"
)

// ErrChunkSequence indicates a chunk_id that does not continue the
// expected sequence.
var ErrChunkSequence = errors.New("chunk out of sequence")

// ErrRunawayInput indicates the assembler processed more sub-structure
// transitions than one input span can legitimately produce, which points
// at corrupt or adversarial data.
var ErrRunawayInput = errors.New("runaway chunk stream")

// ErrAssemblerDone indicates input delivered after the assembler reached
// a terminal state.
var ErrAssemblerDone = errors.New("assembler already finished")

// ChunkSink receives the output of an Assembler.
type ChunkSink interface {
	// BeginFile is called exactly once, when the first chunk's header
	// completes. The filename it carries is authoritative.
	BeginFile(filename string, totalChunks uint32) error

	// WriteChunk is called once per reassembled chunk, in order, with
	// the complete payload.
	WriteChunk(hdr *wire.ChunkHeader, payload []byte) error
}

type assemblerPhase uint8

const (
	phaseAwaitingHeader assemblerPhase = iota
	phaseAwaitingPayload
)

// Assembler incrementally reconstructs chunk headers and payloads from
// arbitrary-length byte spans, tolerating any TCP fragmentation or
// coalescing. It reports terminal completion when the announced chunk
// count has been delivered, and a terminal error on the first protocol
// violation; either way the Assembler must not be fed again.
type Assembler struct {
	sink  ChunkSink
	phase assemblerPhase

	// buf accumulates the current sub-structure: up to wire.HeaderSize
	// bytes while awaiting a header, up to the announced chunk size
	// while awaiting a payload.
	buf  [limits.PayloadMax]byte
	hbuf [wire.HeaderSize]byte
	fill int

	hdr     *wire.ChunkHeader
	total   uint32
	current uint32
	lastID  int64
	done    bool
}

// NewAssembler creates an Assembler delivering to sink.
func NewAssembler(sink ChunkSink) *Assembler {
	return &Assembler{
		sink:   sink,
		lastID: -1,
	}
}

// Progress returns completed and announced chunk counts. The announced
// count is zero until the first header has been decoded.
func (a *Assembler) Progress() (current, total uint32) {
	return a.current, a.total
}

// Done reports whether the assembler reached terminal success.
func (a *Assembler) Done() bool {
	return a.done
}

// Consume processes one input span as delivered by a socket read. The
// span may contain any fraction of the chunk stream: partial headers,
// several whole chunks, or both. It returns true when the transfer
// completed within this span. Any returned error is terminal.
func (a *Assembler) Consume(data []byte) (bool, error) {
	if a.done {
		return true, ErrAssemblerDone
	}

	// Each loop pass consumes at least one byte except at the two
	// phase boundaries, so a conforming span can never need more
	// passes than this.
	maxTransitions := 2*len(data) + 2
	transitions := 0

	for len(data) > 0 {
		transitions++
		if transitions > maxTransitions {
			return false, ErrRunawayInput
		}

		var err error
		switch a.phase {
		case phaseAwaitingHeader:
			data, err = a.consumeHeader(data)
		case phaseAwaitingPayload:
			data, err = a.consumePayload(data)
		}
		if err != nil {
			return false, err
		}
		if a.done {
			return true, nil
		}
	}
	return false, nil
}

// consumeHeader copies bytes toward a complete header and, on completion,
// validates it and arms the payload phase.
func (a *Assembler) consumeHeader(data []byte) ([]byte, error) {
	need := wire.HeaderSize - a.fill
	n := need
	if len(data) < n {
		n = len(data)
	}
	copy(a.hbuf[a.fill:], data[:n])
	a.fill += n
	data = data[n:]

	if a.fill < wire.HeaderSize {
		return data, nil
	}

	hdr, err := wire.ParseChunkHeader(a.hbuf[:])
	if err != nil {
		return nil, err
	}
	if err := hdr.Validate(); err != nil {
		return nil, err
	}

	if a.lastID < 0 {
		if hdr.ChunkID != 0 {
			return nil, fmt.Errorf("%w: stream begins at chunk %d", ErrChunkSequence, hdr.ChunkID)
		}
		a.total = hdr.TotalChunks
		if err := a.sink.BeginFile(hdr.Filename, hdr.TotalChunks); err != nil {
			return nil, err
		}
		logrus.WithFields(logrus.Fields{
			"function":     "consumeHeader",
			"filename":     hdr.Filename,
			"total_chunks": hdr.TotalChunks,
		}).Info("Transfer started")
	} else if int64(hdr.ChunkID) != a.lastID+1 {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrChunkSequence, a.lastID+1, hdr.ChunkID)
	}

	a.lastID = int64(hdr.ChunkID)
	a.hdr = hdr
	a.fill = 0
	a.phase = phaseAwaitingPayload
	return data, nil
}

// consumePayload copies bytes toward the current chunk's payload and, on
// completion, delivers it to the sink.
func (a *Assembler) consumePayload(data []byte) ([]byte, error) {
	need := int(a.hdr.ChunkSize) - a.fill
	n := need
	if len(data) < n {
		n = len(data)
	}
	copy(a.buf[a.fill:], data[:n])
	a.fill += n
	data = data[n:]

	if a.fill < int(a.hdr.ChunkSize) {
		return data, nil
	}

	if err := a.sink.WriteChunk(a.hdr, a.buf[:a.fill]); err != nil {
		return nil, err
	}

	a.current++
	a.fill = 0
	a.phase = phaseAwaitingHeader

	if a.current >= a.total {
		a.done = true
		logrus.WithFields(logrus.Fields{
			"function": "consumePayload",
			"chunks":   a.current,
		}).Debug("Chunk stream complete")
	}
	return data, nil
}
