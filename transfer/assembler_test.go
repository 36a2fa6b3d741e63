package transfer

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/filewire/limits"
	"github.com/opd-ai/filewire/wire"
)

// captureSink records everything an Assembler delivers.
type captureSink struct {
	filename string
	total    uint32
	began    bool
	data     bytes.Buffer
	chunks   []uint32
	beginErr error
	writeErr error
}

func (c *captureSink) BeginFile(filename string, totalChunks uint32) error {
	if c.beginErr != nil {
		return c.beginErr
	}
	c.began = true
	c.filename = filename
	c.total = totalChunks
	return nil
}

func (c *captureSink) WriteChunk(hdr *wire.ChunkHeader, payload []byte) error {
	if c.writeErr != nil {
		return c.writeErr
	}
	c.chunks = append(c.chunks, hdr.ChunkID)
	c.data.Write(payload)
	return nil
}

// chunkStream encodes content as a valid chunk stream for filename.
func chunkStream(t *testing.T, filename string, content []byte) []byte {
	t.Helper()
	total := uint32((len(content) + limits.PayloadMax - 1) / limits.PayloadMax)
	var stream bytes.Buffer
	for i := uint32(0); i < total; i++ {
		start := int(i) * limits.PayloadMax
		end := start + limits.PayloadMax
		if end > len(content) {
			end = len(content)
		}
		hdr := &wire.ChunkHeader{
			ChunkID:     i,
			ChunkSize:   uint32(end - start),
			TotalChunks: total,
		}
		if i == 0 {
			hdr.Filename = filename
		}
		block, err := hdr.Serialize()
		require.NoError(t, err)
		stream.Write(block)
		stream.Write(content[start:end])
	}
	return stream.Bytes()
}

func makeContent(n int) []byte {
	content := make([]byte, n)
	rng := rand.New(rand.NewSource(42))
	rng.Read(content)
	return content
}

func TestAssemblerWholeStream(t *testing.T) {
	content := makeContent(1300)
	stream := chunkStream(t, "report.txt", content)

	sink := &captureSink{}
	asm := NewAssembler(sink)

	done, err := asm.Consume(stream)
	require.NoError(t, err)
	assert.True(t, done)
	assert.True(t, asm.Done())

	assert.Equal(t, "report.txt", sink.filename)
	assert.Equal(t, uint32(3), sink.total)
	assert.Equal(t, []uint32{0, 1, 2}, sink.chunks)
	assert.Equal(t, content, sink.data.Bytes())
}

func TestAssemblerFragmentationInvariance(t *testing.T) {
	content := makeContent(3*limits.PayloadMax + 129)
	stream := chunkStream(t, "data.bin", content)

	feed := func(t *testing.T, splits func([]byte) [][]byte) {
		sink := &captureSink{}
		asm := NewAssembler(sink)
		var done bool
		for _, span := range splits(stream) {
			var err error
			done, err = asm.Consume(span)
			require.NoError(t, err)
		}
		assert.True(t, done)
		assert.Equal(t, content, sink.data.Bytes())
		assert.Equal(t, "data.bin", sink.filename)
	}

	t.Run("all at once", func(t *testing.T) {
		feed(t, func(s []byte) [][]byte { return [][]byte{s} })
	})

	t.Run("one byte at a time", func(t *testing.T) {
		feed(t, func(s []byte) [][]byte {
			spans := make([][]byte, len(s))
			for i := range s {
				spans[i] = s[i : i+1]
			}
			return spans
		})
	})

	t.Run("random splits", func(t *testing.T) {
		rng := rand.New(rand.NewSource(7))
		feed(t, func(s []byte) [][]byte {
			var spans [][]byte
			for len(s) > 0 {
				n := 1 + rng.Intn(200)
				if n > len(s) {
					n = len(s)
				}
				spans = append(spans, s[:n])
				s = s[n:]
			}
			return spans
		})
	})
}

func TestAssemblerSequenceSkipRejected(t *testing.T) {
	var stream bytes.Buffer
	for _, id := range []uint32{0, 2} {
		hdr := &wire.ChunkHeader{ChunkID: id, ChunkSize: 4, TotalChunks: 3}
		if id == 0 {
			hdr.Filename = "seq.bin"
		}
		block, err := hdr.Serialize()
		require.NoError(t, err)
		stream.Write(block)
		stream.Write([]byte("abcd"))
	}

	sink := &captureSink{}
	asm := NewAssembler(sink)
	done, err := asm.Consume(stream.Bytes())

	assert.False(t, done)
	assert.ErrorIs(t, err, ErrChunkSequence)
	// The out-of-sequence chunk's payload must not be delivered.
	assert.Equal(t, []uint32{0}, sink.chunks)
	assert.Equal(t, []byte("abcd"), sink.data.Bytes())
}

func TestAssemblerFirstChunkMustBeZero(t *testing.T) {
	hdr := &wire.ChunkHeader{ChunkID: 1, ChunkSize: 4, TotalChunks: 3}
	block, err := hdr.Serialize()
	require.NoError(t, err)

	sink := &captureSink{}
	asm := NewAssembler(sink)
	_, err = asm.Consume(append(block, 'a', 'b', 'c', 'd'))

	assert.ErrorIs(t, err, ErrChunkSequence)
	assert.False(t, sink.began, "sink must not be opened for a bad stream start")
}

func TestAssemblerBoundsRejected(t *testing.T) {
	tests := []struct {
		name string
		hdr  wire.ChunkHeader
		want error
	}{
		{"zero chunk size", wire.ChunkHeader{ChunkSize: 0, TotalChunks: 1, Filename: "x"}, limits.ErrChunkSizeRange},
		{"oversized chunk", wire.ChunkHeader{ChunkSize: limits.PayloadMax + 1, TotalChunks: 1, Filename: "x"}, limits.ErrChunkSizeRange},
		{"zero total", wire.ChunkHeader{ChunkSize: 8, TotalChunks: 0, Filename: "x"}, limits.ErrTotalChunksRange},
		{"excess total", wire.ChunkHeader{ChunkSize: 8, TotalChunks: limits.MaxTotalChunks + 1, Filename: "x"}, limits.ErrTotalChunksRange},
		{"reserved type", wire.ChunkHeader{ChunkSize: 8, TotalChunks: 1, Type: 1, Filename: "x"}, wire.ErrReservedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block, err := tt.hdr.Serialize()
			require.NoError(t, err)

			sink := &captureSink{}
			asm := NewAssembler(sink)
			_, err = asm.Consume(block)

			assert.ErrorIs(t, err, tt.want)
			assert.False(t, sink.began)
		})
	}
}

func TestAssemblerSplitHeaderAcrossSpans(t *testing.T) {
	content := makeContent(100)
	stream := chunkStream(t, "tiny.bin", content)

	sink := &captureSink{}
	asm := NewAssembler(sink)

	// Split in the middle of the header.
	done, err := asm.Consume(stream[:wire.HeaderSize/2])
	require.NoError(t, err)
	assert.False(t, done)
	assert.False(t, sink.began)

	done, err = asm.Consume(stream[wire.HeaderSize/2:])
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, content, sink.data.Bytes())
}

func TestAssemblerRejectsInputAfterDone(t *testing.T) {
	stream := chunkStream(t, "done.bin", makeContent(10))

	asm := NewAssembler(&captureSink{})
	done, err := asm.Consume(stream)
	require.NoError(t, err)
	require.True(t, done)

	_, err = asm.Consume([]byte{1})
	assert.ErrorIs(t, err, ErrAssemblerDone)
}

func TestAssemblerSinkErrorIsTerminal(t *testing.T) {
	stream := chunkStream(t, "x.bin", makeContent(10))

	sink := &captureSink{beginErr: assert.AnError}
	asm := NewAssembler(sink)
	_, err := asm.Consume(stream)
	assert.ErrorIs(t, err, assert.AnError)
}
