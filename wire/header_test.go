package wire

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/filewire/limits"
)

func TestSerializeLayout(t *testing.T) {
	hdr := &ChunkHeader{
		ChunkID:     7,
		ChunkSize:   512,
		TotalChunks: 42,
		Type:        0,
		Filename:    "report.txt",
	}

	block, err := hdr.Serialize()
	require.NoError(t, err)
	require.Len(t, block, HeaderSize)

	// Fields are big-endian regardless of host order.
	assert.Equal(t, uint32(7), binary.BigEndian.Uint32(block[0:4]))
	assert.Equal(t, uint32(512), binary.BigEndian.Uint32(block[4:8]))
	assert.Equal(t, uint32(42), binary.BigEndian.Uint32(block[8:12]))
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(block[12:16]))
	assert.Equal(t, []byte("report.txt"), block[16:26])
	assert.Equal(t, byte(0), block[26], "filename must be null-terminated")
}

func TestSerializeParseRoundTrip(t *testing.T) {
	in := &ChunkHeader{
		ChunkID:     3,
		ChunkSize:   276,
		TotalChunks: 4,
		Filename:    "data.bin",
	}

	block, err := in.Serialize()
	require.NoError(t, err)

	out, err := ParseChunkHeader(block)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestSerializeFilenameTooLong(t *testing.T) {
	hdr := &ChunkHeader{
		ChunkID:     0,
		ChunkSize:   1,
		TotalChunks: 1,
		Filename:    strings.Repeat("x", FilenameSize),
	}

	_, err := hdr.Serialize()
	assert.ErrorIs(t, err, ErrFilenameTooLong)
}

func TestParseChunkHeaderTooShort(t *testing.T) {
	_, err := ParseChunkHeader(make([]byte, HeaderSize-1))
	assert.ErrorIs(t, err, ErrHeaderTooShort)
}

func TestParseChunkHeaderExtraBytesIgnored(t *testing.T) {
	in := &ChunkHeader{ChunkID: 0, ChunkSize: 10, TotalChunks: 1, Filename: "a"}
	block, err := in.Serialize()
	require.NoError(t, err)

	out, err := ParseChunkHeader(append(block, 0xde, 0xad))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestValidateBounds(t *testing.T) {
	tests := []struct {
		name    string
		hdr     ChunkHeader
		wantErr error
	}{
		{"valid", ChunkHeader{ChunkSize: 1, TotalChunks: 1}, nil},
		{"zero chunk size", ChunkHeader{ChunkSize: 0, TotalChunks: 1}, limits.ErrChunkSizeRange},
		{"oversized chunk", ChunkHeader{ChunkSize: limits.PayloadMax + 1, TotalChunks: 1}, limits.ErrChunkSizeRange},
		{"zero total chunks", ChunkHeader{ChunkSize: 1, TotalChunks: 0}, limits.ErrTotalChunksRange},
		{"excess total chunks", ChunkHeader{ChunkSize: 1, TotalChunks: limits.MaxTotalChunks + 1}, limits.ErrTotalChunksRange},
		{"reserved type", ChunkHeader{ChunkSize: 1, TotalChunks: 1, Type: 9}, ErrReservedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.hdr.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
			}
		})
	}
}
