// Package wire implements the binary chunk format for the filewire
// transfer protocol.
//
// Every transferred file is split into chunks, each preceded by a fixed
// 80-byte header. All integer fields travel in network byte order.
//
// Example:
//
//	hdr := &wire.ChunkHeader{
//	    ChunkID:     0,
//	    ChunkSize:   uint32(len(payload)),
//	    TotalChunks: total,
//	    Filename:    "report.txt",
//	}
//
//	block, err := hdr.Serialize()
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/opd-ai/filewire/limits"
)

const (
	// FilenameSize is the fixed width of the null-terminated filename
	// field. The name is meaningful only when ChunkID is 0.
	FilenameSize = 64

	// HeaderSize is the encoded size of one chunk header: four uint32
	// fields followed by the filename field.
	HeaderSize = 16 + FilenameSize
)

// ErrHeaderTooShort indicates a decode input smaller than HeaderSize.
var ErrHeaderTooShort = errors.New("chunk header too short")

// ErrFilenameTooLong indicates a filename that cannot fit the fixed field
// with its null terminator.
var ErrFilenameTooLong = errors.New("filename too long for header field")

// ErrReservedType indicates a nonzero type field, which is reserved.
var ErrReservedType = errors.New("reserved header type field is nonzero")

// ChunkHeader is the fixed header preceding every chunk payload.
type ChunkHeader struct {
	ChunkID     uint32
	ChunkSize   uint32
	TotalChunks uint32
	Type        uint32
	Filename    string
}

// Serialize converts a header to its fixed-size wire block.
// Integer fields are written big-endian; the filename is null-padded to
// FilenameSize bytes.
func (h *ChunkHeader) Serialize() ([]byte, error) {
	if len(h.Filename) >= FilenameSize {
		return nil, ErrFilenameTooLong
	}

	// Format: [chunk_id u32][chunk_size u32][total_chunks u32][type u32][filename 64 bytes]
	block := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(block[0:4], h.ChunkID)
	binary.BigEndian.PutUint32(block[4:8], h.ChunkSize)
	binary.BigEndian.PutUint32(block[8:12], h.TotalChunks)
	binary.BigEndian.PutUint32(block[12:16], h.Type)
	copy(block[16:], h.Filename)

	return block, nil
}

// ParseChunkHeader converts a wire block back to a ChunkHeader.
// It performs only the fixed-width conversion; callers apply Validate
// to enforce protocol bounds.
func ParseChunkHeader(data []byte) (*ChunkHeader, error) {
	if len(data) < HeaderSize {
		return nil, ErrHeaderTooShort
	}

	name := data[16 : 16+FilenameSize]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}

	return &ChunkHeader{
		ChunkID:     binary.BigEndian.Uint32(data[0:4]),
		ChunkSize:   binary.BigEndian.Uint32(data[4:8]),
		TotalChunks: binary.BigEndian.Uint32(data[8:12]),
		Type:        binary.BigEndian.Uint32(data[12:16]),
		Filename:    string(name),
	}, nil
}

// Validate enforces the protocol bounds on a decoded header: chunk_size in
// (0, PayloadMax], total_chunks in (0, MaxTotalChunks], and a zero type
// field. Any violation is fatal to the transfer carrying the header.
func (h *ChunkHeader) Validate() error {
	if err := limits.ValidateChunkSize(h.ChunkSize); err != nil {
		return err
	}
	if err := limits.ValidateTotalChunks(h.TotalChunks); err != nil {
		return err
	}
	if h.Type != 0 {
		return ErrReservedType
	}
	return nil
}
