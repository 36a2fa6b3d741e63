// Package limits provides centralized protocol bounds and validation
// functions for the filewire transfer protocol. Keeping every bound in one
// package guarantees the sending and receiving roles enforce identical
// limits.
//
// # Protocol Bounds
//
//   - PayloadMax (512 bytes): the authoritative chunk payload bound. Earlier
//     revisions of the protocol enforced 512 on the sending side while one
//     receiver tolerated up to 8192; this package unifies the bound at 512
//     for both roles, which is a protocol version decision.
//
//   - MaxTotalChunks (2,000,000): the largest chunk count one transfer may
//     announce, bounding a single transfer near 1 GiB.
//
//   - MaxCommandLine (1024 bytes): the protective bound on one text command
//     line. Exceeding it is a capacity violation that forces a disconnect.
//
//   - MaxConnections (10): the server's connection-table capacity.
//
// # Validation Functions
//
// Each validation function returns a wrapped sentinel error with context:
//
//	if err := limits.ValidateChunkSize(hdr.ChunkSize); err != nil {
//	    // errors.Is(err, limits.ErrChunkSizeRange)
//	}
//
// # Error Types
//
//   - ErrChunkSizeRange: chunk_size outside (0, PayloadMax]
//   - ErrTotalChunksRange: total_chunks outside (0, MaxTotalChunks]
//   - ErrLineTooLong: command line exceeding MaxCommandLine
//
// # Security Considerations
//
// MaxTotalChunks and PayloadMax together bound the memory and disk a remote
// peer can commit the local side to before any payload byte is accepted.
// MaxCommandLine prevents unbounded accumulation in the command buffer from
// a peer that never sends a newline.
package limits
