package wire

// LooksLikeFirstChunk reports whether data plausibly begins with the first
// chunk header of a binary transfer.
//
// The sending side emits no explicit mode marker, so a receiver in command
// mode must infer the text-to-binary switch from content shape. The check
// requires at least HeaderSize bytes decoding to chunk_id 0, in-range
// chunk_size and total_chunks, and a non-empty filename.
//
// This is a heuristic, not a guarantee: a text response that coincidentally
// matches the header shape would be misclassified. It is kept behind this
// single predicate so a future protocol revision can replace it with an
// explicit mode-announcement frame.
func LooksLikeFirstChunk(data []byte) bool {
	if len(data) < HeaderSize {
		return false
	}

	hdr, err := ParseChunkHeader(data)
	if err != nil {
		return false
	}

	return hdr.ChunkID == 0 &&
		hdr.Validate() == nil &&
		hdr.Filename != ""
}
