package upload

import (
	"fmt"
	"io"
)

// ChunkReader reads exact byte ranges out of a local, seekable source of known
// total size. Random access is required: after a retry negotiation the remote
// endpoint may ask for a range behind the locally computed one.
type ChunkReader struct {
	src  io.ReaderAt
	size int64
}

func NewChunkReader(src io.ReaderAt, size int64) *ChunkReader {
	return &ChunkReader{src: src, size: size}
}

// Size returns the total size of the backing source.
func (r *ChunkReader) Size() int64 {
	return r.size
}

// ReadRange returns exactly end-start bytes starting at start.
func (r *ChunkReader) ReadRange(start, end int64) ([]byte, error) {
	if start < 0 || end < start {
		return nil, fmt.Errorf("invalid byte range [%d, %d)", start, end)
	}

	if end > r.size {
		return nil, fmt.Errorf("byte range [%d, %d) exceeds source size %d", start, end, r.size)
	}

	buf := make([]byte, end-start)
	if _, err := io.ReadFull(io.NewSectionReader(r.src, start, end-start), buf); err != nil {
		return nil, fmt.Errorf("failed to read range [%d, %d): %w", start, end, err)
	}

	return buf, nil
}
