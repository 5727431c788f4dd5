package feedback

import (
	"context"
	"io"
)

// DefaultReadSize matches the read size the gateway's feedback service is
// usually drained with.
const DefaultReadSize = 4096

// maxEmptyReads bounds consecutive (0, nil) reads, as bufio does.
const maxEmptyReads = 100

// ReaderSource adapts an io.Reader, typically the feedback TLS connection,
// to a ChunkSource. Each Next performs a single Read.
type ReaderSource struct {
	r    io.Reader
	size int
}

// NewReaderSource reads at most size bytes per chunk.
func NewReaderSource(r io.Reader, size int) *ReaderSource {
	if size <= 0 {
		size = DefaultReadSize
	}
	return &ReaderSource{r: r, size: size}
}

func (s *ReaderSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, s.size)
	for i := 0; i < maxEmptyReads; i++ {
		n, err := s.r.Read(buf)
		if n > 0 || err != nil {
			return buf[:n], err
		}
	}
	return nil, io.ErrNoProgress
}

// SliceSource replays fixed chunks, then reports io.EOF.
type SliceSource struct {
	chunks [][]byte
}

// NewSliceSource returns a source yielding chunks in order.
func NewSliceSource(chunks ...[]byte) *SliceSource {
	return &SliceSource{chunks: chunks}
}

// Chunked splits data into chunks of at most size bytes.
func Chunked(data []byte, size int) *SliceSource {
	if size < 1 {
		size = 1
	}
	var chunks [][]byte
	for len(data) > 0 {
		n := min(size, len(data))
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return NewSliceSource(chunks...)
}

func (s *SliceSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.chunks) == 0 {
		return nil, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}
