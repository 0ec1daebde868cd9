package storage

import (
	"io"

	"golang.org/x/sync/errgroup"
)

const defaultConcurrencyLimit = 16

// ChunkedReader splits large reads into parts of at most maxReadSize bytes
// which are read concurrently.
type ChunkedReader struct {
	maxReadSize      int
	concurrencyLimit int
	reader           io.ReaderAt
}

func NewChunkedReader(reader io.ReaderAt, maxReadSize int) *ChunkedReader {
	return &ChunkedReader{
		maxReadSize:      maxReadSize,
		concurrencyLimit: defaultConcurrencyLimit,
		reader:           reader,
	}
}

func (r ChunkedReader) ReadAt(p []byte, off int64) (n int, err error) {
	if len(p) <= r.maxReadSize {
		return r.reader.ReadAt(p, off)
	}

	var g errgroup.Group
	g.SetLimit(r.concurrencyLimit)
	for bytesRead := 0; bytesRead < len(p); bytesRead += r.maxReadSize {
		readUntil := minInt(bytesRead+r.maxReadSize, len(p))
		part := p[bytesRead:readUntil]
		partOffset := int64(bytesRead) + off
		g.Go(func() error {
			n, err := r.reader.ReadAt(part, partOffset)
			if n == len(part) {
				return nil
			}
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(p), nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
