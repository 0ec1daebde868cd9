package footer

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"Shopify/parquet-rowgroup-bench/generic"
)

// RangeReader reads byte ranges of a single file.
type RangeReader interface {
	ReadRange(ctx context.Context, off, length int64) ([]byte, error)
}

type readerAtRanges struct {
	reader io.ReaderAt
}

// NewReaderAtRanges reads ranges from r.
func NewReaderAtRanges(r io.ReaderAt) RangeReader {
	return readerAtRanges{reader: r}
}

func (r readerAtRanges) ReadRange(_ context.Context, off, length int64) ([]byte, error) {
	if off < 0 || length < 0 {
		return nil, errors.Wrapf(ErrInvalidRange, "offset %d, length %d", off, length)
	}
	buffer := make([]byte, length)
	n, err := r.reader.ReadAt(buffer, off)
	if n == len(buffer) {
		return buffer, nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return nil, err
}

// Decode drives decoder until it produces metadata, fetching the ranges it
// requests from reader concurrently.
func Decode(ctx context.Context, decoder PushDecoder, reader RangeReader) (*FileMetadata, error) {
	for {
		result, err := decoder.TryDecode()
		if err != nil {
			return nil, err
		}
		switch result.Kind {
		case Data:
			return result.Metadata, nil
		case Finished:
			return nil, ErrNoMetadata
		}

		buffers := make([][]byte, len(result.Ranges))
		err = generic.ParallelEach(result.Ranges, func(i int, r Range) error {
			b, err := reader.ReadRange(ctx, r.Start, r.Len())
			if err != nil {
				return errors.Wrapf(err, "reading range %s", r)
			}
			buffers[i] = b
			return nil
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.PushRanges(result.Ranges, buffers); err != nil {
			return nil, err
		}
	}
}

// DecodeFile decodes the metadata of a file of size bytes.
func DecodeFile(ctx context.Context, reader RangeReader, size int64, opts ...Option) (*FileMetadata, error) {
	decoder, err := NewMetadataDecoder(size, opts...)
	if err != nil {
		return nil, err
	}
	return Decode(ctx, decoder, reader)
}
