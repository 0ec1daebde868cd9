package storage

import (
	"context"
	"io"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/thanos-io/objstore"

	"Shopify/parquet-rowgroup-bench/footer"
)

// BucketReader reads ranges of a single object.
type BucketReader struct {
	name   string
	bucket objstore.BucketReader
	logger log.Logger
}

func NewBucketReader(name string, bucket objstore.BucketReader, logger log.Logger) *BucketReader {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &BucketReader{
		name:   name,
		bucket: bucket,
		logger: logger,
	}
}

func (r BucketReader) Name() string {
	return r.name
}

func (r BucketReader) Size(ctx context.Context) (int64, error) {
	attrs, err := r.bucket.Attributes(ctx, r.name)
	if err != nil {
		return 0, errors.Wrapf(err, "getting attributes of %s", r.name)
	}
	return attrs.Size, nil
}

func (r BucketReader) ReadRange(ctx context.Context, off, length int64) ([]byte, error) {
	if off < 0 || length < 0 {
		return nil, errors.Wrapf(footer.ErrInvalidRange, "reading %s at offset %d, length %d", r.name, off, length)
	}
	buffer := make([]byte, length)
	if _, err := r.readAt(ctx, buffer, off); err != nil {
		return nil, err
	}
	return buffer, nil
}

func (r BucketReader) ReadAt(p []byte, off int64) (n int, err error) {
	return r.readAt(context.Background(), p, off)
}

func (r BucketReader) readAt(ctx context.Context, p []byte, off int64) (int, error) {
	level.Debug(r.logger).Log("msg", "reading range", "object", r.name, "offset", off, "length", len(p))
	rangeReader, err := r.bucket.GetRange(ctx, r.name, off, int64(len(p)))
	if err != nil {
		return 0, errors.Wrapf(err, "reading %d bytes of %s at %d", len(p), r.name, off)
	}
	defer rangeReader.Close()

	return io.ReadFull(rangeReader, p)
}
