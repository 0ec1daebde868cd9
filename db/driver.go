package db

import (
	"context"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/pkg/errors"

	"Shopify/parquet-rowgroup-bench/encode"
)

// DefaultBatchSize is the number of rows of the batch repeated to fill a row
// group.
const DefaultBatchSize = 100

var ErrEmptyBatch = errors.New("cannot fill a row group from an empty batch")

// BatchEncoder is the part of encode.RowGroupEncoder used by the driver.
type BatchEncoder interface {
	EncodeBatch(ctx context.Context, batch arrow.Record) error
	Close() ([]encode.ColumnChunk, error)
	Abort() error
}

// EncodeRowGroup submits batch repeatedly until exactly rows rows were
// encoded, slicing the last submission if needed, and closes the encoder.
// The encoder is aborted if a submission fails.
func EncodeRowGroup(ctx context.Context, enc BatchEncoder, batch arrow.Record, rows int64) ([]encode.ColumnChunk, error) {
	if rows > 0 && batch.NumRows() == 0 {
		_ = enc.Abort()
		return nil, ErrEmptyBatch
	}

	var written int64
	for written < rows {
		next := batch
		if left := rows - written; left < batch.NumRows() {
			next = batch.NewSlice(0, left)
		} else {
			next.Retain()
		}

		numRows := next.NumRows()
		err := enc.EncodeBatch(ctx, next)
		next.Release()
		if err != nil {
			_ = enc.Abort()
			return nil, errors.Wrapf(err, "encoding rows %d to %d", written, written+numRows)
		}
		written += numRows
	}
	return enc.Close()
}
