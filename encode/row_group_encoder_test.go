package encode

import (
	"context"
	"encoding/binary"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/parquet-go"
	"github.com/segmentio/parquet-go/format"
	"github.com/stretchr/testify/require"

	"Shopify/parquet-rowgroup-bench/pqtest"
	"Shopify/parquet-rowgroup-bench/schema"
)

func encodeBatches(t *testing.T, e *RowGroupEncoder, mem memory.Allocator, sc *arrow.Schema, batchSizes ...int) int64 {
	var rows int64
	for _, size := range batchSizes {
		batch := pqtest.Int64Record(mem, sc, rows, size)
		err := e.EncodeBatch(context.Background(), batch)
		batch.Release()
		require.NoError(t, err)
		rows += int64(size)
	}
	return rows
}

func TestRowGroupEncoder(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	sc := pqtest.Int64Schema(3, false)
	writers := newRecordingWriters(3)
	e, err := NewRowGroupEncoder(sc, asColumnWriters(writers))
	require.NoError(t, err)

	encodeBatches(t, e, mem, sc, 2, 2)
	chunks, err := e.Close()
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	for i, chunk := range chunks {
		require.Equal(t, i, chunk.Column)
		require.EqualValues(t, 4, chunk.NumRows)
		require.Equal(t, 1, writers[i].closed)
	}
}

func TestRowGroupEncoderPreservesColumnOrder(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	const numColumns = 8
	sc := pqtest.Int64Schema(numColumns, false)
	writers := newRecordingWriters(numColumns)
	// Later columns are faster so workers finish in reverse order.
	for i, w := range writers {
		w.delay = time.Duration(numColumns-i) * 100 * time.Microsecond
	}

	e, err := NewRowGroupEncoder(sc, asColumnWriters(writers))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	batchSizes := make([]int, 25)
	for i := range batchSizes {
		batchSizes[i] = 1 + rng.Intn(50)
	}
	rows := encodeBatches(t, e, mem, sc, batchSizes...)

	chunks, err := e.Close()
	require.NoError(t, err)
	require.Len(t, chunks, numColumns)

	for col, chunk := range chunks {
		require.Equal(t, col, chunk.Column)
		require.Equal(t, rows, chunk.NumRows)

		writes, values := writers[col].snapshot()
		require.Equal(t, len(batchSizes), writes)

		expected := make([]int64, rows)
		for row := range expected {
			expected[row] = pqtest.Int64Value(col, int64(row))
		}
		require.Equal(t, expected, values)
	}
}

func TestRowGroupEncoderBackpressure(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	sc := pqtest.Int64Schema(2, false)
	writers := newRecordingWriters(2)
	writers[0].stall = make(chan struct{})

	e, err := NewRowGroupEncoder(sc, asColumnWriters(writers), WithQueueSize(2))
	require.NoError(t, err)

	const numBatches = 6
	var submitted atomic.Int32
	done := make(chan error)
	go func() {
		for i := 0; i < numBatches; i++ {
			batch := pqtest.Int64Record(mem, sc, int64(i*10), 10)
			err := e.EncodeBatch(context.Background(), batch)
			batch.Release()
			if err != nil {
				done <- err
				return
			}
			submitted.Add(1)
		}
		done <- nil
	}()

	// One slice is held by the stalled worker and two sit in its queue. The
	// fourth submission must block.
	require.Eventually(t, func() bool { return submitted.Load() == 3 }, time.Second, time.Millisecond)
	require.Never(t, func() bool { return submitted.Load() > 3 }, 50*time.Millisecond, time.Millisecond)

	close(writers[0].stall)
	require.NoError(t, <-done)
	require.EqualValues(t, numBatches, submitted.Load())

	chunks, err := e.Close()
	require.NoError(t, err)
	for _, chunk := range chunks {
		require.EqualValues(t, numBatches*10, chunk.NumRows)
	}
}

func TestRowGroupEncoderWorkerFailure(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	sc := pqtest.Int64Schema(3, false)
	writers := newRecordingWriters(3)
	writers[1].failOn = 1

	e, err := NewRowGroupEncoder(sc, asColumnWriters(writers))
	require.NoError(t, err)

	batch := pqtest.Int64Record(mem, sc, 0, 2)
	defer batch.Release()
	// The failure may surface on submission or on close, depending on when
	// the worker picks up the slice.
	_ = e.EncodeBatch(context.Background(), batch)

	chunks, err := e.Close()
	require.Nil(t, chunks)

	var colErr *ColumnError
	require.True(t, errors.As(err, &colErr))
	require.Equal(t, 1, colErr.Column)
	require.Equal(t, TerminationFailed, colErr.Reason)
	require.ErrorIs(t, err, errBoom)
}

func TestRowGroupEncoderWorkerPanic(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	sc := pqtest.Int64Schema(3, false)
	writers := newRecordingWriters(3)
	writers[2].panicOn = 2

	e, err := NewRowGroupEncoder(sc, asColumnWriters(writers), WithMetrics(metrics))
	require.NoError(t, err)

	batch := pqtest.Int64Record(mem, sc, 0, 2)
	defer batch.Release()
	for i := 0; i < 3; i++ {
		if err := e.EncodeBatch(context.Background(), batch); err != nil {
			break
		}
	}

	chunks, err := e.Close()
	require.Nil(t, chunks)

	var colErr *ColumnError
	require.True(t, errors.As(err, &colErr))
	require.Equal(t, 2, colErr.Column)
	require.Equal(t, TerminationFailed, colErr.Reason)
	require.Contains(t, colErr.Error(), "corrupted leaf")

	// The panicking worker never closed its writer, the others did.
	require.Zero(t, writers[2].closed)
	require.Equal(t, 1, writers[0].closed)
	require.Equal(t, 1, writers[1].closed)
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.terminations.WithLabelValues(TerminationFailed.String())))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.rowGroups.WithLabelValues("failed")))
}

func TestRowGroupEncoderSubmissionDetectsFailedWorker(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	sc := pqtest.Int64Schema(3, false)
	writers := newRecordingWriters(3)
	writers[1].failOn = 3

	e, err := NewRowGroupEncoder(sc, asColumnWriters(writers))
	require.NoError(t, err)

	batch := pqtest.Int64Record(mem, sc, 0, 5)
	defer batch.Release()

	var submitErr error
	require.Eventually(t, func() bool {
		submitErr = e.EncodeBatch(context.Background(), batch)
		return submitErr != nil
	}, time.Second, time.Millisecond)

	var colErr *ColumnError
	require.True(t, errors.As(submitErr, &colErr))
	require.Equal(t, 1, colErr.Column)
	require.Equal(t, TerminationFailed, colErr.Reason)

	// The row group stays failed.
	require.Equal(t, submitErr, e.EncodeBatch(context.Background(), batch))

	_, err = e.Close()
	require.True(t, errors.As(err, &colErr))
	require.Equal(t, 1, colErr.Column)
	require.ErrorIs(t, err, errBoom)

	// Nothing was written past the failing slice.
	writes, _ := writers[1].snapshot()
	require.Equal(t, 3, writes)
}

func TestRowGroupEncoderRejectsMalformedBatch(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	sc := pqtest.Int64Schema(3, false)
	writers := newRecordingWriters(3)
	e, err := NewRowGroupEncoder(sc, asColumnWriters(writers))
	require.NoError(t, err)

	t.Run("column count", func(t *testing.T) {
		batch := pqtest.Int64Record(mem, pqtest.Int64Schema(2, false), 0, 2)
		defer batch.Release()
		require.ErrorIs(t, e.EncodeBatch(context.Background(), batch), ErrBatchShape)
	})
	t.Run("column type", func(t *testing.T) {
		batch := schema.Float.CreateBatch(mem, 0, 2, 3)
		defer batch.Release()
		require.ErrorIs(t, e.EncodeBatch(context.Background(), batch), ErrBatchShape)
	})

	// A rejected batch does not fail the row group.
	rows := encodeBatches(t, e, mem, sc, 4)
	chunks, err := e.Close()
	require.NoError(t, err)
	for i, chunk := range chunks {
		require.Equal(t, rows, chunk.NumRows)
		writes, _ := writers[i].snapshot()
		require.Equal(t, 1, writes)
	}
}

func TestNewRowGroupEncoderColumnCountMismatch(t *testing.T) {
	_, err := NewRowGroupEncoder(pqtest.Int64Schema(3, false), asColumnWriters(newRecordingWriters(2)))
	require.ErrorIs(t, err, ErrColumnCountMismatch)
}

func TestRowGroupEncoderIsConsumedByClose(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	sc := pqtest.Int64Schema(2, false)
	e, err := NewRowGroupEncoder(sc, asColumnWriters(newRecordingWriters(2)))
	require.NoError(t, err)

	chunks, err := e.Close()
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for _, chunk := range chunks {
		require.Zero(t, chunk.NumRows)
	}

	_, err = e.Close()
	require.ErrorIs(t, err, ErrEncoderClosed)

	batch := pqtest.Int64Record(mem, sc, 0, 1)
	defer batch.Release()
	require.ErrorIs(t, e.EncodeBatch(context.Background(), batch), ErrEncoderClosed)
	require.ErrorIs(t, e.Abort(), ErrEncoderClosed)
}

func TestRowGroupEncoderAbort(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	sc := pqtest.Int64Schema(4, false)
	writers := newRecordingWriters(4)
	writers[2].stall = make(chan struct{})

	e, err := NewRowGroupEncoder(sc, asColumnWriters(writers))
	require.NoError(t, err)
	encodeBatches(t, e, mem, sc, 3, 3, 3)

	close(writers[2].stall)
	require.NoError(t, e.Abort())
	require.ErrorIs(t, e.Abort(), ErrEncoderClosed)

	// Aborted workers never close their writers.
	for _, w := range writers {
		require.Zero(t, w.closed)
	}
	_, err = e.Close()
	require.ErrorIs(t, err, ErrEncoderClosed)
}

func TestRowGroupEncoderContextCancellation(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	sc := pqtest.Int64Schema(1, false)
	writers := newRecordingWriters(1)
	writers[0].stall = make(chan struct{})

	e, err := NewRowGroupEncoder(sc, asColumnWriters(writers), WithQueueSize(1))
	require.NoError(t, err)

	batch := pqtest.Int64Record(mem, sc, 0, 1)
	defer batch.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var submitErr error
	for submitErr == nil {
		submitErr = e.EncodeBatch(ctx, batch)
	}
	require.ErrorIs(t, submitErr, context.DeadlineExceeded)

	close(writers[0].stall)
	_, err = e.Close()
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRowGroupEncoderParquetColumnWriters(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	const numColumns = 5
	rowSchema, err := schema.NewRowSchema(schema.String.Schema(numColumns))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	e, err := NewRowGroupEncoder(
		rowSchema.ArrowSchema(),
		NewColumnWriters(rowSchema),
		WithMetrics(metrics),
	)
	require.NoError(t, err)

	batch := schema.String.CreateBatch(mem, 0, 40, numColumns)
	defer batch.Release()
	for i := 0; i < 3; i++ {
		require.NoError(t, e.EncodeBatch(context.Background(), batch))
	}
	tail := batch.NewSlice(0, 7)
	require.NoError(t, e.EncodeBatch(context.Background(), tail))
	tail.Release()

	chunks, err := e.Close()
	require.NoError(t, err)
	require.Len(t, chunks, numColumns)
	for i, chunk := range chunks {
		require.Equal(t, i, chunk.Column)
		require.EqualValues(t, 127, chunk.NumRows)
		require.EqualValues(t, 127, chunk.MetaData.NumValues)
		require.Equal(t, []string{rowSchema.ArrowSchema().Field(i).Name}, chunk.MetaData.PathInSchema)
		require.Equal(t, format.Zstd, chunk.MetaData.Codec)
		require.Positive(t, chunk.TotalByteSize)
		require.Equal(t, chunk.MetaData.TotalUncompressedSize, chunk.TotalByteSize)
		require.Equal(t, chunk.MetaData.TotalCompressedSize, chunk.CompressedSize())
		// Strings are dictionary encoded and the dictionary page comes first.
		require.Equal(t, chunk.Offset, chunk.MetaData.DictionaryPageOffset)
		require.Greater(t, chunk.MetaData.DataPageOffset, chunk.Offset)
		require.NotEmpty(t, chunk.OffsetIndex.PageLocations)
	}

	require.Equal(t, 4.0, testutil.ToFloat64(metrics.batches))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.rowGroups.WithLabelValues("ok")))
	require.Equal(t, float64(numColumns), testutil.ToFloat64(metrics.terminations.WithLabelValues("finished")))
}

func TestColumnWriterCloseIsIdempotent(t *testing.T) {
	rowSchema, err := schema.NewRowSchema(pqtest.Int64Schema(1, true))
	require.NoError(t, err)

	w := NewColumnWriters(rowSchema)[0]
	first, err := w.Close()
	require.NoError(t, err)
	second, err := w.Close()
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Zero(t, first.NumRows)
	require.Empty(t, first.Data)
	require.ErrorIs(t, w.Write(Leaf{}), ErrWriterClosed)
}

func TestColumnWriterEncodesPages(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	const numRows = 5000
	sc := pqtest.Int64Schema(3, true)
	rowSchema, err := schema.NewRowSchema(sc)
	require.NoError(t, err)
	e, err := NewRowGroupEncoder(sc, NewColumnWriters(rowSchema))
	require.NoError(t, err)
	encodeBatches(t, e, mem, sc, numRows/2, numRows/2)

	chunks, err := e.Close()
	require.NoError(t, err)
	for col, chunk := range chunks {
		require.EqualValues(t, numRows, chunk.NumRows)
		require.Zero(t, chunk.MetaData.DictionaryPageOffset)
		require.Equal(t, chunk.Offset, chunk.MetaData.DataPageOffset)
		require.Equal(t, int64(numRows), chunk.MetaData.NumValues)

		// Pages are cut well before the end of the column.
		locations := chunk.OffsetIndex.PageLocations
		require.Greater(t, len(locations), 1)
		require.Len(t, chunk.ColumnIndex.MinValues, len(locations))
		var size int64
		for i, loc := range locations {
			require.Equal(t, chunk.Offset+size, loc.Offset)
			if i > 0 {
				require.Greater(t, loc.FirstRowIndex, locations[i-1].FirstRowIndex)
			}
			size += int64(loc.CompressedPageSize)
		}
		require.Equal(t, chunk.CompressedSize(), size)

		// Page statistics cover the values of the column.
		require.Equal(t, pqtest.Int64Value(col, 0), int64(binary.LittleEndian.Uint64(chunk.ColumnIndex.MinValues[0])))
		last := len(locations) - 1
		require.Equal(t, pqtest.Int64Value(col, numRows-1), int64(binary.LittleEndian.Uint64(chunk.ColumnIndex.MaxValues[last])))
	}
}

func TestColumnWritersApplyOptions(t *testing.T) {
	rowSchema, err := schema.NewRowSchema(pqtest.Int64Schema(1, false))
	require.NoError(t, err)

	small := NewColumnWriters(rowSchema, parquet.PageBufferSize(256))[0]
	large := NewColumnWriters(rowSchema)[0]
	for _, w := range []ColumnWriter{small, large} {
		for row := int64(0); row < 1000; row += 100 {
			leaf := make(Leaf, 100)
			for i := range leaf {
				leaf[i] = parquet.Int64Value(row + int64(i)).Level(0, 0, 0)
			}
			require.NoError(t, w.Write(leaf))
		}
	}

	smallChunk, err := small.Close()
	require.NoError(t, err)
	largeChunk, err := large.Close()
	require.NoError(t, err)
	require.Greater(t, len(smallChunk.OffsetIndex.PageLocations), len(largeChunk.OffsetIndex.PageLocations))
	require.Equal(t, largeChunk.NumRows, smallChunk.NumRows)
}
