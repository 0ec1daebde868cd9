package encode

import (
	"context"
	"time"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// DefaultQueueSize is the number of slices buffered per column. It bounds
// memory while letting the producer run slightly ahead of the workers.
const DefaultQueueSize = 2

type Option func(*RowGroupEncoder)

func WithQueueSize(size int) Option {
	return func(e *RowGroupEncoder) {
		e.queueSize = size
	}
}

func WithLogger(logger log.Logger) Option {
	return func(e *RowGroupEncoder) {
		e.logger = logger
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(e *RowGroupEncoder) {
		e.metrics = metrics
	}
}

// RowGroupEncoder encodes the columns of one row group in parallel, one
// worker per column. It is not safe for use by multiple producers, and it
// cannot be reused once Close or Abort returns.
type RowGroupEncoder struct {
	schema  *arrow.Schema
	workers []*columnWorker
	results chan workerResult
	abort   chan struct{}

	queueSize int
	logger    log.Logger
	metrics   *Metrics

	// err is the first submission failure. Once set, the row group is failed.
	err    error
	closed bool
}

// NewRowGroupEncoder starts one worker per schema column. Worker i writes to
// writers[i].
func NewRowGroupEncoder(schema *arrow.Schema, writers []ColumnWriter, opts ...Option) (*RowGroupEncoder, error) {
	if len(writers) != len(schema.Fields()) {
		return nil, errors.Wrapf(ErrColumnCountMismatch, "got %d writers for %d columns", len(writers), len(schema.Fields()))
	}

	e := &RowGroupEncoder{
		schema:    schema,
		queueSize: DefaultQueueSize,
		logger:    log.NewNopLogger(),
		metrics:   noopMetrics,
		abort:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.queueSize < 1 {
		e.queueSize = 1
	}

	e.results = make(chan workerResult, len(writers))
	e.workers = make([]*columnWorker, len(writers))
	for i, writer := range writers {
		e.workers[i] = newColumnWorker(i, schema.Field(i), writer, e.queueSize, e.abort)
	}
	for _, w := range e.workers {
		go w.run(e.results)
	}
	return e, nil
}

// EncodeBatch submits every column of batch to its worker. It blocks while a
// column queue is full. If a worker has already stopped, a *ColumnError is
// returned and no further columns of the batch are submitted.
func (e *RowGroupEncoder) EncodeBatch(ctx context.Context, batch arrow.Record) error {
	if e.closed {
		return ErrEncoderClosed
	}
	if e.err != nil {
		return e.err
	}
	if err := e.validate(batch); err != nil {
		return err
	}

	for i, w := range e.workers {
		if err := e.submit(ctx, w, batch.Column(i)); err != nil {
			e.err = err
			return err
		}
	}
	e.metrics.batches.Inc()
	return nil
}

func (e *RowGroupEncoder) validate(batch arrow.Record) error {
	if int(batch.NumCols()) != len(e.workers) {
		return errors.Wrapf(ErrBatchShape, "got %d columns, expected %d", batch.NumCols(), len(e.workers))
	}
	for i, col := range batch.Columns() {
		if int64(col.Len()) != batch.NumRows() {
			return errors.Wrapf(ErrBatchShape, "column %d has %d rows, batch has %d", i, col.Len(), batch.NumRows())
		}
		if !arrow.TypeEqual(e.schema.Field(i).Type, col.DataType()) {
			return errors.Wrapf(ErrBatchShape, "column %d has type %s, expected %s", i, col.DataType(), e.schema.Field(i).Type)
		}
	}
	return nil
}

func (e *RowGroupEncoder) submit(ctx context.Context, w *columnWorker, arr arrow.Array) error {
	select {
	case <-w.done:
		return w.terminated()
	default:
	}

	arr.Retain()
	select {
	case w.queue <- arr:
		return nil
	default:
	}

	start := time.Now()
	defer func() { e.metrics.submitWait.Observe(time.Since(start).Seconds()) }()
	select {
	case w.queue <- arr:
		return nil
	case <-w.done:
		arr.Release()
		return w.terminated()
	case <-ctx.Done():
		arr.Release()
		return errors.Wrapf(ctx.Err(), "submitting column %d", w.column)
	}
}

// Close signals every worker that no more slices will arrive, waits for all
// of them and returns their chunks ordered by column index. If any column
// failed, the error of the lowest failing column is returned.
func (e *RowGroupEncoder) Close() ([]ColumnChunk, error) {
	if e.closed {
		return nil, ErrEncoderClosed
	}
	results := e.shutdown()

	chunks := make([]ColumnChunk, 0, len(results))
	var failed *ColumnError
	for _, w := range e.workers {
		e.metrics.terminations.WithLabelValues(w.reason.String()).Inc()
		if w.reason == TerminationFinished {
			continue
		}
		colErr := w.terminated()
		level.Warn(e.logger).Log("msg", "column worker failed", "column", w.column, "reason", w.reason, "err", colErr.Err)
		if failed == nil {
			failed = colErr
		}
	}
	if failed != nil {
		e.metrics.rowGroups.WithLabelValues("failed").Inc()
		return nil, failed
	}
	if e.err != nil {
		e.metrics.rowGroups.WithLabelValues("failed").Inc()
		return nil, e.err
	}

	for _, result := range results {
		chunks = append(chunks, result.chunk)
	}
	// Results arrive in completion order.
	slices.SortFunc(chunks, func(a, b ColumnChunk) bool {
		return a.Column < b.Column
	})
	e.metrics.rowGroups.WithLabelValues("ok").Inc()
	return chunks, nil
}

// Abort stops all workers and discards their output. It returns
// ErrEncoderClosed, and does nothing else, if the encoder was already closed
// or aborted.
func (e *RowGroupEncoder) Abort() error {
	if e.closed {
		return ErrEncoderClosed
	}
	close(e.abort)
	e.shutdown()
	for _, w := range e.workers {
		e.metrics.terminations.WithLabelValues(w.reason.String()).Inc()
	}
	e.metrics.rowGroups.WithLabelValues("aborted").Inc()
	return nil
}

// shutdown closes all queues and waits for every worker to report. Slices
// left behind by failed workers are released.
func (e *RowGroupEncoder) shutdown() []workerResult {
	e.closed = true
	for _, w := range e.workers {
		close(w.queue)
	}

	results := make([]workerResult, 0, len(e.workers))
	for range e.workers {
		results = append(results, <-e.results)
	}
	for _, w := range e.workers {
		for arr := range w.queue {
			arr.Release()
		}
	}
	return results
}
