package encode

import (
	"github.com/apache/arrow/go/v10/arrow"
	"github.com/pkg/errors"
)

type workerResult struct {
	column int
	chunk  ColumnChunk
}

// columnWorker encodes the slices of one column in the order they are
// received. It owns its writer exclusively.
type columnWorker struct {
	column int
	field  arrow.Field
	writer ColumnWriter

	queue chan arrow.Array
	abort <-chan struct{}
	done  chan struct{}

	// reason and err are written before done is closed and may only be read
	// after it is.
	reason TerminationReason
	err    error
}

func newColumnWorker(column int, field arrow.Field, writer ColumnWriter, queueSize int, abort <-chan struct{}) *columnWorker {
	return &columnWorker{
		column: column,
		field:  field,
		writer: writer,
		queue:  make(chan arrow.Array, queueSize),
		abort:  abort,
		done:   make(chan struct{}),
	}
}

func (w *columnWorker) run(results chan<- workerResult) {
	result := workerResult{column: w.column}
	defer func() {
		if r := recover(); r != nil {
			w.reason, w.err = TerminationFailed, errors.Errorf("panic encoding column %d: %v", w.column, r)
		}
		close(w.done)
		results <- result
	}()

	result.chunk, w.reason, w.err = w.encode()
}

func (w *columnWorker) encode() (ColumnChunk, TerminationReason, error) {
	for arr := range w.queue {
		if w.aborted() {
			arr.Release()
			return ColumnChunk{}, TerminationAborted, ErrAborted
		}
		if err := w.write(arr); err != nil {
			return ColumnChunk{}, TerminationFailed, err
		}
	}
	if w.aborted() {
		return ColumnChunk{}, TerminationAborted, ErrAborted
	}

	chunk, err := w.writer.Close()
	if err != nil {
		return ColumnChunk{}, TerminationFailed, errors.Wrap(err, "closing column writer")
	}
	if chunk.Column != w.column {
		return ColumnChunk{}, TerminationFailed, errors.Wrapf(ErrChunkIndex, "expected %d, got %d", w.column, chunk.Column)
	}
	return chunk, TerminationFinished, nil
}

func (w *columnWorker) write(arr arrow.Array) error {
	defer arr.Release()

	leaves, err := ComputeLeaves(w.field, w.column, arr)
	if err != nil {
		return err
	}
	for _, leaf := range leaves {
		if err := w.writer.Write(leaf); err != nil {
			return errors.Wrap(err, "writing leaf")
		}
	}
	return nil
}

func (w *columnWorker) aborted() bool {
	select {
	case <-w.abort:
		return true
	default:
		return false
	}
}

// terminated returns the error reported to producers once done is closed.
func (w *columnWorker) terminated() *ColumnError {
	err := w.err
	if err == nil {
		err = ErrColumnTerminated
	}
	return &ColumnError{Column: w.column, Reason: w.reason, Err: err}
}
