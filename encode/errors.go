package encode

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrColumnCountMismatch = errors.New("number of column writers does not match schema")
	ErrBatchShape          = errors.New("batch does not match schema")
	ErrEncoderClosed       = errors.New("row group encoder is closed")
	ErrColumnTerminated    = errors.New("column worker terminated")
	ErrChunkIndex          = errors.New("column writer returned chunk for another column")
	ErrAborted             = errors.New("row group aborted")
)

// TerminationReason describes why a column worker stopped.
type TerminationReason int

const (
	// TerminationRunning is the reason of a worker that has not stopped.
	TerminationRunning TerminationReason = iota
	// TerminationFinished means the queue was closed and the column chunk
	// was produced.
	TerminationFinished
	// TerminationFailed means converting or writing a slice failed.
	TerminationFailed
	// TerminationAborted means the row group was abandoned.
	TerminationAborted
)

func (r TerminationReason) String() string {
	switch r {
	case TerminationRunning:
		return "running"
	case TerminationFinished:
		return "finished"
	case TerminationFailed:
		return "failed"
	case TerminationAborted:
		return "aborted"
	}
	return fmt.Sprintf("TerminationReason(%d)", int(r))
}

// ColumnError attributes a row group failure to a single column.
type ColumnError struct {
	Column int
	Reason TerminationReason
	Err    error
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("column %d %s: %v", e.Column, e.Reason, e.Err)
}

func (e *ColumnError) Unwrap() error { return e.Err }
