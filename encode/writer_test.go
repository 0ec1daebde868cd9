package encode

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

var errBoom = errors.New("boom")

// recordingWriter is a ColumnWriter which keeps the int64 values it receives.
type recordingWriter struct {
	column int

	// failOn makes the n-th write (1-based) fail.
	failOn int
	// panicOn makes the n-th write (1-based) panic.
	panicOn int
	// stall blocks every write until it is closed.
	stall chan struct{}
	// delay is added to every write.
	delay time.Duration

	mu     sync.Mutex
	writes int
	values []int64
	closed int
}

func newRecordingWriters(n int) []*recordingWriter {
	writers := make([]*recordingWriter, n)
	for i := range writers {
		writers[i] = &recordingWriter{column: i}
	}
	return writers
}

func asColumnWriters(writers []*recordingWriter) []ColumnWriter {
	columnWriters := make([]ColumnWriter, len(writers))
	for i, w := range writers {
		columnWriters[i] = w
	}
	return columnWriters
}

func (w *recordingWriter) Write(leaf Leaf) error {
	if w.stall != nil {
		<-w.stall
	}
	if w.delay > 0 {
		time.Sleep(w.delay)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	if w.writes == w.failOn {
		return errBoom
	}
	if w.writes == w.panicOn {
		panic("corrupted leaf")
	}
	for _, v := range leaf {
		w.values = append(w.values, v.Int64())
	}
	return nil
}

func (w *recordingWriter) Close() (ColumnChunk, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed++
	return ColumnChunk{Column: w.column, NumRows: int64(len(w.values))}, nil
}

func (w *recordingWriter) snapshot() (writes int, values []int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes, append([]int64(nil), w.values...)
}
