// Package footer decodes parquet file metadata and page indexes without doing
// any I/O itself. A PushDecoder reports the byte ranges it needs and the
// caller supplies them.
package footer

import (
	"fmt"

	"github.com/apache/arrow/go/v10/parquet/metadata"
	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go/format"
)

var (
	ErrFileTooSmall    = errors.New("file is too small to be a parquet file")
	ErrInvalidMagic    = errors.New("invalid parquet magic")
	ErrEncryptedFooter = errors.New("encrypted footers are not supported")
	ErrRangeNotPushed  = errors.New("range could not be pushed")
	ErrMetadataLength  = errors.New("metadata length exceeds file size")
	ErrPageIndexRange  = errors.New("page index is outside of the data section")
	ErrNoMetadata      = errors.New("decoder finished without producing metadata")
	ErrInvalidRange    = errors.New("invalid byte range")
)

// Range is the half-open byte range [Start, End) of a file.
type Range struct {
	Start int64
	End   int64
}

func (r Range) Len() int64 {
	return r.End - r.Start
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

func (r Range) contains(other Range) bool {
	return r.Start <= other.Start && other.End <= r.End
}

type ResultKind int

const (
	// NeedsData means the decoder cannot progress until Ranges are pushed.
	NeedsData ResultKind = iota
	// Data means decoding completed. It is reported exactly once.
	Data
	// Finished is reported by every call after Data.
	Finished
)

func (k ResultKind) String() string {
	switch k {
	case NeedsData:
		return "NeedsData"
	case Data:
		return "Data"
	case Finished:
		return "Finished"
	}
	return fmt.Sprintf("ResultKind(%d)", int(k))
}

type Result struct {
	Kind     ResultKind
	Ranges   []Range
	Metadata *FileMetadata
}

// PushDecoder is a decoder driven through a range request protocol. Callers
// loop on TryDecode and push the requested ranges until Data or Finished is
// returned.
type PushDecoder interface {
	TryDecode() (Result, error)
	PushRanges(ranges []Range, buffers [][]byte) error
}

// FileMetadata is a decoded footer. ColumnIndexes and OffsetIndexes are
// indexed by row group and then by column. They are nil when page indexes
// were not decoded, and individual entries are zero for column chunks
// without an index.
type FileMetadata struct {
	*metadata.FileMetaData
	// Lean is set instead of FileMetaData when statistics were skipped.
	Lean *LeanFileMetaData

	ColumnIndexes [][]format.ColumnIndex
	OffsetIndexes [][]format.OffsetIndex
}

// HasPageIndex reports whether page indexes were decoded.
func (m *FileMetadata) HasPageIndex() bool {
	return m.ColumnIndexes != nil
}
