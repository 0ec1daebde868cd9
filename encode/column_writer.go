package encode

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/thrift"
	"github.com/segmentio/parquet-go"
	"github.com/segmentio/parquet-go/format"

	"Shopify/parquet-rowgroup-bench/schema"
)

// DefaultPageSize is the size at which a page is cut, encoded and
// compressed. Small pages produce large page indexes.
const DefaultPageSize = 8 * 1024

var (
	ErrWriterClosed = errors.New("column writer is closed")
	ErrChunkLayout  = errors.New("unexpected encoded column layout")
)

// ColumnWriter encodes the leaves of a single column for one row group.
// A writer is owned by exactly one worker and is never shared.
type ColumnWriter interface {
	// Write appends a leaf to the column.
	Write(leaf Leaf) error
	// Close finalizes the column. Calling Close more than once returns the
	// same chunk.
	Close() (ColumnChunk, error)
}

// ColumnChunk is the closed output of one column for one row group.
type ColumnChunk struct {
	// Column is the index of the column in the schema.
	Column int
	// NumRows is the number of rows written to the column, nulls included.
	NumRows int64
	// TotalByteSize is the uncompressed size of the encoded pages, page
	// headers included.
	TotalByteSize int64

	// Data holds the encoded and compressed pages, the dictionary page first.
	Data []byte
	// Offset is the position Data was encoded at. The page offsets of
	// MetaData and OffsetIndex are relative to the same origin.
	Offset      int64
	MetaData    format.ColumnMetaData
	ColumnIndex format.ColumnIndex
	OffsetIndex format.OffsetIndex
}

// CompressedSize is the number of bytes the chunk takes in a file.
func (c ColumnChunk) CompressedSize() int64 {
	return int64(len(c.Data))
}

// NewColumnWriters returns one writer per column of rowSchema. Each writer
// encodes its column into pages on its own, so the writers may be used from
// different goroutines. Options are applied to every writer.
func NewColumnWriters(rowSchema *schema.RowSchema, options ...parquet.WriterOption) []ColumnWriter {
	writers := make([]ColumnWriter, rowSchema.NumColumns())
	for i := range writers {
		writers[i] = newChunkWriter(i, rowSchema.ColumnSchema(i), options...)
	}
	return writers
}

// chunkWriter encodes one column as a single column parquet file held in
// memory. Closing the file flushes the last page, and the column chunk is cut
// out of it together with its metadata and page index.
type chunkWriter struct {
	column int
	buffer bytes.Buffer
	writer *parquet.Writer
	rows   []parquet.Row

	chunk *ColumnChunk
	err   error
}

func newChunkWriter(column int, columnSchema *parquet.Schema, options ...parquet.WriterOption) *chunkWriter {
	w := &chunkWriter{column: column}
	writerOptions := []parquet.WriterOption{
		columnSchema,
		parquet.WriteBufferSize(0),
		parquet.PageBufferSize(DefaultPageSize),
		parquet.DataPageStatistics(true),
	}
	w.writer = parquet.NewWriter(&w.buffer, append(writerOptions, options...)...)
	return w
}

func (w *chunkWriter) Write(leaf Leaf) error {
	if w.chunk != nil || w.err != nil {
		return ErrWriterClosed
	}

	// Each value is a row of the single column file.
	rows := w.rows[:0]
	for i, v := range leaf {
		leaf[i] = v.Level(v.RepetitionLevel(), v.DefinitionLevel(), 0)
		rows = append(rows, parquet.Row(leaf[i:i+1:i+1]))
	}
	w.rows = rows

	n, err := w.writer.WriteRows(rows)
	if err != nil {
		return errors.Wrapf(err, "writing values to column %d", w.column)
	}
	if n != len(rows) {
		return errors.Errorf("short write to column %d: wrote %d out of %d values", w.column, n, len(rows))
	}
	return nil
}

func (w *chunkWriter) Close() (ColumnChunk, error) {
	if w.chunk != nil {
		return *w.chunk, nil
	}
	if w.err != nil {
		return ColumnChunk{}, w.err
	}

	if err := w.writer.Close(); err != nil {
		w.err = errors.Wrapf(err, "encoding column %d", w.column)
		return ColumnChunk{}, w.err
	}
	chunk, err := cutColumnChunk(w.column, w.buffer.Bytes())
	if err != nil {
		w.err = err
		return ColumnChunk{}, err
	}
	w.chunk = &chunk
	w.rows = nil
	return chunk, nil
}

// cutColumnChunk extracts the only column chunk of the single column file
// data. A file without row groups yields an empty chunk.
func cutColumnChunk(column int, data []byte) (ColumnChunk, error) {
	const footerSize = 8
	if len(data) < 4+footerSize {
		return ColumnChunk{}, errors.Wrapf(ErrChunkLayout, "column %d file has %d bytes", column, len(data))
	}
	metadataLen := int64(binary.LittleEndian.Uint32(data[len(data)-footerSize:]))
	metadataStart := int64(len(data)) - footerSize - metadataLen
	if metadataStart < 4 {
		return ColumnChunk{}, errors.Wrapf(ErrChunkLayout, "column %d metadata has %d bytes", column, metadataLen)
	}

	protocol := new(thrift.CompactProtocol)
	var md format.FileMetaData
	if err := thrift.Unmarshal(protocol, data[metadataStart:int64(len(data))-footerSize], &md); err != nil {
		return ColumnChunk{}, errors.Wrapf(err, "decoding column %d metadata", column)
	}

	chunk := ColumnChunk{Column: column}
	if len(md.RowGroups) == 0 {
		return chunk, nil
	}
	if len(md.RowGroups) != 1 || len(md.RowGroups[0].Columns) != 1 {
		return ColumnChunk{}, errors.Wrapf(ErrChunkLayout, "column %d has %d row groups", column, len(md.RowGroups))
	}

	rowGroup := md.RowGroups[0]
	columnChunk := rowGroup.Columns[0]
	meta := columnChunk.MetaData
	start := meta.DataPageOffset
	if meta.DictionaryPageOffset != 0 && meta.DictionaryPageOffset < start {
		start = meta.DictionaryPageOffset
	}
	end := start + meta.TotalCompressedSize
	if start < 4 || end > metadataStart || end < start {
		return ColumnChunk{}, errors.Wrapf(ErrChunkLayout, "column %d pages at [%d, %d)", column, start, end)
	}

	section := func(offset int64, length int32) ([]byte, error) {
		if offset < end || length < 0 || offset+int64(length) > metadataStart {
			return nil, errors.Wrapf(ErrChunkLayout, "column %d page index at offset %d with length %d", column, offset, length)
		}
		return data[offset : offset+int64(length)], nil
	}
	b, err := section(columnChunk.ColumnIndexOffset, columnChunk.ColumnIndexLength)
	if err != nil {
		return ColumnChunk{}, err
	}
	if err := thrift.Unmarshal(protocol, b, &chunk.ColumnIndex); err != nil {
		return ColumnChunk{}, errors.Wrapf(err, "decoding column %d column index", column)
	}
	if b, err = section(columnChunk.OffsetIndexOffset, columnChunk.OffsetIndexLength); err != nil {
		return ColumnChunk{}, err
	}
	if err := thrift.Unmarshal(protocol, b, &chunk.OffsetIndex); err != nil {
		return ColumnChunk{}, errors.Wrapf(err, "decoding column %d offset index", column)
	}

	chunk.NumRows = rowGroup.NumRows
	chunk.TotalByteSize = meta.TotalUncompressedSize
	chunk.Data = data[start:end]
	chunk.Offset = start
	chunk.MetaData = meta
	return chunk, nil
}
