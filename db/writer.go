package db

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/thrift"
	"github.com/segmentio/parquet-go/format"

	"Shopify/parquet-rowgroup-bench/encode"
	"Shopify/parquet-rowgroup-bench/schema"
)

const (
	CreatedBy = "parquet-rowgroup-bench version 0.1.0"

	writeBufferSize    = 256 * 1024
	metadataFileSuffix = ".metadata"
)

var magic = []byte("PAR1")

var (
	ErrRowGroupOpen     = errors.New("previous row group is still open")
	ErrRowGroupClosed   = errors.New("row group is closed")
	ErrFileClosed       = errors.New("file writer is closed")
	ErrChunkOrder       = errors.New("column chunks must be appended in column order")
	ErrMissingColumns   = errors.New("row group is missing columns")
	ErrRowCountMismatch = errors.New("column chunks have different row counts")
)

// RowGroupMetadata describes a row group once it has been written.
type RowGroupMetadata struct {
	Index      int
	NumColumns int
	NumRows    int64
	// TotalByteSize is the uncompressed size of the row group as recorded in
	// the file footer.
	TotalByteSize int64
	// TotalCompressedSize is the number of bytes the row group takes in the
	// file.
	TotalCompressedSize int64
}

// offsetWriter tracks the position in the file.
type offsetWriter struct {
	writer *bufio.Writer
	offset int64
}

func (w *offsetWriter) Write(b []byte) (int, error) {
	n, err := w.writer.Write(b)
	w.offset += int64(n)
	return n, err
}

// FileWriter writes row groups assembled from independently encoded column
// chunks. Only one row group can be open at a time. Chunk bytes are copied
// as they are; only their offsets are moved to where they land in the file.
type FileWriter struct {
	schema *schema.RowSchema
	output offsetWriter

	rowGroups     []format.RowGroup
	columnIndexes [][]format.ColumnIndex
	offsetIndexes [][]format.OffsetIndex

	current *RowGroupWriter
	closed  bool
	// err is the first write failure. The file is unusable once it is set.
	err error
}

func NewFileWriter(w io.Writer, rowSchema *schema.RowSchema) *FileWriter {
	return &FileWriter{
		schema: rowSchema,
		output: offsetWriter{writer: bufio.NewWriterSize(w, writeBufferSize)},
	}
}

// NextRowGroup opens the next row group. The previous one must be closed.
func (w *FileWriter) NextRowGroup() (*RowGroupWriter, error) {
	if w.closed {
		return nil, ErrFileClosed
	}
	if w.err != nil {
		return nil, w.err
	}
	if w.current != nil {
		return nil, ErrRowGroupOpen
	}
	w.current = &RowGroupWriter{
		file:   w,
		index:  len(w.rowGroups),
		chunks: make([]encode.ColumnChunk, 0, w.schema.NumColumns()),
	}
	return w.current, nil
}

// NumRowGroups returns the number of row groups written so far.
func (w *FileWriter) NumRowGroups() int {
	return len(w.rowGroups)
}

// Close writes the page indexes and the footer and flushes buffered data. It
// does not close the underlying writer.
func (w *FileWriter) Close() error {
	if w.closed {
		return ErrFileClosed
	}
	if w.current != nil {
		return ErrRowGroupOpen
	}
	w.closed = true
	if w.err != nil {
		return w.err
	}
	if err := w.writeHeader(); err != nil {
		return err
	}
	if err := w.writePageIndex(); err != nil {
		return errors.Wrap(err, "writing page index")
	}
	if err := w.writeFooter(); err != nil {
		return errors.Wrap(err, "writing footer")
	}
	return errors.Wrap(w.output.writer.Flush(), "flushing parquet file")
}

func (w *FileWriter) writeHeader() error {
	if w.output.offset > 0 {
		return nil
	}
	_, err := w.output.Write(magic)
	return errors.Wrap(err, "writing file header")
}

// writePageIndex writes every column index followed by every offset index,
// and records their location in the column chunks.
func (w *FileWriter) writePageIndex() error {
	encoder := thrift.NewEncoder(new(thrift.CompactProtocol).NewWriter(&w.output))
	for i, columnIndexes := range w.columnIndexes {
		columns := w.rowGroups[i].Columns
		for j := range columnIndexes {
			offset := w.output.offset
			if err := encoder.Encode(&columnIndexes[j]); err != nil {
				return err
			}
			columns[j].ColumnIndexOffset = offset
			columns[j].ColumnIndexLength = int32(w.output.offset - offset)
		}
	}
	for i, offsetIndexes := range w.offsetIndexes {
		columns := w.rowGroups[i].Columns
		for j := range offsetIndexes {
			offset := w.output.offset
			if err := encoder.Encode(&offsetIndexes[j]); err != nil {
				return err
			}
			columns[j].OffsetIndexOffset = offset
			columns[j].OffsetIndexLength = int32(w.output.offset - offset)
		}
	}
	return nil
}

func (w *FileWriter) writeFooter() error {
	var numRows int64
	for _, rowGroup := range w.rowGroups {
		numRows += rowGroup.NumRows
	}
	md := format.FileMetaData{
		Version:      1,
		Schema:       w.schema.SchemaElements(),
		NumRows:      numRows,
		RowGroups:    w.rowGroups,
		CreatedBy:    CreatedBy,
		ColumnOrders: w.schema.ColumnOrders(),
	}
	footer, err := thrift.Marshal(new(thrift.CompactProtocol), &md)
	if err != nil {
		return err
	}
	footer = binary.LittleEndian.AppendUint32(footer, uint32(len(footer)))
	footer = append(footer, magic...)
	_, err = w.output.Write(footer)
	return err
}

// RowGroupWriter collects the column chunks of one row group.
type RowGroupWriter struct {
	file   *FileWriter
	index  int
	chunks []encode.ColumnChunk
	closed bool
}

// Append adds the next column chunk. Chunks must arrive in ascending column
// order with no gaps and all must have the same number of rows.
func (w *RowGroupWriter) Append(chunk encode.ColumnChunk) error {
	if w.closed {
		return ErrRowGroupClosed
	}
	next := len(w.chunks)
	if chunk.Column != next || next >= w.file.schema.NumColumns() {
		return errors.Wrapf(ErrChunkOrder, "expected column %d, got %d", next, chunk.Column)
	}
	if next > 0 && chunk.NumRows != w.chunks[0].NumRows {
		return errors.Wrapf(ErrRowCountMismatch, "column %d has %d rows, column 0 has %d", chunk.Column, chunk.NumRows, w.chunks[0].NumRows)
	}
	w.chunks = append(w.chunks, chunk)
	return nil
}

// Close copies the chunks into the file. The row group is closed even when
// writing fails. A row group without rows is not written.
func (w *RowGroupWriter) Close() (RowGroupMetadata, error) {
	if w.closed {
		return RowGroupMetadata{}, ErrRowGroupClosed
	}
	w.closed = true
	file := w.file
	file.current = nil

	numColumns := file.schema.NumColumns()
	if len(w.chunks) != numColumns {
		return RowGroupMetadata{}, errors.Wrapf(ErrMissingColumns, "got %d out of %d columns", len(w.chunks), numColumns)
	}
	md := RowGroupMetadata{
		Index:      w.index,
		NumColumns: numColumns,
	}
	if numColumns == 0 || w.chunks[0].NumRows == 0 {
		return md, nil
	}
	md.NumRows = w.chunks[0].NumRows

	if err := file.writeHeader(); err != nil {
		file.err = err
		return RowGroupMetadata{}, err
	}
	rowGroup := format.RowGroup{
		Columns:    make([]format.ColumnChunk, numColumns),
		NumRows:    md.NumRows,
		FileOffset: file.output.offset,
		Ordinal:    int16(w.index),
	}
	columnIndexes := make([]format.ColumnIndex, numColumns)
	offsetIndexes := make([]format.OffsetIndex, numColumns)
	for i, chunk := range w.chunks {
		rowGroup.Columns[i], offsetIndexes[i] = placeChunk(chunk, file.output.offset)
		columnIndexes[i] = chunk.ColumnIndex
		if _, err := file.output.Write(chunk.Data); err != nil {
			file.err = errors.Wrapf(err, "writing row group %d column %d", w.index, i)
			return RowGroupMetadata{}, file.err
		}
		rowGroup.TotalByteSize += chunk.MetaData.TotalUncompressedSize
		rowGroup.TotalCompressedSize += chunk.MetaData.TotalCompressedSize
	}

	file.rowGroups = append(file.rowGroups, rowGroup)
	file.columnIndexes = append(file.columnIndexes, columnIndexes)
	file.offsetIndexes = append(file.offsetIndexes, offsetIndexes)

	md.TotalByteSize = rowGroup.TotalByteSize
	md.TotalCompressedSize = rowGroup.TotalCompressedSize
	return md, nil
}
