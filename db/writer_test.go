package db_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"Shopify/parquet-rowgroup-bench/db"
	"Shopify/parquet-rowgroup-bench/encode"
	"Shopify/parquet-rowgroup-bench/pqtest"
	"Shopify/parquet-rowgroup-bench/schema"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func encodeChunks(t testing.TB, rowSchema *schema.RowSchema, firstRow int64, rows int) []encode.ColumnChunk {
	enc, err := encode.NewRowGroupEncoder(rowSchema.ArrowSchema(), encode.NewColumnWriters(rowSchema))
	require.NoError(t, err)

	batch := pqtest.Int64Record(memory.DefaultAllocator, rowSchema.ArrowSchema(), firstRow, rows)
	defer batch.Release()

	chunks, err := db.EncodeRowGroup(context.Background(), enc, batch, int64(rows))
	require.NoError(t, err)
	return chunks
}

func readRows(t *testing.T, rowGroup parquet.RowGroup) []parquet.Row {
	reader := rowGroup.Rows()
	defer reader.Close()

	rows := make([]parquet.Row, rowGroup.NumRows())
	n, err := reader.ReadRows(rows)
	if err != io.EOF {
		require.NoError(t, err)
	}
	require.EqualValues(t, rowGroup.NumRows(), n)
	return rows
}

func TestFileWriter(t *testing.T) {
	const numColumns = 6
	rowSchema, err := schema.NewRowSchema(pqtest.Int64Schema(numColumns, false))
	require.NoError(t, err)

	var buffer bytes.Buffer
	writer := db.NewFileWriter(&buffer, rowSchema)

	rowGroupSizes := []int{10, 2500, 1}
	rowGroups := make([]db.RowGroupMetadata, 0, len(rowGroupSizes))
	var firstRow int64
	for i, size := range rowGroupSizes {
		rowGroup, err := writer.NextRowGroup()
		require.NoError(t, err)
		for _, chunk := range encodeChunks(t, rowSchema, firstRow, size) {
			require.NoError(t, rowGroup.Append(chunk))
		}
		md, err := rowGroup.Close()
		require.NoError(t, err)
		require.Equal(t, i, md.Index)
		require.Equal(t, numColumns, md.NumColumns)
		require.EqualValues(t, size, md.NumRows)
		require.Positive(t, md.TotalByteSize)
		require.Positive(t, md.TotalCompressedSize)
		rowGroups = append(rowGroups, md)
		firstRow += int64(size)
	}
	require.Equal(t, len(rowGroupSizes), writer.NumRowGroups())
	require.NoError(t, writer.Close())

	pqFile, err := pqtest.OpenBytes(buffer.Bytes())
	require.NoError(t, err)
	require.Equal(t, firstRow, pqFile.NumRows())
	require.Len(t, pqFile.RowGroups(), len(rowGroupSizes))

	// The sizes reported for each row group are the ones in the footer.
	for i, rowGroup := range pqFile.Metadata().RowGroups {
		require.Equal(t, rowGroups[i].TotalByteSize, rowGroup.TotalByteSize)
		require.Equal(t, rowGroups[i].TotalCompressedSize, rowGroup.TotalCompressedSize)
		require.EqualValues(t, i, rowGroup.Ordinal)
		var compressed int64
		for _, chunk := range rowGroup.Columns {
			compressed += chunk.MetaData.TotalCompressedSize
		}
		require.Equal(t, compressed, rowGroup.TotalCompressedSize)
	}

	// Page offsets point at the pages in the file.
	offsetIndexes := pqFile.OffsetIndexes()
	require.Len(t, offsetIndexes, len(rowGroupSizes)*numColumns)
	for i, rowGroup := range pqFile.Metadata().RowGroups {
		for j, chunk := range rowGroup.Columns {
			locations := offsetIndexes[i*numColumns+j].PageLocations
			require.NotEmpty(t, locations)
			require.Equal(t, chunk.MetaData.DataPageOffset, locations[0].Offset)
			last := locations[len(locations)-1]
			require.Equal(t, chunk.MetaData.DataPageOffset+chunk.MetaData.TotalCompressedSize, last.Offset+int64(last.CompressedPageSize))
		}
	}
	// The large row group is cut into several pages per column.
	require.Greater(t, len(offsetIndexes[numColumns].PageLocations), 1)

	columns := pqFile.Schema().Columns()
	require.Len(t, columns, numColumns)
	for i, field := range rowSchema.ArrowSchema().Fields() {
		require.Equal(t, []string{field.Name}, columns[i])
	}

	var row int64
	for _, rowGroup := range pqFile.RowGroups() {
		for _, values := range readRows(t, rowGroup) {
			require.Len(t, values, numColumns)
			for col, v := range values {
				require.Equal(t, col, v.Column())
				require.Equal(t, pqtest.Int64Value(col, row), v.Int64())
			}
			row++
		}
	}
	require.Equal(t, firstRow, row)
}

func TestRowGroupWriterSkipsEmptyRowGroups(t *testing.T) {
	rowSchema, err := schema.NewRowSchema(pqtest.Int64Schema(2, true))
	require.NoError(t, err)

	var buffer bytes.Buffer
	writer := db.NewFileWriter(&buffer, rowSchema)
	for _, size := range []int{0, 3, 0} {
		rowGroup, err := writer.NextRowGroup()
		require.NoError(t, err)
		for _, chunk := range encodeChunks(t, rowSchema, 0, size) {
			require.NoError(t, rowGroup.Append(chunk))
		}
		md, err := rowGroup.Close()
		require.NoError(t, err)
		require.EqualValues(t, size, md.NumRows)
		if size == 0 {
			require.Zero(t, md.TotalByteSize)
		}
	}
	require.Equal(t, 1, writer.NumRowGroups())
	require.NoError(t, writer.Close())

	pqFile, err := pqtest.OpenBytes(buffer.Bytes())
	require.NoError(t, err)
	require.EqualValues(t, 3, pqFile.NumRows())
	require.Len(t, pqFile.RowGroups(), 1)
}

func TestFileWriterWithoutRowGroups(t *testing.T) {
	rowSchema, err := schema.NewRowSchema(schema.String.Schema(3))
	require.NoError(t, err)

	var buffer bytes.Buffer
	writer := db.NewFileWriter(&buffer, rowSchema)
	require.NoError(t, writer.Close())
	require.ErrorIs(t, writer.Close(), db.ErrFileClosed)

	pqFile, err := pqtest.OpenBytes(buffer.Bytes())
	require.NoError(t, err)
	require.Zero(t, pqFile.NumRows())
	require.Len(t, pqFile.Schema().Columns(), 3)
}

func TestRowGroupWriterRejectsChunksOutOfOrder(t *testing.T) {
	rowSchema, err := schema.NewRowSchema(pqtest.Int64Schema(3, false))
	require.NoError(t, err)
	chunks := encodeChunks(t, rowSchema, 0, 5)

	writer := db.NewFileWriter(io.Discard, rowSchema)
	rowGroup, err := writer.NextRowGroup()
	require.NoError(t, err)

	require.ErrorIs(t, rowGroup.Append(chunks[1]), db.ErrChunkOrder)
	require.NoError(t, rowGroup.Append(chunks[0]))
	require.ErrorIs(t, rowGroup.Append(chunks[0]), db.ErrChunkOrder)
	require.ErrorIs(t, rowGroup.Append(chunks[2]), db.ErrChunkOrder)
	require.NoError(t, rowGroup.Append(chunks[1]))

	_, err = writer.NextRowGroup()
	require.ErrorIs(t, err, db.ErrRowGroupOpen)
	require.ErrorIs(t, writer.Close(), db.ErrRowGroupOpen)

	_, err = rowGroup.Close()
	require.ErrorIs(t, err, db.ErrMissingColumns)
	require.ErrorIs(t, rowGroup.Append(chunks[2]), db.ErrRowGroupClosed)
	require.Zero(t, writer.NumRowGroups())

	require.NoError(t, writer.Close())
	_, err = writer.NextRowGroup()
	require.ErrorIs(t, err, db.ErrFileClosed)
}

func TestRowGroupWriterRejectsRowCountMismatch(t *testing.T) {
	rowSchema, err := schema.NewRowSchema(pqtest.Int64Schema(2, false))
	require.NoError(t, err)
	short := encodeChunks(t, rowSchema, 0, 5)
	long := encodeChunks(t, rowSchema, 0, 6)

	writer := db.NewFileWriter(io.Discard, rowSchema)
	rowGroup, err := writer.NextRowGroup()
	require.NoError(t, err)
	require.NoError(t, rowGroup.Append(short[0]))
	require.ErrorIs(t, rowGroup.Append(long[1]), db.ErrRowCountMismatch)
}
