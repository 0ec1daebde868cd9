package footer

import (
	"github.com/pkg/errors"
	"github.com/segmentio/encoding/thrift"
	"github.com/segmentio/parquet-go/format"
)

// LeanFileMetaData is the footer metadata without column chunk statistics.
// The thrift decoder skips fields which have no struct field, so statistics
// and page encoding stats are never materialized.
type LeanFileMetaData struct {
	Version          int32                  `thrift:"1,required"`
	Schema           []format.SchemaElement `thrift:"2,required"`
	NumRows          int64                  `thrift:"3,required"`
	RowGroups        []LeanRowGroup         `thrift:"4,required"`
	KeyValueMetadata []format.KeyValue      `thrift:"5,optional"`
	CreatedBy        string                 `thrift:"6,optional"`
	ColumnOrders     []format.ColumnOrder   `thrift:"7,optional"`
}

type LeanRowGroup struct {
	Columns             []LeanColumnChunk `thrift:"1,required"`
	TotalByteSize       int64             `thrift:"2,required"`
	NumRows             int64             `thrift:"3,required"`
	FileOffset          int64             `thrift:"5,optional"`
	TotalCompressedSize int64             `thrift:"6,optional"`
	Ordinal             int16             `thrift:"7,optional"`
}

type LeanColumnChunk struct {
	FilePath          string             `thrift:"1,optional"`
	FileOffset        int64              `thrift:"2,required"`
	MetaData          LeanColumnMetaData `thrift:"3,optional"`
	OffsetIndexOffset *int64             `thrift:"4,optional"`
	OffsetIndexLength *int32             `thrift:"5,optional"`
	ColumnIndexOffset *int64             `thrift:"6,optional"`
	ColumnIndexLength *int32             `thrift:"7,optional"`
}

type LeanColumnMetaData struct {
	Type                  format.Type             `thrift:"1,required"`
	Encoding              []format.Encoding       `thrift:"2,required"`
	PathInSchema          []string                `thrift:"3,required"`
	Codec                 format.CompressionCodec `thrift:"4,required"`
	NumValues             int64                   `thrift:"5,required"`
	TotalUncompressedSize int64                   `thrift:"6,required"`
	TotalCompressedSize   int64                   `thrift:"7,required"`
	KeyValueMetadata      []format.KeyValue       `thrift:"8,optional"`
	DataPageOffset        int64                   `thrift:"9,required"`
	IndexPageOffset       int64                   `thrift:"10,optional"`
	DictionaryPageOffset  int64                   `thrift:"11,optional"`
	BloomFilterOffset     int64                   `thrift:"14,optional"`
}

// NumColumns returns the number of leaf columns of the schema.
func (m *LeanFileMetaData) NumColumns() int {
	var n int
	for _, element := range m.Schema {
		if element.NumChildren == 0 {
			n++
		}
	}
	return n
}

func (m *LeanFileMetaData) indexLocations() [][]indexLocation {
	locations := make([][]indexLocation, len(m.RowGroups))
	for i, rowGroup := range m.RowGroups {
		chunks := make([]indexLocation, len(rowGroup.Columns))
		for j, chunk := range rowGroup.Columns {
			chunks[j] = indexLocation{
				columnIndexOffset: chunk.ColumnIndexOffset,
				columnIndexLength: chunk.ColumnIndexLength,
				offsetIndexOffset: chunk.OffsetIndexOffset,
				offsetIndexLength: chunk.OffsetIndexLength,
			}
		}
		locations[i] = chunks
	}
	return locations
}

func decodeLeanMetadata(data []byte) (*LeanFileMetaData, error) {
	md := new(LeanFileMetaData)
	if err := thrift.Unmarshal(new(thrift.CompactProtocol), data, md); err != nil {
		return nil, errors.Wrap(err, "decoding file metadata")
	}
	return md, nil
}
