package schema

import (
	"fmt"
	"strings"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/pkg/errors"

	"Shopify/parquet-rowgroup-bench/datagen"
)

const (
	nullDensity  = 0.0001
	maxStringLen = 20
)

// FileType is the type shared by every column of a generated file.
type FileType int

const (
	Float FileType = iota
	String
)

func ParseFileType(s string) (FileType, error) {
	switch strings.ToLower(s) {
	case "float", "float32":
		return Float, nil
	case "string", "utf8":
		return String, nil
	}
	return 0, errors.Errorf("unknown file type %q", s)
}

func (t FileType) String() string {
	switch t {
	case Float:
		return "Float32"
	case String:
		return "String"
	}
	return fmt.Sprintf("FileType(%d)", int(t))
}

func (t FileType) dataType() arrow.DataType {
	if t == String {
		return arrow.BinaryTypes.String
	}
	return arrow.PrimitiveTypes.Float32
}

// Schema returns a schema of nullable columns named col_0 to col_{n-1}.
func (t FileType) Schema(columns int) *arrow.Schema {
	fields := make([]arrow.Field, columns)
	for i := range fields {
		fields[i] = arrow.Field{
			Name:     fmt.Sprintf("col_%d", i),
			Type:     t.dataType(),
			Nullable: true,
		}
	}
	return arrow.NewSchema(fields, nil)
}

// CreateBatch generates a record of numRows rows. Column i is seeded with
// seed*columns+i so that batches with different seeds differ.
func (t FileType) CreateBatch(mem memory.Allocator, seed int64, numRows, columns int) arrow.Record {
	arrays := make([]arrow.Array, 0, columns)
	for i := 0; i < columns; i++ {
		arraySeed := seed*int64(columns) + int64(i)
		switch t {
		case String:
			arrays = append(arrays, datagen.StringArray(mem, numRows, nullDensity, maxStringLen, arraySeed))
		default:
			arrays = append(arrays, datagen.Float32Array(mem, numRows, nullDensity, arraySeed))
		}
	}

	record := array.NewRecord(t.Schema(columns), arrays, int64(numRows))
	for _, arr := range arrays {
		arr.Release()
	}
	return record
}
