package pqtest

import (
	"fmt"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
)

// Int64Schema returns a schema of int64 columns named c0 to c{n-1}.
func Int64Schema(columns int, nullable bool) *arrow.Schema {
	fields := make([]arrow.Field, columns)
	for i := range fields {
		fields[i] = arrow.Field{
			Name:     fmt.Sprintf("c%d", i),
			Type:     arrow.PrimitiveTypes.Int64,
			Nullable: nullable,
		}
	}
	return arrow.NewSchema(fields, nil)
}

// Int64Value is the value Int64Record stores for column col at absolute row
// row. It makes every value of a file unique.
func Int64Value(col int, row int64) int64 {
	return int64(col)*1_000_000_000 + row
}

// Int64Record returns numRows rows of sc starting at absolute row firstRow.
func Int64Record(mem memory.Allocator, sc *arrow.Schema, firstRow int64, numRows int) arrow.Record {
	arrays := make([]arrow.Array, len(sc.Fields()))
	for col := range arrays {
		builder := array.NewInt64Builder(mem)
		for row := 0; row < numRows; row++ {
			builder.Append(Int64Value(col, firstRow+int64(row)))
		}
		arrays[col] = builder.NewInt64Array()
		builder.Release()
	}

	record := array.NewRecord(sc, arrays, int64(numRows))
	for _, arr := range arrays {
		arr.Release()
	}
	return record
}
