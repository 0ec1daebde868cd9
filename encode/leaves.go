package encode

import (
	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"
)

var (
	ErrTypeMismatch   = errors.New("array type does not match column type")
	ErrUnexpectedNull = errors.New("null value in required column")
)

// Leaf is a flat run of primitive values with repetition and definition
// levels set. It is what a column writer consumes.
type Leaf []parquet.Value

// ComputeLeaves decomposes one column slice into the leaves of its parquet
// column, in write order. Flat columns produce exactly one leaf.
func ComputeLeaves(field arrow.Field, column int, arr arrow.Array) ([]Leaf, error) {
	if !arrow.TypeEqual(field.Type, arr.DataType()) {
		return nil, errors.Wrapf(ErrTypeMismatch, "column %d (%s): expected %s, got %s", column, field.Name, field.Type, arr.DataType())
	}
	if !field.Nullable && arr.NullN() > 0 {
		return nil, errors.Wrapf(ErrUnexpectedNull, "column %d (%s)", column, field.Name)
	}

	definitionLevel := 0
	if field.Nullable {
		definitionLevel = 1
	}

	var valueAt func(i int) parquet.Value
	switch a := arr.(type) {
	case *array.Boolean:
		valueAt = func(i int) parquet.Value { return parquet.BooleanValue(a.Value(i)) }
	case *array.Int32:
		valueAt = func(i int) parquet.Value { return parquet.Int32Value(a.Value(i)) }
	case *array.Int64:
		valueAt = func(i int) parquet.Value { return parquet.Int64Value(a.Value(i)) }
	case *array.Float32:
		valueAt = func(i int) parquet.Value { return parquet.FloatValue(a.Value(i)) }
	case *array.Float64:
		valueAt = func(i int) parquet.Value { return parquet.DoubleValue(a.Value(i)) }
	case *array.String:
		valueAt = func(i int) parquet.Value { return parquet.ByteArrayValue([]byte(a.Value(i))) }
	case *array.Binary:
		// The column buffer copies byte arrays, so the arrow buffer may be
		// released once the leaf is written.
		valueAt = func(i int) parquet.Value { return parquet.ByteArrayValue(a.Value(i)) }
	default:
		return nil, errors.Wrapf(ErrTypeMismatch, "column %d (%s): no leaf conversion for %s", column, field.Name, arr.DataType())
	}

	values := make(Leaf, arr.Len())
	for i := range values {
		if arr.IsNull(i) {
			values[i] = parquet.Value{}.Level(0, 0, column)
			continue
		}
		values[i] = valueAt(i).Level(0, definitionLevel, column)
	}
	return []Leaf{values}, nil
}
