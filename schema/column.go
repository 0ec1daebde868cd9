package schema

import (
	"reflect"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"
	"github.com/segmentio/parquet-go/compress"
	"github.com/segmentio/parquet-go/deprecated"
	"github.com/segmentio/parquet-go/format"
)

var ErrUnsupportedType = errors.New("unsupported column type")

type column struct {
	parquet.Node
	name string
}

func newColumn(name string, node parquet.Node) *column {
	return &column{Node: node, name: name}
}

// newLeafColumn maps an arrow field to the parquet leaf node it is stored as.
func newLeafColumn(field arrow.Field, codec compress.Codec) (*column, error) {
	var node parquet.Node
	switch field.Type.ID() {
	case arrow.BOOL:
		node = parquet.Leaf(parquet.BooleanType)
	case arrow.INT32:
		node = parquet.Leaf(parquet.Int32Type)
		node = parquet.Encoded(node, &parquet.DeltaBinaryPacked)
	case arrow.INT64:
		node = parquet.Leaf(parquet.Int64Type)
		node = parquet.Encoded(node, &parquet.DeltaBinaryPacked)
	case arrow.FLOAT32:
		node = parquet.Leaf(parquet.FloatType)
	case arrow.FLOAT64:
		node = parquet.Leaf(parquet.DoubleType)
	case arrow.STRING:
		node = parquet.String()
		node = parquet.Encoded(node, &parquet.RLEDictionary)
	case arrow.BINARY:
		node = parquet.Leaf(parquet.ByteArrayType)
		node = parquet.Encoded(node, &parquet.DeltaLengthByteArray)
	default:
		return nil, errors.Wrapf(ErrUnsupportedType, "column %q has type %s", field.Name, field.Type)
	}
	if codec != nil {
		node = parquet.Compressed(node, codec)
	}
	if field.Nullable {
		node = parquet.Optional(node)
	}
	return newColumn(field.Name, node), nil
}

func (l column) Name() string { return l.name }

func (l column) Value(base reflect.Value) reflect.Value { return base }

type groupType struct {
	parquet.Type
}

func (groupType) String() string { return "group" }

func (groupType) Length() int { return 0 }

func (groupType) EstimateSize(int) int { return 0 }

func (groupType) EstimateNumValues(int) int { return 0 }

func (groupType) ColumnOrder() *format.ColumnOrder { return nil }

func (groupType) PhysicalType() *format.Type { return nil }

func (groupType) LogicalType() *format.LogicalType { return nil }

func (groupType) ConvertedType() *deprecated.ConvertedType { return nil }
