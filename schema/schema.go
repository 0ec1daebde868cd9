package schema

import (
	"fmt"
	"reflect"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/segmentio/parquet-go"
	"github.com/segmentio/parquet-go/compress"
	"github.com/segmentio/parquet-go/compress/zstd"
	"github.com/segmentio/parquet-go/encoding"
	"github.com/segmentio/parquet-go/format"
)

const rootName = "schema"

// row is a group node which keeps its fields in the order they were given.
// parquet.Group sorts fields by name, which would break the mapping between
// arrow column positions and parquet leaf indexes.
type row struct {
	fields []parquet.Field
}

func (r row) String() string { return fmt.Sprintf("%d columns", len(r.fields)) }

func (r row) Type() parquet.Type { return groupType{} }

func (r row) Optional() bool { return false }

func (r row) Repeated() bool { return false }

func (r row) Required() bool { return true }

func (r row) Leaf() bool { return false }

func (r row) Fields() []parquet.Field { return r.fields }

func (r row) Encoding() encoding.Encoding { return nil }

func (r row) Compression() compress.Codec { return nil }

func (r row) GoType() reflect.Type { return reflect.TypeOf(row{}) }

type rowSchemaOpts struct {
	codec compress.Codec
}

type RowSchemaOption func(*rowSchemaOpts)

// WithCompression sets the codec applied to every column. A nil codec
// disables compression.
func WithCompression(codec compress.Codec) RowSchemaOption {
	return func(opts *rowSchemaOpts) {
		opts.codec = codec
	}
}

// RowSchema pairs an arrow schema with the parquet schema its records are
// written with. Leaf column i of the parquet schema is field i of the arrow
// schema.
type RowSchema struct {
	arrow   *arrow.Schema
	schema  *parquet.Schema
	fields  []parquet.Field
	columns []*parquet.Schema
}

func NewRowSchema(sc *arrow.Schema, opts ...RowSchemaOption) (*RowSchema, error) {
	schemaOpts := rowSchemaOpts{codec: &zstd.Codec{}}
	for _, opt := range opts {
		opt(&schemaOpts)
	}

	fields := make([]parquet.Field, 0, len(sc.Fields()))
	for _, field := range sc.Fields() {
		col, err := newLeafColumn(field, schemaOpts.codec)
		if err != nil {
			return nil, err
		}
		fields = append(fields, col)
	}

	columns := make([]*parquet.Schema, len(fields))
	for i := range fields {
		columns[i] = parquet.NewSchema(rootName, row{fields: fields[i : i+1 : i+1]})
	}
	return &RowSchema{
		arrow:   sc,
		schema:  parquet.NewSchema(rootName, row{fields: fields}),
		fields:  fields,
		columns: columns,
	}, nil
}

func (s *RowSchema) ArrowSchema() *arrow.Schema {
	return s.arrow
}

func (s *RowSchema) ParquetSchema() *parquet.Schema {
	return s.schema
}

func (s *RowSchema) NumColumns() int {
	return len(s.arrow.Fields())
}

// ColumnSchema returns a schema holding only column i. Its single leaf is
// stored exactly like leaf i of ParquetSchema.
func (s *RowSchema) ColumnSchema(i int) *parquet.Schema {
	return s.columns[i]
}

// SchemaElements returns the flattened schema written to the file footer: the
// root followed by one element per column.
func (s *RowSchema) SchemaElements() []format.SchemaElement {
	elements := make([]format.SchemaElement, 0, len(s.fields)+1)
	elements = append(elements, format.SchemaElement{
		Name:        rootName,
		NumChildren: int32(len(s.fields)),
	})
	for _, field := range s.fields {
		nodeType := field.Type()
		element := format.SchemaElement{
			Type:           nodeType.PhysicalType(),
			RepetitionType: repetitionType(field),
			Name:           field.Name(),
			ConvertedType:  nodeType.ConvertedType(),
			LogicalType:    nodeType.LogicalType(),
		}
		if n := int32(nodeType.Length()); n > 0 {
			element.TypeLength = &n
		}
		elements = append(elements, element)
	}
	return elements
}

// ColumnOrders returns the sort order of the statistics of every column.
func (s *RowSchema) ColumnOrders() []format.ColumnOrder {
	orders := make([]format.ColumnOrder, len(s.fields))
	for i, field := range s.fields {
		if order := field.Type().ColumnOrder(); order != nil {
			orders[i] = *order
		}
	}
	return orders
}

func repetitionType(node parquet.Node) *format.FieldRepetitionType {
	var t format.FieldRepetitionType
	switch {
	case node.Optional():
		t = format.Optional
	case node.Repeated():
		t = format.Repeated
	default:
		t = format.Required
	}
	return &t
}
