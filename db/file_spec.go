package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/apache/arrow/go/v10/parquet/file"
	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/thanos-io/objstore"

	"Shopify/parquet-rowgroup-bench/encode"
	"Shopify/parquet-rowgroup-bench/schema"
)

type FileSpecOption func(*FileSpec)

func WithLogger(logger log.Logger) FileSpecOption {
	return func(s *FileSpec) {
		s.logger = logger
	}
}

func WithMetrics(metrics *encode.Metrics) FileSpecOption {
	return func(s *FileSpec) {
		s.metrics = metrics
	}
}

func WithAllocator(mem memory.Allocator) FileSpecOption {
	return func(s *FileSpec) {
		s.mem = mem
	}
}

// WithBucket uploads the file, and its metadata file if one is written, to
// bucket after it has been created.
func WithBucket(bucket objstore.Bucket) FileSpecOption {
	return func(s *FileSpec) {
		s.bucket = bucket
	}
}

// WithMetadataFile writes the serialized footer next to the data file.
func WithMetadataFile() FileSpecOption {
	return func(s *FileSpec) {
		s.metadataFile = true
	}
}

// WithOnRowGroup registers a callback invoked after each row group is written.
func WithOnRowGroup(f func(RowGroupMetadata)) FileSpecOption {
	return func(s *FileSpec) {
		s.onRowGroup = f
	}
}

func WithBatchSize(size int) FileSpecOption {
	return func(s *FileSpec) {
		s.batchSize = size
	}
}

func WithQueueSize(size int) FileSpecOption {
	return func(s *FileSpec) {
		s.queueSize = size
	}
}

// FileSpec describes a parquet file of generated data.
type FileSpec struct {
	path            string
	fileType        schema.FileType
	columns         int
	rowGroups       int
	rowsPerRowGroup int

	logger       log.Logger
	metrics      *encode.Metrics
	mem          memory.Allocator
	bucket       objstore.Bucket
	metadataFile bool
	onRowGroup   func(RowGroupMetadata)
	batchSize    int
	queueSize    int
}

func NewFileSpec(path string, fileType schema.FileType, columns, rowGroups, rowsPerRowGroup int, opts ...FileSpecOption) *FileSpec {
	spec := &FileSpec{
		path:            path,
		fileType:        fileType,
		columns:         columns,
		rowGroups:       rowGroups,
		rowsPerRowGroup: rowsPerRowGroup,

		logger:    log.NewNopLogger(),
		mem:       memory.DefaultAllocator,
		batchSize: DefaultBatchSize,
		queueSize: encode.DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(spec)
	}
	return spec
}

// With returns a copy of the spec with opts applied.
func (s *FileSpec) With(opts ...FileSpecOption) *FileSpec {
	spec := *s
	for _, opt := range opts {
		opt(&spec)
	}
	return &spec
}

func (s *FileSpec) String() string {
	return fmt.Sprintf("%s %d cols %d row groups", s.fileType, s.columns, s.rowGroups)
}

func (s *FileSpec) Path() string {
	return s.path
}

func (s *FileSpec) MetadataPath() string {
	return s.path + metadataFileSuffix
}

func (s *FileSpec) RowGroups() int {
	return s.rowGroups
}

// Create writes the file unless it already exists. Data is written to a
// temporary file in the same directory which is renamed once complete.
func (s *FileSpec) Create(ctx context.Context) error {
	logger := log.With(s.logger, "file", s.path)
	if _, err := os.Stat(s.path); err == nil {
		level.Info(logger).Log("msg", "file already exists, skipping")
		return nil
	} else if !os.IsNotExist(err) {
		return errors.Wrap(err, "checking for existing file")
	}

	rowSchema, err := schema.NewRowSchema(s.fileType.Schema(s.columns))
	if err != nil {
		return errors.Wrap(err, "creating schema")
	}

	level.Info(logger).Log("msg", "creating file", "spec", s.String(), "rows_per_row_group", s.rowsPerRowGroup)
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "creating temporary file")
	}
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	// The same batch is reused for every row group so that data generation
	// does not dominate.
	batchRows := s.rowsPerRowGroup
	if s.batchSize > 0 && batchRows > s.batchSize {
		batchRows = s.batchSize
	}
	batch := s.fileType.CreateBatch(s.mem, 0, batchRows, s.columns)
	defer batch.Release()

	fileWriter := NewFileWriter(tmp, rowSchema)
	var rowsWritten int64
	for i := 0; i < s.rowGroups; i++ {
		md, err := s.writeRowGroup(ctx, fileWriter, rowSchema, batch)
		if err != nil {
			return errors.Wrapf(err, "writing row group %d", i)
		}
		level.Info(logger).Log(
			"msg", "completed row group",
			"row_group", md.Index,
			"columns", md.NumColumns,
			"rows", md.NumRows,
			"size", humanize.IBytes(uint64(md.TotalByteSize)),
			"compressed_size", humanize.IBytes(uint64(md.TotalCompressedSize)),
		)
		if s.onRowGroup != nil {
			s.onRowGroup(md)
		}
		rowsWritten += md.NumRows
	}
	if err := fileWriter.Close(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing temporary file")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		tmp = nil
		return errors.Wrap(err, "renaming temporary file")
	}
	tmp = nil
	level.Info(logger).Log("msg", "wrote file", "rows", rowsWritten)

	if s.metadataFile {
		if err := createMetadataFile(s.path, s.MetadataPath()); err != nil {
			return errors.Wrap(err, "failed writing metadata")
		}
	}
	if s.bucket != nil {
		if err := s.upload(ctx); err != nil {
			return err
		}
		level.Info(logger).Log("msg", "uploaded file", "bucket", s.bucket.Name())
	}
	return nil
}

func (s *FileSpec) writeRowGroup(ctx context.Context, fileWriter *FileWriter, rowSchema *schema.RowSchema, batch arrow.Record) (RowGroupMetadata, error) {
	opts := []encode.Option{
		encode.WithQueueSize(s.queueSize),
		encode.WithLogger(s.logger),
	}
	if s.metrics != nil {
		opts = append(opts, encode.WithMetrics(s.metrics))
	}
	writers := encode.NewColumnWriters(rowSchema)
	enc, err := encode.NewRowGroupEncoder(rowSchema.ArrowSchema(), writers, opts...)
	if err != nil {
		return RowGroupMetadata{}, err
	}
	chunks, err := EncodeRowGroup(ctx, enc, batch, int64(s.rowsPerRowGroup))
	if err != nil {
		return RowGroupMetadata{}, err
	}

	rowGroup, err := fileWriter.NextRowGroup()
	if err != nil {
		return RowGroupMetadata{}, err
	}
	for _, chunk := range chunks {
		if err := rowGroup.Append(chunk); err != nil {
			rowGroup.Close()
			return RowGroupMetadata{}, err
		}
	}
	return rowGroup.Close()
}

func (s *FileSpec) upload(ctx context.Context) error {
	names := []string{s.path}
	if s.metadataFile {
		names = append(names, s.MetadataPath())
	}
	for _, name := range names {
		if err := uploadFile(ctx, s.bucket, name); err != nil {
			return errors.Wrapf(err, "uploading %s", name)
		}
	}
	return nil
}

func uploadFile(ctx context.Context, bucket objstore.Bucket, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return bucket.Upload(ctx, filepath.Base(path), f)
}

// createMetadataFile stores the serialized footer of dataFile in metaFile.
func createMetadataFile(dataFile, metaFile string) error {
	f, err := os.Open(dataFile)
	if err != nil {
		return err
	}
	defer f.Close()

	pqReader, err := file.NewParquetReader(f)
	if err != nil {
		return errors.Wrap(err, "opening parquet reader")
	}
	defer pqReader.Close()

	out, err := os.Create(metaFile)
	if err != nil {
		return err
	}
	if _, err := pqReader.MetaData().WriteTo(out, nil); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
