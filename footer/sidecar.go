package footer

import (
	"context"
	"io"

	"github.com/apache/arrow/go/v10/parquet/metadata"
	"github.com/pkg/errors"
	"github.com/thanos-io/objstore"
)

// ReadMetadataFile decodes a serialized footer stored as its own object, such
// as the metadata files written next to generated data files. Page indexes
// are not part of the footer and are not decoded.
func ReadMetadataFile(ctx context.Context, bucket objstore.BucketReader, name string) (*FileMetadata, error) {
	attrs, err := bucket.Attributes(ctx, name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get attributes for metadata file "+name)
	}

	reader, err := bucket.Get(ctx, name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get metadata file "+name)
	}
	defer reader.Close()

	metadataBytes := make([]byte, attrs.Size)
	if _, err := io.ReadFull(reader, metadataBytes); err != nil {
		return nil, errors.Wrap(err, "failed to read metadata file "+name)
	}

	md, err := metadata.NewFileMetaData(metadataBytes, nil)
	if err != nil {
		return nil, errors.Wrap(err, "decoding file metadata")
	}
	return &FileMetadata{FileMetaData: md}, nil
}
