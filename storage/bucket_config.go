package storage

import (
	"context"
	"strings"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/thanos-io/objstore"
	"github.com/thanos-io/objstore/providers/filesystem"
	"github.com/thanos-io/objstore/providers/gcs"
	"gopkg.in/yaml.v3"
)

type BucketType string

const (
	FILESYSTEM BucketType = "FILESYSTEM"
	GCS        BucketType = "GCS"
	MEMORY     BucketType = "MEMORY"
)

// BucketConfig selects an object store provider. Config holds the provider
// specific configuration.
type BucketConfig struct {
	Type   BucketType  `yaml:"type"`
	Config interface{} `yaml:"config"`
}

type FilesystemConfig struct {
	Directory string `yaml:"directory"`
}

type GCSConfig struct {
	Bucket         string `yaml:"bucket"`
	ServiceAccount string `yaml:"service_account,omitempty"`
}

func ParseBucketConfig(conf []byte) (BucketConfig, error) {
	var bucketConf BucketConfig
	if err := yaml.Unmarshal(conf, &bucketConf); err != nil {
		return BucketConfig{}, errors.Wrap(err, "parsing bucket configuration")
	}
	return bucketConf, nil
}

func NewBucket(ctx context.Context, logger log.Logger, bucketConf BucketConfig, component string) (objstore.Bucket, error) {
	config, err := yaml.Marshal(bucketConf.Config)
	if err != nil {
		return nil, errors.Wrap(err, "marshal content of bucket configuration")
	}

	switch BucketType(strings.ToUpper(string(bucketConf.Type))) {
	case FILESYSTEM:
		var fsConf FilesystemConfig
		if err := yaml.Unmarshal(config, &fsConf); err != nil {
			return nil, errors.Wrap(err, "parsing filesystem configuration")
		}
		if fsConf.Directory == "" {
			return nil, errors.New("missing directory for filesystem bucket")
		}
		return filesystem.NewBucket(fsConf.Directory)
	case GCS:
		return gcs.NewBucket(ctx, logger, config, component)
	case MEMORY:
		return objstore.NewInMemBucket(), nil
	}
	return nil, errors.Errorf("bucket with type %s is not supported", bucketConf.Type)
}
