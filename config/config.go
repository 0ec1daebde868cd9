// Package config describes which files are generated and how they are
// benchmarked.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"Shopify/parquet-rowgroup-bench/bench"
	"Shopify/parquet-rowgroup-bench/db"
	"Shopify/parquet-rowgroup-bench/schema"
	"Shopify/parquet-rowgroup-bench/storage"
)

type Config struct {
	OutputDir string                `yaml:"output_dir"`
	Files     FilesConfig           `yaml:"files"`
	Bench     BenchConfig           `yaml:"bench"`
	Bucket    *storage.BucketConfig `yaml:"bucket,omitempty"`
}

type FilesConfig struct {
	Types           []string `yaml:"types"`
	Columns         []int    `yaml:"columns"`
	RowGroups       int      `yaml:"row_groups"`
	RowsPerRowGroup int      `yaml:"rows_per_row_group"`
	BatchSize       int      `yaml:"batch_size"`
	MetadataFile    bool     `yaml:"metadata_file"`
}

type BenchConfig struct {
	Runs   int `yaml:"runs"`
	Warmup int `yaml:"warmup"`
}

// Default returns the reference plan: Float32 and String files of 100 to
// 100000 columns, each with 20 row groups of 1000 rows.
func Default() Config {
	return Config{
		OutputDir: "output",
		Files: FilesConfig{
			Types:           []string{schema.Float.String(), schema.String.String()},
			Columns:         []int{100, 1000, 10000, 100000},
			RowGroups:       20,
			RowsPerRowGroup: 1000,
			BatchSize:       db.DefaultBatchSize,
		},
		Bench: BenchConfig{
			Runs:   bench.DefaultRuns,
			Warmup: bench.DefaultWarmup,
		},
	}
}

// Parse reads a configuration on top of the defaults.
func Parse(content []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parsing configuration")
	}
	return cfg, cfg.Validate()
}

func Load(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "reading configuration file")
	}
	return Parse(content)
}

func (c Config) Validate() error {
	if _, err := c.FileTypes(); err != nil {
		return err
	}
	for _, columns := range c.Files.Columns {
		if columns <= 0 {
			return errors.Errorf("invalid column count %d", columns)
		}
	}
	if c.Files.RowGroups <= 0 {
		return errors.Errorf("invalid number of row groups %d", c.Files.RowGroups)
	}
	if c.Files.RowsPerRowGroup <= 0 {
		return errors.Errorf("invalid number of rows per row group %d", c.Files.RowsPerRowGroup)
	}
	if c.Bench.Runs <= 0 {
		return errors.Errorf("invalid number of benchmark runs %d", c.Bench.Runs)
	}
	if c.Bench.Warmup < 0 {
		return errors.Errorf("invalid number of warmup runs %d", c.Bench.Warmup)
	}
	return nil
}

func (c Config) FileTypes() ([]schema.FileType, error) {
	fileTypes := make([]schema.FileType, 0, len(c.Files.Types))
	for _, name := range c.Files.Types {
		fileType, err := schema.ParseFileType(name)
		if err != nil {
			return nil, err
		}
		fileTypes = append(fileTypes, fileType)
	}
	return fileTypes, nil
}

// FileSpecs returns a spec for every file type and column count.
func (c Config) FileSpecs(opts ...db.FileSpecOption) ([]*db.FileSpec, error) {
	fileTypes, err := c.FileTypes()
	if err != nil {
		return nil, err
	}

	specOpts := []db.FileSpecOption{db.WithBatchSize(c.Files.BatchSize)}
	if c.Files.MetadataFile {
		specOpts = append(specOpts, db.WithMetadataFile())
	}
	specOpts = append(specOpts, opts...)

	specs := make([]*db.FileSpec, 0, len(fileTypes)*len(c.Files.Columns))
	for _, fileType := range fileTypes {
		for _, columns := range c.Files.Columns {
			path := filepath.Join(c.OutputDir, fmt.Sprintf("%s_data_%d_cols.parquet", fileType, columns))
			specs = append(specs, db.NewFileSpec(path, fileType, columns, c.Files.RowGroups, c.Files.RowsPerRowGroup, specOpts...))
		}
	}
	return specs, nil
}
