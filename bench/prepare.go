package bench

import (
	"context"

	"golang.org/x/sync/errgroup"

	"Shopify/parquet-rowgroup-bench/footer"
)

const prepareConcurrency = 8

// File is a file to benchmark.
type File struct {
	Description string
	Reader      footer.RangeReader
	Size        int64
}

// Prepare primes a benchmark for every file concurrently. Benchmarks are
// returned in the order of files.
func Prepare(ctx context.Context, files []File, opts ...Option) ([]*MetadataParseBenchmark, error) {
	benchmarks := make([]*MetadataParseBenchmark, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(prepareConcurrency)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			b, err := NewMetadataParseBenchmark(ctx, f.Description, f.Reader, f.Size, opts...)
			if err != nil {
				return err
			}
			benchmarks[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return benchmarks, nil
}
