// Package bench times how long footer metadata and page indexes take to
// decode once their bytes are in memory.
package bench

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"Shopify/parquet-rowgroup-bench/footer"
)

const (
	DefaultRuns   = 10
	DefaultWarmup = 10
)

var ErrUnexpectedResult = errors.New("unexpected decoder result")

// Variant is a decoder configuration that is timed separately.
type Variant struct {
	Name    string
	Options []footer.Option
}

// DefaultVariants decode the metadata with and without page indexes, and
// with page indexes but without column statistics.
var DefaultVariants = []Variant{
	{Name: "Full"},
	{Name: "No page index", Options: []footer.Option{footer.WithoutPageIndex()}},
	{Name: "No statistics", Options: []footer.Option{footer.WithoutStatistics()}},
}

// Timing accumulates the decode durations of a number of runs.
type Timing struct {
	NumRuns  int
	Metadata time.Duration
	Index    time.Duration
}

func (t Timing) AvgMetadata() time.Duration {
	if t.NumRuns == 0 {
		return 0
	}
	return t.Metadata / time.Duration(t.NumRuns)
}

func (t Timing) AvgIndex() time.Duration {
	if t.NumRuns == 0 {
		return 0
	}
	return t.Index / time.Duration(t.NumRuns)
}

func (t Timing) String() string {
	return fmt.Sprintf("num_runs: %d, metadata: %s, page index (column/offset): %s", t.NumRuns, t.AvgMetadata(), t.AvgIndex())
}

type VariantTiming struct {
	Variant string
	Timing  Timing
}

type Result struct {
	Description string
	Timings     []VariantTiming
}

type Option func(*MetadataParseBenchmark)

func WithRuns(runs int) Option {
	return func(b *MetadataParseBenchmark) {
		b.runs = runs
	}
}

func WithWarmup(warmup int) Option {
	return func(b *MetadataParseBenchmark) {
		b.warmup = warmup
	}
}

func WithVariants(variants ...Variant) Option {
	return func(b *MetadataParseBenchmark) {
		b.variants = variants
	}
}

func WithLogger(logger log.Logger) Option {
	return func(b *MetadataParseBenchmark) {
		b.logger = logger
	}
}

type pushedRange struct {
	r    footer.Range
	data []byte
}

func (p pushedRange) push(decoder footer.PushDecoder) error {
	return decoder.PushRanges([]footer.Range{p.r}, [][]byte{p.data})
}

// MetadataParseBenchmark holds the footer, metadata and page index bytes of a
// file so that runs measure decoding only.
type MetadataParseBenchmark struct {
	description string
	fileLen     int64

	footer   pushedRange
	metadata pushedRange
	index    *pushedRange

	runs     int
	warmup   int
	variants []Variant
	logger   log.Logger
}

// NewMetadataParseBenchmark decodes the file once to learn and fetch the
// ranges requested by the decoder.
func NewMetadataParseBenchmark(ctx context.Context, description string, reader footer.RangeReader, fileLen int64, opts ...Option) (*MetadataParseBenchmark, error) {
	b := &MetadataParseBenchmark{
		description: description,
		fileLen:     fileLen,
		runs:        DefaultRuns,
		warmup:      DefaultWarmup,
		variants:    DefaultVariants,
		logger:      log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}

	decoder, err := footer.NewMetadataDecoder(fileLen)
	if err != nil {
		return nil, err
	}
	var decoded bool
	for _, step := range []string{"footer", "metadata", "index"} {
		result, err := decoder.TryDecode()
		if err != nil {
			return nil, errors.Wrapf(err, "decoding %s", step)
		}
		if result.Kind == footer.Data && step == "index" {
			// The file has no page index.
			decoded = true
			break
		}
		if result.Kind != footer.NeedsData || len(result.Ranges) != 1 {
			return nil, errors.Wrapf(ErrUnexpectedResult, "expected one range for %s, got %s with %d ranges", step, result.Kind, len(result.Ranges))
		}

		r := result.Ranges[0]
		data, err := reader.ReadRange(ctx, r.Start, r.Len())
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s range %s", step, r)
		}
		pushed := pushedRange{r: r, data: data}
		if err := pushed.push(decoder); err != nil {
			return nil, err
		}
		switch step {
		case "footer":
			b.footer = pushed
		case "metadata":
			b.metadata = pushed
		default:
			b.index = &pushed
		}
	}

	if !decoded {
		result, err := decoder.TryDecode()
		if err != nil {
			return nil, err
		}
		if result.Kind != footer.Data {
			return nil, errors.Wrapf(ErrUnexpectedResult, "expected metadata, got %s", result.Kind)
		}
	}

	level.Debug(b.logger).Log(
		"msg", "primed metadata benchmark",
		"description", description,
		"file_len", fileLen,
		"metadata_bytes", len(b.metadata.data),
		"index_bytes", b.indexLen(),
	)
	return b, nil
}

func (b *MetadataParseBenchmark) indexLen() int {
	if b.index == nil {
		return 0
	}
	return len(b.index.data)
}

func (b *MetadataParseBenchmark) Description() string {
	return b.description
}

// Run times every variant.
func (b *MetadataParseBenchmark) Run() (Result, error) {
	result := Result{Description: b.description}
	for _, variant := range b.variants {
		level.Info(b.logger).Log("msg", "running metadata parse benchmark", "description", b.description, "variant", variant.Name)
		timing, err := b.runVariant(variant)
		if err != nil {
			return Result{}, errors.Wrapf(err, "running variant %s", variant.Name)
		}
		result.Timings = append(result.Timings, VariantTiming{Variant: variant.Name, Timing: timing})
	}
	return result, nil
}

func (b *MetadataParseBenchmark) runVariant(variant Variant) (Timing, error) {
	for i := 0; i < b.warmup; i++ {
		if _, _, err := b.runOnce(variant); err != nil {
			return Timing{}, err
		}
	}

	timing := Timing{NumRuns: b.runs}
	for i := 0; i < b.runs; i++ {
		metadataDuration, indexDuration, err := b.runOnce(variant)
		if err != nil {
			return Timing{}, err
		}
		timing.Metadata += metadataDuration
		timing.Index += indexDuration
	}
	return timing, nil
}

// runOnce returns the time taken to decode the metadata and the page indexes.
func (b *MetadataParseBenchmark) runOnce(variant Variant) (time.Duration, time.Duration, error) {
	decoder, err := footer.NewMetadataDecoder(b.fileLen, variant.Options...)
	if err != nil {
		return 0, 0, err
	}
	if err := b.footer.push(decoder); err != nil {
		return 0, 0, err
	}
	if err := b.metadata.push(decoder); err != nil {
		return 0, 0, err
	}

	start := time.Now()
	result, err := decoder.TryDecode()
	metadataDuration := time.Since(start)
	if err != nil {
		return 0, 0, err
	}
	switch {
	case result.Kind == footer.Data:
		return metadataDuration, 0, nil
	case result.Kind != footer.NeedsData || b.index == nil:
		return 0, 0, errors.Wrapf(ErrUnexpectedResult, "expected page index request, got %s", result.Kind)
	}

	start = time.Now()
	if err := b.index.push(decoder); err != nil {
		return 0, 0, err
	}
	result, err = decoder.TryDecode()
	indexDuration := time.Since(start)
	if err != nil {
		return 0, 0, err
	}
	if result.Kind != footer.Data {
		return 0, 0, errors.Wrapf(ErrUnexpectedResult, "expected metadata, got %s", result.Kind)
	}
	return metadataDuration, indexDuration, nil
}
