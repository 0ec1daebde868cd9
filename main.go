package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	"github.com/thanos-io/objstore"
	"gopkg.in/alecthomas/kingpin.v2"

	"Shopify/parquet-rowgroup-bench/bench"
	"Shopify/parquet-rowgroup-bench/config"
	"Shopify/parquet-rowgroup-bench/db"
	"Shopify/parquet-rowgroup-bench/encode"
	"Shopify/parquet-rowgroup-bench/footer"
	"Shopify/parquet-rowgroup-bench/storage"
)

// Bucket reads larger than this are split into concurrent range requests.
const maxBucketReadSize = 4 << 20

type Options struct {
	// Path to a YAML file describing the files to generate.
	ConfigFile string
	// Directory the files are written to. Overrides the configuration.
	OutputDir string
	LogLevel  string
	// Address to expose metrics on. Metrics are not served when empty.
	MetricsListen string
	// Number of timed and warmup runs. Zero keeps the configured value.
	BenchRuns   int
	BenchWarmup int
}

func main() {
	app := kingpin.New("parquet-rowgroup-bench", "Generate wide parquet files and benchmark footer metadata parsing.")
	opts := Options{}
	opts.BindFlags(app)

	generateCmd := app.Command("generate", "Generate the configured parquet files.")
	benchCmd := app.Command("bench", "Benchmark metadata parsing of previously generated files.")
	runCmd := app.Command("run", "Generate the files and benchmark them.").Default()

	cmd, err := app.Parse(os.Args[1:])
	if err != nil {
		app.FatalUsage("%s", err)
	}

	logger := newLogger(opts.LogLevel)
	if err := run(logger, opts, cmd, generateCmd.FullCommand(), benchCmd.FullCommand(), runCmd.FullCommand()); err != nil {
		level.Error(logger).Log("msg", "command failed", "cmd", cmd, "err", err)
		os.Exit(1)
	}
}

func run(logger log.Logger, opts Options, cmd, generateCmd, benchCmd, runCmd string) error {
	cfg, err := opts.config()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if opts.MetricsListen != "" {
		go serveMetrics(logger, reg, opts.MetricsListen)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var bucket objstore.Bucket
	if cfg.Bucket != nil {
		bucket, err = storage.NewBucket(ctx, logger, *cfg.Bucket, "parquet-rowgroup-bench")
		if err != nil {
			return errors.Wrap(err, "creating bucket")
		}
		defer bucket.Close()
	}

	specs, err := cfg.FileSpecs(
		db.WithLogger(logger),
		db.WithMetrics(encode.NewMetrics(reg)),
	)
	if err != nil {
		return err
	}

	switch cmd {
	case generateCmd:
		return generate(ctx, logger, cfg, specs, bucket)
	case benchCmd:
		return benchmark(ctx, logger, cfg, specs, bucket)
	case runCmd:
		if err := generate(ctx, logger, cfg, specs, bucket); err != nil {
			return err
		}
		return benchmark(ctx, logger, cfg, specs, bucket)
	}
	return errors.Errorf("unknown command %s", cmd)
}

func (o *Options) BindFlags(app *kingpin.Application) {
	app.Flag("config.file", "Path to the YAML configuration file.").
		Default("").StringVar(&o.ConfigFile)
	app.Flag("output-dir", "The directory to write the parquet files to.").
		Default("").StringVar(&o.OutputDir)
	app.Flag("log.level", "Only log messages with the given severity or above.").
		Default("info").EnumVar(&o.LogLevel, "debug", "info", "warn", "error")
	app.Flag("metrics.listen", "Address to expose Prometheus metrics on.").
		Default("").StringVar(&o.MetricsListen)
	app.Flag("bench.runs", "Number of timed runs per file and variant.").
		Default("0").IntVar(&o.BenchRuns)
	app.Flag("bench.warmup", "Number of warmup runs per file and variant.").
		Default("0").IntVar(&o.BenchWarmup)
}

func (o *Options) config() (config.Config, error) {
	cfg := config.Default()
	if o.ConfigFile != "" {
		var err error
		if cfg, err = config.Load(o.ConfigFile); err != nil {
			return config.Config{}, err
		}
	}
	if o.OutputDir != "" {
		cfg.OutputDir = o.OutputDir
	}
	if o.BenchRuns > 0 {
		cfg.Bench.Runs = o.BenchRuns
	}
	if o.BenchWarmup > 0 {
		cfg.Bench.Warmup = o.BenchWarmup
	}
	return cfg, cfg.Validate()
}

func newLogger(logLevel string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	var filter level.Option
	switch logLevel {
	case "debug":
		filter = level.AllowDebug()
	case "warn":
		filter = level.AllowWarn()
	case "error":
		filter = level.AllowError()
	default:
		filter = level.AllowInfo()
	}
	logger = level.NewFilter(logger, filter)
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
}

func serveMetrics(logger log.Logger, reg *prometheus.Registry, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	level.Info(logger).Log("msg", "serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		level.Error(logger).Log("msg", "metrics server stopped", "err", err)
	}
}

func generate(ctx context.Context, logger log.Logger, cfg config.Config, specs []*db.FileSpec, bucket objstore.Bucket) error {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return errors.Wrap(err, "creating output directory")
	}
	level.Info(logger).Log("msg", "creating parquet files", "dir", cfg.OutputDir, "files", len(specs))

	for _, spec := range specs {
		bar := progressbar.Default(int64(spec.RowGroups()), spec.String())
		opts := []db.FileSpecOption{
			db.WithOnRowGroup(func(db.RowGroupMetadata) {
				_ = bar.Add(1)
			}),
		}
		if bucket != nil {
			opts = append(opts, db.WithBucket(bucket))
		}
		err := spec.With(opts...).Create(ctx)
		_ = bar.Finish()
		if err != nil {
			return errors.Wrapf(err, "creating %s", spec.Path())
		}
	}
	level.Info(logger).Log("msg", "done creating parquet files")
	return nil
}

func benchmark(ctx context.Context, logger log.Logger, cfg config.Config, specs []*db.FileSpec, bucket objstore.Bucket) error {
	files := make([]bench.File, 0, len(specs))
	for _, spec := range specs {
		f, closeFile, err := openFile(ctx, logger, spec, bucket)
		if err != nil {
			return err
		}
		defer closeFile()
		files = append(files, f)
	}

	benchmarks, err := bench.Prepare(ctx, files,
		bench.WithRuns(cfg.Bench.Runs),
		bench.WithWarmup(cfg.Bench.Warmup),
		bench.WithLogger(logger),
	)
	if err != nil {
		return errors.Wrap(err, "preparing benchmarks")
	}

	results := make([]bench.Result, 0, len(benchmarks))
	for _, b := range benchmarks {
		result, err := b.Run()
		if err != nil {
			return errors.Wrapf(err, "benchmarking %s", b.Description())
		}
		for _, timing := range result.Timings {
			level.Info(logger).Log("msg", "benchmark result", "description", result.Description, "variant", timing.Variant, "timing", timing.Timing)
		}
		results = append(results, result)
	}

	fmt.Println("Summary of results:")
	bench.WriteTable(os.Stdout, results)
	fmt.Println("CSV output:")
	bench.WriteCSV(os.Stdout, results)
	return nil
}

// openFile reads the file from the bucket when one is configured and from
// the local file system otherwise.
func openFile(ctx context.Context, logger log.Logger, spec *db.FileSpec, bucket objstore.Bucket) (bench.File, func(), error) {
	f := bench.File{Description: spec.String()}
	if bucket != nil {
		reader := storage.NewBucketReader(filepath.Base(spec.Path()), bucket, logger)
		size, err := reader.Size(ctx)
		if err != nil {
			return bench.File{}, nil, err
		}
		f.Reader = footer.NewReaderAtRanges(storage.NewChunkedReader(reader, maxBucketReadSize))
		f.Size = size
		return f, func() {}, nil
	}

	file, err := os.Open(spec.Path())
	if err != nil {
		return bench.File{}, nil, errors.Wrap(err, "opening generated file")
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return bench.File{}, nil, err
	}
	f.Reader, f.Size = footer.NewReaderAtRanges(file), stat.Size()
	return f, func() { file.Close() }, nil
}
