package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/apache/arrow/go/v10/parquet/file"
	"github.com/apache/arrow/go/v10/parquet/pqarrow"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/alecthomas/kingpin.v2"

	"Shopify/parquet-rowgroup-bench/footer"
)

type Options struct {
	Path string
	// Columns to print values of. Nothing is printed when empty.
	Columns []int
	RowGroup int
	Rows     int
}

func (o *Options) BindFlags(app *kingpin.Application) {
	app.Arg("file", "The parquet file to inspect.").Required().ExistingFileVar(&o.Path)
	app.Flag("column", "Print the values of this column. Can be repeated.").IntsVar(&o.Columns)
	app.Flag("row-group", "The row group to print values from.").Default("0").IntVar(&o.RowGroup)
	app.Flag("rows", "The number of values to print per column.").Default("10").IntVar(&o.Rows)
}

func main() {
	app := kingpin.New("inspect", "Print the row groups and page indexes of a parquet file.")
	opts := Options{}
	opts.BindFlags(app)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	f, err := os.Open(opts.Path)
	if err != nil {
		log.Fatalln(err.Error())
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		log.Fatalln(err.Error())
	}

	ctx := context.Background()
	md, err := footer.DecodeFile(ctx, footer.NewReaderAtRanges(f), stat.Size())
	if err != nil {
		log.Fatalln(err.Error())
	}

	fmt.Printf("%s: %s, %d columns, %d row groups, page index: %t\n",
		opts.Path, humanize.IBytes(uint64(stat.Size())), md.Schema.NumColumns(), len(md.RowGroups), md.HasPageIndex())

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Row group", "Rows", "Columns", "Size", "Pages"})
	for i := range md.RowGroups {
		rg := md.RowGroup(i)
		pages := 0
		if md.HasPageIndex() {
			for _, offsetIndex := range md.OffsetIndexes[i] {
				pages += len(offsetIndex.PageLocations)
			}
		}
		t.AppendRow(table.Row{i, rg.NumRows(), rg.NumColumns(), humanize.IBytes(uint64(rg.TotalByteSize())), pages})
	}
	t.SetStyle(table.StyleLight)
	t.Render()

	if len(opts.Columns) == 0 {
		return
	}
	printColumns(ctx, f, opts)
}

func printColumns(ctx context.Context, f *os.File, opts Options) {
	pqreader, err := file.NewParquetReader(f)
	if err != nil {
		log.Fatalln(err.Error())
	}
	defer pqreader.Close()

	freader, err := pqarrow.NewFileReader(pqreader, pqarrow.ArrowReadProperties{
		Parallel:  true,
		BatchSize: 4 * 1024,
	}, memory.DefaultAllocator)
	if err != nil {
		log.Fatalln(err.Error())
	}

	rrs, _, err := freader.GetFieldReaders(ctx, opts.Columns, []int{opts.RowGroup})
	if err != nil {
		log.Fatalln(err)
	}

	schema := pqreader.MetaData().Schema
	for i, rr := range rrs {
		batch, err := rr.NextBatch(int64(opts.Rows))
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(schema.Column(opts.Columns[i]).Name())
		for _, chunk := range batch.Chunks() {
			fmt.Println(chunk)
		}
		batch.Release()
	}
}
