package bench

import (
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
)

// variantNames returns the variants of the first result. All results of a
// report are expected to share them.
func variantNames(results []Result) []string {
	if len(results) == 0 {
		return nil
	}
	names := make([]string, len(results[0].Timings))
	for i, timing := range results[0].Timings {
		names[i] = timing.Variant
	}
	return names
}

func newReport(w io.Writer, results []Result, suffix string, value func(Timing) (interface{}, interface{})) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)

	header := table.Row{"Description"}
	for _, name := range variantNames(results) {
		header = append(header, name+" Metadata"+suffix, name+" PageIndex (Column/Offset)"+suffix)
	}
	t.AppendHeader(header)

	for _, result := range results {
		row := table.Row{result.Description}
		for _, timing := range result.Timings {
			metadata, index := value(timing.Timing)
			row = append(row, metadata, index)
		}
		t.AppendRow(row)
	}
	return t
}

// WriteTable writes the average durations of results as a table.
func WriteTable(w io.Writer, results []Result) {
	t := newReport(w, results, "", func(timing Timing) (interface{}, interface{}) {
		return timing.AvgMetadata().String(), timing.AvgIndex().String()
	})
	t.SetStyle(table.StyleLight)
	t.Render()
}

// WriteCSV writes the average durations of results in nanoseconds.
func WriteCSV(w io.Writer, results []Result) {
	t := newReport(w, results, " (ns)", func(timing Timing) (interface{}, interface{}) {
		return strconv.FormatInt(timing.AvgMetadata().Nanoseconds(), 10), strconv.FormatInt(timing.AvgIndex().Nanoseconds(), 10)
	})
	t.RenderCSV()
}
