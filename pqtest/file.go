package pqtest

import (
	"bytes"
	"os"

	"github.com/segmentio/parquet-go"
)

// Row is a sample row for files written directly with parquet-go.
type Row struct {
	Name  string  `parquet:",dict"`
	Job   string  `parquet:",dict"`
	Value float64 `parquet:",optional"`
	Count int64   `parquet:",delta"`
}

// CreateFile writes each part as its own row group and returns the encoded
// file. parquet-go writes column and offset indexes for every column chunk.
func CreateFile(parts [][]Row) ([]byte, error) {
	var buffer bytes.Buffer
	writer := parquet.NewGenericWriter[Row](&buffer,
		parquet.PageBufferSize(4),
	)

	for _, part := range parts {
		if _, err := writer.Write(part); err != nil {
			return nil, err
		}
		if err := writer.Flush(); err != nil {
			return nil, err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func OpenFile(path string) (*parquet.File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}
	return parquet.OpenFile(file, stat.Size())
}

func OpenBytes(data []byte) (*parquet.File, error) {
	return parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
}
