package db

import (
	"github.com/segmentio/parquet-go/format"

	"Shopify/parquet-rowgroup-bench/encode"
)

// placeChunk returns the footer entry and offset index of chunk once its
// data is written at offset.
func placeChunk(chunk encode.ColumnChunk, offset int64) (format.ColumnChunk, format.OffsetIndex) {
	shift := offset - chunk.Offset

	meta := chunk.MetaData
	meta.DataPageOffset += shift
	if meta.DictionaryPageOffset != 0 {
		meta.DictionaryPageOffset += shift
	}

	locations := make([]format.PageLocation, len(chunk.OffsetIndex.PageLocations))
	for i, loc := range chunk.OffsetIndex.PageLocations {
		loc.Offset += shift
		locations[i] = loc
	}
	return format.ColumnChunk{MetaData: meta}, format.OffsetIndex{PageLocations: locations}
}
