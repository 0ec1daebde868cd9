package footer

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/apache/arrow/go/v10/parquet/metadata"
	"github.com/pkg/errors"
	"github.com/segmentio/encoding/thrift"
	"github.com/segmentio/parquet-go/format"
)

const (
	footerSize = 8
	magicSize  = 4
)

var (
	magic          = []byte("PAR1")
	encryptedMagic = []byte("PARE")
)

type decoderState int

const (
	awaitingFooter decoderState = iota
	awaitingMetadata
	awaitingIndex
	done
	finished
)

type Option func(*MetadataDecoder)

// WithoutPageIndex stops decoding after the footer metadata.
func WithoutPageIndex() Option {
	return func(d *MetadataDecoder) {
		d.pageIndex = false
	}
}

// WithoutStatistics skips column chunk statistics while decoding the footer
// metadata. The result carries Lean instead of FileMetaData.
func WithoutStatistics() Option {
	return func(d *MetadataDecoder) {
		d.statistics = false
	}
}

type pushedRange struct {
	Range
	data []byte
}

// MetadataDecoder decodes the footer of a parquet file in three steps. It
// requests the 8 byte footer, then the metadata and finally one range covering
// all column and offset indexes.
type MetadataDecoder struct {
	fileLen    int64
	pageIndex  bool
	statistics bool

	state  decoderState
	pushed []pushedRange

	metadataRange Range
	indexRange    Range
	metadata      *FileMetadata
	// locations are the page index locations of every column chunk, by row
	// group.
	locations [][]indexLocation
}

func NewMetadataDecoder(fileLen int64, opts ...Option) (*MetadataDecoder, error) {
	if fileLen < footerSize+magicSize {
		return nil, errors.Wrapf(ErrFileTooSmall, "file has %d bytes", fileLen)
	}
	d := &MetadataDecoder{
		fileLen:    fileLen,
		pageIndex:  true,
		statistics: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// PushRanges supplies the bytes of ranges. Pushed ranges may be larger than
// the requested ones.
func (d *MetadataDecoder) PushRanges(ranges []Range, buffers [][]byte) error {
	if len(ranges) != len(buffers) {
		return errors.Wrapf(ErrRangeNotPushed, "got %d ranges and %d buffers", len(ranges), len(buffers))
	}
	for i, r := range ranges {
		if r.Start < 0 || r.End > d.fileLen || r.Start > r.End {
			return errors.Wrapf(ErrRangeNotPushed, "range %s is outside of file with %d bytes", r, d.fileLen)
		}
		if int64(len(buffers[i])) != r.Len() {
			return errors.Wrapf(ErrRangeNotPushed, "range %s has %d bytes", r, len(buffers[i]))
		}
	}
	for i, r := range ranges {
		d.pushed = append(d.pushed, pushedRange{Range: r, data: buffers[i]})
	}
	return nil
}

func (d *MetadataDecoder) TryDecode() (Result, error) {
	for {
		switch d.state {
		case awaitingFooter:
			footerRange := Range{Start: d.fileLen - footerSize, End: d.fileLen}
			footer, ok := d.lookup(footerRange)
			if !ok {
				return needsData(footerRange), nil
			}
			if err := d.decodeFooter(footer); err != nil {
				return Result{}, err
			}
			d.state = awaitingMetadata

		case awaitingMetadata:
			data, ok := d.lookup(d.metadataRange)
			if !ok {
				return needsData(d.metadataRange), nil
			}
			if err := d.decodeMetadata(data); err != nil {
				return Result{}, err
			}
			d.state = done
			if d.pageIndex {
				indexRange, ok, err := pageIndexRange(d.locations)
				if err != nil {
					return Result{}, err
				}
				if ok {
					if indexRange.Start < magicSize || indexRange.End > d.metadataRange.Start {
						return Result{}, errors.Wrapf(ErrPageIndexRange, "page index at %s, metadata at %s", indexRange, d.metadataRange)
					}
					d.indexRange = indexRange
					d.state = awaitingIndex
				}
			}

		case awaitingIndex:
			data, ok := d.lookup(d.indexRange)
			if !ok {
				return needsData(d.indexRange), nil
			}
			if err := d.decodePageIndex(data); err != nil {
				return Result{}, err
			}
			d.state = done

		case done:
			d.state = finished
			d.pushed = nil
			d.locations = nil
			return Result{Kind: Data, Metadata: d.metadata}, nil

		default:
			return Result{Kind: Finished}, nil
		}
	}
}

func (d *MetadataDecoder) decodeFooter(footer []byte) error {
	if bytes.Equal(footer[magicSize:], encryptedMagic) {
		return ErrEncryptedFooter
	}
	if !bytes.Equal(footer[magicSize:], magic) {
		return errors.Wrapf(ErrInvalidMagic, "got %q", footer[magicSize:])
	}

	length := int64(binary.LittleEndian.Uint32(footer[:magicSize]))
	if length > d.fileLen-footerSize-magicSize {
		return errors.Wrapf(ErrMetadataLength, "metadata has %d bytes, file has %d", length, d.fileLen)
	}
	end := d.fileLen - footerSize
	d.metadataRange = Range{Start: end - length, End: end}
	return nil
}

func (d *MetadataDecoder) decodeMetadata(data []byte) error {
	if !d.statistics {
		lean, err := decodeLeanMetadata(data)
		if err != nil {
			return err
		}
		d.metadata = &FileMetadata{Lean: lean}
		d.locations = lean.indexLocations()
		return nil
	}

	md, err := metadata.NewFileMetaData(data, nil)
	if err != nil {
		return errors.Wrap(err, "decoding file metadata")
	}
	d.metadata = &FileMetadata{FileMetaData: md}
	d.locations = make([][]indexLocation, len(md.FileMetaData.RowGroups))
	for i, rowGroup := range md.FileMetaData.RowGroups {
		locations := make([]indexLocation, len(rowGroup.Columns))
		for j, chunk := range rowGroup.Columns {
			locations[j] = indexLocation{
				columnIndexOffset: chunk.ColumnIndexOffset,
				columnIndexLength: chunk.ColumnIndexLength,
				offsetIndexOffset: chunk.OffsetIndexOffset,
				offsetIndexLength: chunk.OffsetIndexLength,
			}
		}
		d.locations[i] = locations
	}
	return nil
}

func (d *MetadataDecoder) decodePageIndex(data []byte) error {
	section := func(offset *int64, length *int32) ([]byte, bool) {
		if offset == nil || length == nil {
			return nil, false
		}
		start := *offset - d.indexRange.Start
		return data[start : start+int64(*length)], true
	}

	var protocol thrift.CompactProtocol
	d.metadata.ColumnIndexes = make([][]format.ColumnIndex, len(d.locations))
	d.metadata.OffsetIndexes = make([][]format.OffsetIndex, len(d.locations))
	for i, locations := range d.locations {
		columnIndexes := make([]format.ColumnIndex, len(locations))
		offsetIndexes := make([]format.OffsetIndex, len(locations))
		for j, loc := range locations {
			if b, ok := section(loc.columnIndexOffset, loc.columnIndexLength); ok {
				if err := thrift.Unmarshal(&protocol, b, &columnIndexes[j]); err != nil {
					return errors.Wrapf(err, "decoding column index of row group %d column %d", i, j)
				}
			}
			if b, ok := section(loc.offsetIndexOffset, loc.offsetIndexLength); ok {
				if err := thrift.Unmarshal(&protocol, b, &offsetIndexes[j]); err != nil {
					return errors.Wrapf(err, "decoding offset index of row group %d column %d", i, j)
				}
			}
		}
		d.metadata.ColumnIndexes[i] = columnIndexes
		d.metadata.OffsetIndexes[i] = offsetIndexes
	}
	return nil
}

func (d *MetadataDecoder) lookup(r Range) ([]byte, bool) {
	for _, p := range d.pushed {
		if p.contains(r) {
			return p.data[r.Start-p.Start : r.End-p.Start], true
		}
	}
	return nil, false
}

// indexLocation is where the column and offset index of one column chunk are
// stored. Nil fields mean the index is absent.
type indexLocation struct {
	columnIndexOffset *int64
	columnIndexLength *int32
	offsetIndexOffset *int64
	offsetIndexLength *int32
}

// pageIndexRange returns the smallest range containing every column and
// offset index in locations.
func pageIndexRange(locations [][]indexLocation) (Range, bool, error) {
	var (
		r     Range
		found bool
	)
	extend := func(offset *int64, length *int32) error {
		if offset == nil || length == nil {
			return nil
		}
		if *offset < 0 || *length < 0 || *offset > math.MaxInt64-int64(*length) {
			return errors.Wrapf(ErrPageIndexRange, "page index at offset %d with length %d", *offset, *length)
		}
		end := *offset + int64(*length)
		if !found {
			r, found = Range{Start: *offset, End: end}, true
			return nil
		}
		if *offset < r.Start {
			r.Start = *offset
		}
		if end > r.End {
			r.End = end
		}
		return nil
	}
	for _, rowGroup := range locations {
		for _, loc := range rowGroup {
			if err := extend(loc.columnIndexOffset, loc.columnIndexLength); err != nil {
				return Range{}, false, err
			}
			if err := extend(loc.offsetIndexOffset, loc.offsetIndexLength); err != nil {
				return Range{}, false, err
			}
		}
	}
	return r, found, nil
}

func needsData(r Range) Result {
	return Result{Kind: NeedsData, Ranges: []Range{r}}
}
