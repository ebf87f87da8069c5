package pmtiles

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
)

// Tile is one gzipped MVT tile.
type Tile struct {
	Z    uint8
	X, Y uint32
	Data []byte
}

// ArchiveOptions describe the archive header and metadata.
type ArchiveOptions struct {
	MinZoom, MaxZoom uint8
	// Bounds in degrees: min lon, min lat, max lon, max lat.
	Bounds   [4]float64
	Metadata map[string]any
}

// ErrEmpty is returned when there are no tiles to write.
var ErrEmpty = errors.New("no tiles to write")

// WriteArchive writes tiles as a clustered archive with a single root
// directory. Identical tile payloads are stored once.
func WriteArchive(w io.Writer, tiles []Tile, opts ArchiveOptions) error {
	if len(tiles) == 0 {
		return ErrEmpty
	}

	type keyed struct {
		id   uint64
		data []byte
	}
	sorted := make([]keyed, len(tiles))
	for i, t := range tiles {
		sorted[i] = keyed{id: ZxyToID(t.Z, t.X, t.Y), data: t.Data}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].id < sorted[j].id })

	var (
		entries []entry
		body    bytes.Buffer
		offsets = make(map[string]uint64)
	)
	for _, t := range sorted {
		off, seen := offsets[string(t.data)]
		if !seen {
			off = uint64(body.Len())
			offsets[string(t.data)] = off
			body.Write(t.data)
		}
		entries = append(entries, entry{id: t.id, offset: off, length: uint32(len(t.data))})
	}

	meta, err := encodeMetadata(opts.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	root, err := encodeDirectory(entries)
	if err != nil {
		return fmt.Errorf("encoding directory: %w", err)
	}

	h := Header{
		Version:      version,
		RootOffset:   headerLen,
		RootLength:   uint64(len(root)),
		Addressed:    uint64(len(entries)),
		Entries:      uint64(len(entries)),
		Contents:     uint64(len(offsets)),
		Clustered:    true,
		Compression:  compressionGzip,
		TileCompress: compressionGzip,
		TileType:     tileTypeMVT,
		MinZoom:      opts.MinZoom,
		MaxZoom:      opts.MaxZoom,
		MinLonE7:     e7(opts.Bounds[0]),
		MinLatE7:     e7(opts.Bounds[1]),
		MaxLonE7:     e7(opts.Bounds[2]),
		MaxLatE7:     e7(opts.Bounds[3]),
		CenterZoom:   opts.MinZoom,
		CenterLonE7:  e7((opts.Bounds[0] + opts.Bounds[2]) / 2),
		CenterLatE7:  e7((opts.Bounds[1] + opts.Bounds[3]) / 2),
	}
	h.MetadataOffset = h.RootOffset + h.RootLength
	h.MetadataLength = uint64(len(meta))
	h.DataOffset = h.MetadataOffset + h.MetadataLength
	h.DataLength = uint64(body.Len())

	for _, part := range [][]byte{h.Bytes(), root, meta, body.Bytes()} {
		if _, err := w.Write(part); err != nil {
			return err
		}
	}
	return nil
}

func e7(deg float64) int32 {
	return int32(math.Round(deg * 1e7))
}
