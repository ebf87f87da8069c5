// Package pmtiles reads and writes single-file PMTiles v3 archives of gzipped
// MVT tiles.
//
// The header layout and Hilbert tile IDs follow github.com/protomaps/go-pmtiles
// (BSD-3-Clause). Voyage archives are small, so only a root directory is
// written.
// Format: https://github.com/protomaps/PMTiles/blob/main/spec/v3/spec.md
package pmtiles

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	headerLen = 127
	version   = 3

	// Values of the compression and tile type header bytes.
	compressionGzip = 2
	tileTypeMVT     = 1
)

var (
	// ErrNotArchive is returned when the magic number is missing.
	ErrNotArchive = errors.New("not a PMTiles archive")
	// ErrVersion is returned for archives other than v3.
	ErrVersion = errors.New("unsupported PMTiles version")
)

// Header is the fixed-size archive header.
type Header struct {
	Version        uint8
	RootOffset     uint64
	RootLength     uint64
	MetadataOffset uint64
	MetadataLength uint64
	LeafOffset     uint64
	LeafLength     uint64
	DataOffset     uint64
	DataLength     uint64
	Addressed      uint64
	Entries        uint64
	Contents       uint64
	Clustered      bool
	Compression    uint8
	TileCompress   uint8
	TileType       uint8
	MinZoom        uint8
	MaxZoom        uint8
	// Bounds and center in degrees times 1e7.
	MinLonE7, MinLatE7 int32
	MaxLonE7, MaxLatE7 int32
	CenterZoom         uint8
	CenterLonE7        int32
	CenterLatE7        int32
}

// Bytes encodes the header.
func (h Header) Bytes() []byte {
	b := make([]byte, headerLen)
	copy(b, "PMTiles")
	b[7] = version
	le := binary.LittleEndian
	for i, v := range []uint64{
		h.RootOffset, h.RootLength, h.MetadataOffset, h.MetadataLength,
		h.LeafOffset, h.LeafLength, h.DataOffset, h.DataLength,
		h.Addressed, h.Entries, h.Contents,
	} {
		le.PutUint64(b[8+8*i:], v)
	}
	if h.Clustered {
		b[96] = 1
	}
	b[97], b[98], b[99] = h.Compression, h.TileCompress, h.TileType
	b[100], b[101] = h.MinZoom, h.MaxZoom
	for i, v := range []int32{h.MinLonE7, h.MinLatE7, h.MaxLonE7, h.MaxLatE7} {
		le.PutUint32(b[102+4*i:], uint32(v))
	}
	b[118] = h.CenterZoom
	le.PutUint32(b[119:], uint32(h.CenterLonE7))
	le.PutUint32(b[123:], uint32(h.CenterLatE7))
	return b
}

// ParseHeader decodes the header at the start of b.
func ParseHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < headerLen || string(b[:7]) != "PMTiles" {
		return h, ErrNotArchive
	}
	if b[7] != version {
		return h, fmt.Errorf("%w: %d", ErrVersion, b[7])
	}
	le := binary.LittleEndian
	u := make([]uint64, 11)
	for i := range u {
		u[i] = le.Uint64(b[8+8*i:])
	}
	s := make([]int32, 4)
	for i := range s {
		s[i] = int32(le.Uint32(b[102+4*i:]))
	}
	return Header{
		Version:    b[7],
		RootOffset: u[0], RootLength: u[1],
		MetadataOffset: u[2], MetadataLength: u[3],
		LeafOffset: u[4], LeafLength: u[5],
		DataOffset: u[6], DataLength: u[7],
		Addressed: u[8], Entries: u[9], Contents: u[10],
		Clustered:    b[96] == 1,
		Compression:  b[97],
		TileCompress: b[98],
		TileType:     b[99],
		MinZoom:      b[100],
		MaxZoom:      b[101],
		MinLonE7:     s[0], MinLatE7: s[1], MaxLonE7: s[2], MaxLatE7: s[3],
		CenterZoom:  b[118],
		CenterLonE7: int32(le.Uint32(b[119:])),
		CenterLatE7: int32(le.Uint32(b[123:])),
	}, nil
}

// Info summarises an archive for listings.
type Info struct {
	Tiles   int        `json:"tiles"`
	MinZoom int        `json:"minZoom"`
	MaxZoom int        `json:"maxZoom"`
	Bounds  [4]float64 `json:"bounds"`
}

// Inspect reads the header from r.
func Inspect(r io.Reader) (Info, error) {
	b := make([]byte, headerLen)
	if _, err := io.ReadFull(r, b); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Info{}, ErrNotArchive
		}
		return Info{}, err
	}
	h, err := ParseHeader(b)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Tiles:   int(h.Entries),
		MinZoom: int(h.MinZoom),
		MaxZoom: int(h.MaxZoom),
		Bounds:  [4]float64{deg(h.MinLonE7), deg(h.MinLatE7), deg(h.MaxLonE7), deg(h.MaxLatE7)},
	}, nil
}

// InspectFile reads the header of the archive at path.
func InspectFile(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()
	info, err := Inspect(f)
	if err != nil {
		return Info{}, fmt.Errorf("%s: %w", path, err)
	}
	return info, nil
}

func deg(e7 int32) float64 {
	return float64(e7) / 1e7
}

// entry is one root directory entry.
type entry struct {
	id     uint64
	offset uint64
	length uint32
}

// ZxyToID converts (Z,X,Y) tile coordinates to a Hilbert tile ID.
func ZxyToID(z uint8, x uint32, y uint32) uint64 {
	acc := (uint64(1)<<(z*2) - 1) / 3
	n := uint32(z - 1)
	for s := uint32(1 << n); s > 0; s >>= 1 {
		rx, ry := s&x, s&y
		acc += uint64((3*rx)^ry) << n
		if ry == 0 {
			if rx != 0 {
				x, y = s-1-x, s-1-y
			}
			x, y = y, x
		}
		n--
	}
	return acc
}

// gzipped compresses b at best compression.
func gzipped(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeMetadata(meta map[string]any) ([]byte, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	return gzipped(b)
}

// encodeDirectory writes entries column by column as varints. Each entry has
// a run length of one; contiguous offsets are written as zero.
func encodeDirectory(entries []entry) ([]byte, error) {
	var b []byte
	b = binary.AppendUvarint(b, uint64(len(entries)))
	last := uint64(0)
	for _, e := range entries {
		b = binary.AppendUvarint(b, e.id-last)
		last = e.id
	}
	for range entries {
		b = binary.AppendUvarint(b, 1)
	}
	for _, e := range entries {
		b = binary.AppendUvarint(b, uint64(e.length))
	}
	for i, e := range entries {
		if i > 0 && e.offset == entries[i-1].offset+uint64(entries[i-1].length) {
			b = binary.AppendUvarint(b, 0)
		} else {
			b = binary.AppendUvarint(b, e.offset+1)
		}
	}
	return gzipped(b)
}
