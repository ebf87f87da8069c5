package pmtiles

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestZxyToID(t *testing.T) {
	tests := []struct {
		z    uint8
		x, y uint32
		want uint64
	}{
		{0, 0, 0, 0},
		{1, 0, 0, 1},
		{1, 0, 1, 2},
		{1, 1, 1, 3},
		{1, 1, 0, 4},
		{2, 0, 0, 5},
	}
	for _, tt := range tests {
		if got := ZxyToID(tt.z, tt.x, tt.y); got != tt.want {
			t.Errorf("ZxyToID(%d,%d,%d)=%d, want %d", tt.z, tt.x, tt.y, got, tt.want)
		}
	}
}

func TestWriteArchive(t *testing.T) {
	tiles := []Tile{
		{Z: 1, X: 1, Y: 0, Data: []byte("bbb")},
		{Z: 0, X: 0, Y: 0, Data: []byte("aaaa")},
		{Z: 1, X: 0, Y: 0, Data: []byte("aaaa")},
	}

	var buf bytes.Buffer
	err := WriteArchive(&buf, tiles, ArchiveOptions{
		MinZoom:  0,
		MaxZoom:  1,
		Bounds:   [4]float64{-10, -5, 190, 5},
		Metadata: map[string]any{"name": "tripArcs"},
	})
	if err != nil {
		t.Fatal(err)
	}

	h, err := ParseHeader(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if h.Entries != 3 || h.Contents != 2 {
		t.Fatalf("entries=%d contents=%d, want 3 and 2", h.Entries, h.Contents)
	}
	if h.DataLength != 7 {
		t.Fatalf("tile data length=%d, want 7 (duplicates stored once)", h.DataLength)
	}
	if h.DataOffset+h.DataLength != uint64(buf.Len()) {
		t.Fatalf("tile data does not end the archive: offset=%d len=%d size=%d", h.DataOffset, h.DataLength, buf.Len())
	}
	if h.MaxLonE7 != 1_900_000_000 || h.MinLatE7 != -50_000_000 {
		t.Fatalf("bounds=%d..%d", h.MinLatE7, h.MaxLonE7)
	}
	if h.TileType != tileTypeMVT || !h.Clustered {
		t.Fatalf("header=%+v", h)
	}
}

func TestWriteArchiveEmpty(t *testing.T) {
	if err := WriteArchive(&bytes.Buffer{}, nil, ArchiveOptions{}); !errors.Is(err, ErrEmpty) {
		t.Fatalf("err=%v, want ErrEmpty", err)
	}
}

func TestInspect(t *testing.T) {
	var buf bytes.Buffer
	tiles := []Tile{{Z: 0, Data: []byte("a")}, {Z: 1, X: 1, Y: 1, Data: []byte("b")}}
	if err := WriteArchive(&buf, tiles, ArchiveOptions{MaxZoom: 1, Bounds: [4]float64{-20, -10, 200, 10}}); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "ports.pmtiles")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	info, err := InspectFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := Info{Tiles: 2, MinZoom: 0, MaxZoom: 1, Bounds: [4]float64{-20, -10, 200, 10}}
	if info != want {
		t.Fatalf("info=%+v, want %+v", info, want)
	}
}

func TestInspectRejects(t *testing.T) {
	v2 := Header{}.Bytes()
	v2[7] = 2

	tests := map[string]struct {
		data []byte
		want error
	}{
		"short":   {[]byte("PMTiles"), ErrNotArchive},
		"geojson": {bytes.Repeat([]byte("{}"), 100), ErrNotArchive},
		"v2":      {v2, ErrVersion},
	}
	for name, tt := range tests {
		if _, err := Inspect(bytes.NewReader(tt.data)); !errors.Is(err, tt.want) {
			t.Errorf("%s: err=%v, want %v", name, err, tt.want)
		}
	}
}
