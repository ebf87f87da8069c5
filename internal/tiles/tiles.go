// Package tiles renders voyage outputs into vector tiles.
//
// Voyage lines live in unwrapped longitude space and may run past ±180. Before
// tiling, each feature is also placed one world to the east or west so that
// both sides of the antimeridian receive the part of the line they show.
package tiles

import (
	"bytes"
	"fmt"
	"math"
	"path/filepath"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/simplify"

	"github.com/joeblew999/plat-voyages/internal/output"
	"github.com/joeblew999/plat-voyages/internal/pmtiles"
)

// maxLat is the Web Mercator latitude limit.
const maxLat = 85.05112878

// Config selects the layer name and zoom range.
type Config struct {
	Layer   string
	MinZoom int
	MaxZoom int
}

func (c Config) normalized() Config {
	if c.Layer == "" {
		c.Layer = "voyages"
	}
	if c.MinZoom < 0 {
		c.MinZoom = 0
	}
	if c.MaxZoom <= 0 || c.MaxZoom > 14 {
		c.MaxZoom = 14
	}
	if c.MinZoom > c.MaxZoom {
		c.MinZoom = c.MaxZoom
	}
	return c
}

// Render produces gzipped MVT tiles for every zoom in the range.
func Render(fc *geojson.FeatureCollection, cfg Config) []pmtiles.Tile {
	cfg = cfg.normalized()
	world := wrapWorlds(fc)

	var out []pmtiles.Tile
	for z := cfg.MinZoom; z <= cfg.MaxZoom; z++ {
		out = append(out, renderZoom(world, maptile.Zoom(z), cfg.Layer)...)
	}
	return out
}

// WriteFile renders fc and writes a PMTiles archive to path. It returns the
// number of tiles written.
func WriteFile(path string, fc *geojson.FeatureCollection, cfg Config) (int, error) {
	cfg = cfg.normalized()
	tiles := Render(fc, cfg)

	var buf bytes.Buffer
	err := pmtiles.WriteArchive(&buf, tiles, pmtiles.ArchiveOptions{
		MinZoom: uint8(cfg.MinZoom),
		MaxZoom: uint8(cfg.MaxZoom),
		Bounds:  clampedBounds(fc),
		Metadata: map[string]any{
			"name":    cfg.Layer,
			"format":  "pbf",
			"minzoom": cfg.MinZoom,
			"maxzoom": cfg.MaxZoom,
			"vector_layers": []map[string]any{
				{"id": cfg.Layer, "minzoom": cfg.MinZoom, "maxzoom": cfg.MaxZoom, "fields": fields(fc)},
			},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("writing tile archive %s: %w", filepath.Base(path), err)
	}
	if err := output.WriteFile(path, buf.Bytes()); err != nil {
		return 0, err
	}
	return len(tiles), nil
}

// wrapWorlds returns fc plus shifted copies of the features that reach past
// the antimeridian.
func wrapWorlds(fc *geojson.FeatureCollection) []*geojson.Feature {
	var out []*geojson.Feature
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		out = append(out, f)
		b := f.Geometry.Bound()
		if b.Max[0] > 180 {
			out = append(out, shifted(f, -360))
		}
		if b.Min[0] < -180 {
			out = append(out, shifted(f, 360))
		}
	}
	return out
}

func shifted(f *geojson.Feature, dx float64) *geojson.Feature {
	g := cloneGeometry(f.Geometry)
	switch g := g.(type) {
	case orb.Point:
		g[0] += dx
		return withProps(g, f)
	case orb.LineString:
		for i := range g {
			g[i][0] += dx
		}
	case orb.MultiLineString:
		for _, ls := range g {
			for i := range ls {
				ls[i][0] += dx
			}
		}
	}
	return withProps(g, f)
}

func withProps(g orb.Geometry, src *geojson.Feature) *geojson.Feature {
	f := geojson.NewFeature(g)
	for k, v := range src.Properties {
		f.Properties[k] = v
	}
	return f
}

func renderZoom(features []*geojson.Feature, z maptile.Zoom, layer string) []pmtiles.Tile {
	byTile := make(map[maptile.Tile][]*geojson.Feature)
	for _, f := range features {
		for _, t := range tilesInBounds(f.Geometry.Bound(), z) {
			byTile[t] = append(byTile[t], f)
		}
	}

	keys := make([]maptile.Tile, 0, len(byTile))
	for t := range byTile {
		keys = append(keys, t)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].X != keys[j].X {
			return keys[i].X < keys[j].X
		}
		return keys[i].Y < keys[j].Y
	})

	var out []pmtiles.Tile
	for _, t := range keys {
		data := encodeTile(t, byTile[t], layer)
		if data == nil {
			continue
		}
		out = append(out, pmtiles.Tile{Z: uint8(t.Z), X: t.X, Y: t.Y, Data: data})
	}
	return out
}

// encodeTile clips, projects and encodes the features touching t. It returns
// nil when nothing survives clipping.
func encodeTile(t maptile.Tile, features []*geojson.Feature, layer string) []byte {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		// Clip and ProjectToTile mutate geometry in place.
		fc.Append(withProps(cloneGeometry(f.Geometry), f))
	}

	l := mvt.NewLayer(layer, fc)
	if eps := simplifyEpsilon(t.Z); eps > 0 {
		l.Simplify(simplify.DouglasPeucker(eps))
	}
	l.Clip(t.Bound())
	l.ProjectToTile(t)
	l.RemoveEmpty(0.5, 0.5)
	if len(l.Features) == 0 {
		return nil
	}

	data, err := mvt.MarshalGzipped(mvt.Layers{l})
	if err != nil {
		return nil
	}
	return data
}

// tilesInBounds lists the tiles at zoom z covering b, clamped to one world.
func tilesInBounds(b orb.Bound, z maptile.Zoom) []maptile.Tile {
	minLon := math.Max(b.Min[0], -180)
	maxLon := math.Min(b.Max[0], 180-1e-9)
	if minLon > maxLon {
		return nil
	}
	minLat := math.Max(b.Min[1], -maxLat)
	maxLatB := math.Min(b.Max[1], maxLat)

	lo := maptile.At(orb.Point{minLon, maxLatB}, z)
	hi := maptile.At(orb.Point{maxLon, minLat}, z)

	var out []maptile.Tile
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			out = append(out, maptile.New(x, y, z))
		}
	}
	return out
}

// simplifyEpsilon returns the Douglas-Peucker tolerance, in degrees, for a
// zoom level. Voyage lines span oceans, so low zooms can drop a lot.
func simplifyEpsilon(z maptile.Zoom) float64 {
	switch {
	case z >= 10:
		return 0
	case z >= 6:
		return 0.01
	case z >= 3:
		return 0.05
	default:
		return 0.2
	}
}

func clampedBounds(fc *geojson.FeatureCollection) [4]float64 {
	var b orb.Bound
	first := true
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		if first {
			b = f.Geometry.Bound()
			first = false
			continue
		}
		b = b.Union(f.Geometry.Bound())
	}
	if first {
		return [4]float64{-180, -maxLat, 180, maxLat}
	}
	return [4]float64{
		math.Max(b.Min[0], -180), math.Max(b.Min[1], -maxLat),
		math.Min(b.Max[0], 180), math.Min(b.Max[1], maxLat),
	}
}

// fields lists the property names and their MVT value kinds for the
// metadata's vector_layers entry.
func fields(fc *geojson.FeatureCollection) map[string]string {
	out := make(map[string]string)
	for _, f := range fc.Features {
		for k, v := range f.Properties {
			switch v.(type) {
			case float64, int:
				out[k] = "Number"
			case bool:
				out[k] = "Boolean"
			default:
				out[k] = "String"
			}
		}
	}
	return out
}

func cloneGeometry(g orb.Geometry) orb.Geometry {
	switch g := g.(type) {
	case orb.Point:
		return g
	case orb.MultiPoint:
		return append(orb.MultiPoint(nil), g...)
	case orb.LineString:
		return append(orb.LineString(nil), g...)
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(g))
		for i, ls := range g {
			out[i] = append(orb.LineString(nil), ls...)
		}
		return out
	case orb.Polygon:
		out := make(orb.Polygon, len(g))
		for i, r := range g {
			out[i] = append(orb.Ring(nil), r...)
		}
		return out
	default:
		return orb.Clone(g)
	}
}
