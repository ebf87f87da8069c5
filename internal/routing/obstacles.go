package routing

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhconnelly/rtreego"
	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/joeblew999/plat-voyages/internal/geom"
)

// Obstacles is a read-only set of land polygons with an R-tree over their
// bounding boxes.
type Obstacles struct {
	polys []orb.Polygon
	tree  *rtreego.Rtree
}

// indexedPolygon wraps a polygon for R-tree storage.
type indexedPolygon struct {
	poly orb.Polygon
	rect rtreego.Rect
}

// Bounds implements rtreego.Spatial.
func (p *indexedPolygon) Bounds() rtreego.Rect {
	return p.rect
}

// NewObstacles indexes the given polygons. Empty polygons are ignored.
func NewObstacles(polys []orb.Polygon) *Obstacles {
	o := &Obstacles{tree: rtreego.NewTree(2, 25, 50)}
	for _, poly := range polys {
		if len(poly) == 0 || len(poly[0]) < 3 {
			continue
		}
		o.polys = append(o.polys, poly)
		o.tree.Insert(&indexedPolygon{poly: poly, rect: boundRect(poly.Bound())})
	}
	return o
}

// LoadObstacles reads land polygons from a GeoJSON or shapefile.
func LoadObstacles(path string) (*Obstacles, error) {
	var (
		polys []orb.Polygon
		err   error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		polys, err = readGeoJSON(path)
	case ".shp":
		polys, err = readShapefile(path)
	default:
		return nil, fmt.Errorf("unsupported obstacle file type: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	if len(polys) == 0 {
		return nil, fmt.Errorf("no polygons found in %s", path)
	}
	return NewObstacles(polys), nil
}

// Len returns the number of indexed polygons.
func (o *Obstacles) Len() int {
	return len(o.polys)
}

// Contains reports whether p lies on land. p may be in unwrapped longitude
// space.
func (o *Obstacles) Contains(p orb.Point) bool {
	p = orb.Point{geom.WrapLon(p[0]), p[1]}
	rect, _ := rtreego.NewRect(rtreego.Point{p[0], p[1]}, []float64{1e-9, 1e-9})
	for _, s := range o.tree.SearchIntersect(rect) {
		if planar.PolygonContains(s.(*indexedPolygon).poly, p) {
			return true
		}
	}
	return false
}

// Crosses reports whether the straight segment ab touches land. a and b may
// be in unwrapped longitude space.
func (o *Obstacles) Crosses(a, b orb.Point) bool {
	shift := a[0] - geom.WrapLon(a[0])
	a = orb.Point{a[0] - shift, a[1]}
	b = orb.Point{b[0] - shift, b[1]}
	if o.crosses(a, b) {
		return true
	}
	switch {
	case b[0] > 180:
		return o.crosses(orb.Point{a[0] - 360, a[1]}, orb.Point{b[0] - 360, b[1]})
	case b[0] < -180:
		return o.crosses(orb.Point{a[0] + 360, a[1]}, orb.Point{b[0] + 360, b[1]})
	}
	return false
}

func (o *Obstacles) crosses(a, b orb.Point) bool {
	mid := orb.Point{(a[0] + b[0]) / 2, (a[1] + b[1]) / 2}
	for _, s := range o.tree.SearchIntersect(boundRect(orb.MultiPoint{a, b}.Bound())) {
		poly := s.(*indexedPolygon).poly
		if planar.PolygonContains(poly, a) || planar.PolygonContains(poly, b) || planar.PolygonContains(poly, mid) {
			return true
		}
		for _, ring := range poly {
			for i := 1; i < len(ring); i++ {
				if segmentsIntersect(a, b, ring[i-1], ring[i]) {
					return true
				}
			}
		}
	}
	return false
}

// segmentsIntersect reports whether segments pq and rs share a point.
func segmentsIntersect(p, q, r, s orb.Point) bool {
	d1 := orientation(r, s, p)
	d2 := orientation(r, s, q)
	d3 := orientation(p, q, r)
	d4 := orientation(p, q, s)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return (d1 == 0 && onSegment(r, s, p)) || (d2 == 0 && onSegment(r, s, q)) ||
		(d3 == 0 && onSegment(p, q, r)) || (d4 == 0 && onSegment(p, q, s))
}

func orientation(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

// onSegment reports whether c, collinear with ab, lies within its bounds.
func onSegment(a, b, c orb.Point) bool {
	return math.Min(a[0], b[0]) <= c[0] && c[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= c[1] && c[1] <= math.Max(a[1], b[1])
}

func boundRect(b orb.Bound) rtreego.Rect {
	// R-tree requires non-zero dimensions
	const epsilon = 1e-9
	lengths := []float64{
		b.Max[0] - b.Min[0] + epsilon,
		b.Max[1] - b.Min[1] + epsilon,
	}
	rect, _ := rtreego.NewRect(rtreego.Point{b.Min[0], b.Min[1]}, lengths)
	return rect
}

func readGeoJSON(path string) ([]orb.Polygon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading obstacles: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing obstacles: %w", err)
	}

	var polys []orb.Polygon
	for _, f := range fc.Features {
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			polys = append(polys, g)
		case orb.MultiPolygon:
			polys = append(polys, g...)
		}
	}
	return polys, nil
}

// readShapefile treats every ring of every polygon record as land. Lakes
// stored as holes therefore count as land too, which only makes routing
// more conservative.
func readShapefile(path string) ([]orb.Polygon, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open obstacle shapefile: %w", err)
	}
	defer r.Close()

	var polys []orb.Polygon
	for r.Next() {
		_, shape := r.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			continue // Skip points and polylines
		}
		for i := range poly.Parts {
			start := int(poly.Parts[i])
			end := len(poly.Points)
			if i+1 < len(poly.Parts) {
				end = int(poly.Parts[i+1])
			}
			ring := make(orb.Ring, 0, end-start)
			for _, pt := range poly.Points[start:end] {
				ring = append(ring, orb.Point{pt.X, pt.Y})
			}
			polys = append(polys, orb.Polygon{ring})
		}
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("reading obstacle shapefile: %w", err)
	}
	return polys, nil
}
