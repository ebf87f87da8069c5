package routing

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-voyages/internal/geom"
)

func square(minLon, minLat, maxLon, maxLat float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{minLon, minLat}, {maxLon, minLat}, {maxLon, maxLat}, {minLon, maxLat}, {minLon, minLat},
	}}
}

func testOptions() Options {
	return Options{Resolution: 1, Margin: 10, MaxNodes: 100_000, Escape: 2}
}

func TestObstaclesContains(t *testing.T) {
	o := NewObstacles([]orb.Polygon{
		square(-5, -5, 5, 5),
		square(-180, -5, -175, 5),
		{},
	})
	if o.Len() != 2 {
		t.Fatalf("Len=%d, want 2", o.Len())
	}

	tests := []struct {
		p    orb.Point
		want bool
	}{
		{orb.Point{0, 0}, true},
		{orb.Point{10, 0}, false},
		{orb.Point{-178, 0}, true},
		{orb.Point{182, 0}, true}, // unwrapped form of -178
		{orb.Point{-178, 10}, false},
	}
	for _, tt := range tests {
		if got := o.Contains(tt.p); got != tt.want {
			t.Errorf("Contains(%v)=%v, want %v", tt.p, got, tt.want)
		}
	}
}

func TestRouteClearWater(t *testing.T) {
	r := NewRouter(NewObstacles([]orb.Polygon{square(50, 50, 60, 60)}), testOptions())
	path, err := r.Route(orb.Point{-10, 0}, orb.Point{10, 0})
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 2 {
		t.Fatalf("open water should route straight, got %v", path)
	}
}

func TestRouteAroundLand(t *testing.T) {
	land := NewObstacles([]orb.Polygon{square(-5, -5, 5, 5)})
	r := NewRouter(land, testOptions())

	from, to := orb.Point{-10, 0}, orb.Point{10, 0}
	path, err := r.Route(from, to)
	if err != nil {
		t.Fatal(err)
	}
	if path[0] != from || path[len(path)-1] != to {
		t.Fatalf("endpoints=%v..%v, want %v..%v", path[0], path[len(path)-1], from, to)
	}
	detour := false
	for _, p := range path {
		if land.Contains(p) {
			t.Fatalf("path point %v is on land", p)
		}
		if math.Abs(p[1]) >= 5 {
			detour = true
		}
	}
	if len(path) <= 2 || !detour {
		t.Fatalf("path does not go around the obstacle: %v", path)
	}
}

// assertOffLand samples every segment of path densely and fails on any
// sample that is on land outside the escape radius around the endpoints.
func assertOffLand(t *testing.T, land *Obstacles, path orb.LineString, opts Options) {
	t.Helper()
	from, to := path[0], path[len(path)-1]
	escape := float64(opts.Escape) * opts.Resolution
	for i := 1; i < len(path); i++ {
		a, b := path[i-1], path[i]
		for k := 0; k <= 200; k++ {
			f := float64(k) / 200
			p := orb.Point{a[0] + f*(b[0]-a[0]), a[1] + f*(b[1]-a[1])}
			if planarDist(p, from) <= escape || planarDist(p, to) <= escape {
				continue
			}
			if land.Contains(p) {
				t.Fatalf("segment %v->%v crosses land at %v (path %v)", a, b, p, path)
			}
		}
	}
}

func TestRouteAroundTriangle(t *testing.T) {
	land := NewObstacles([]orb.Polygon{{orb.Ring{{-6, -6}, {6, -6}, {0, 9}, {-6, -6}}}})
	from, to := orb.Point{-14, -3.3}, orb.Point{14, 2.31}

	simplified := DefaultOptions()
	unsimplified := DefaultOptions()
	unsimplified.Simplify = 0

	for name, opts := range map[string]Options{"simplified": simplified, "unsimplified": unsimplified} {
		t.Run(name, func(t *testing.T) {
			path, err := NewRouter(land, opts).Route(from, to)
			if err != nil {
				t.Fatal(err)
			}
			if path[0] != from || path[len(path)-1] != to {
				t.Fatalf("endpoints=%v..%v, want %v..%v", path[0], path[len(path)-1], from, to)
			}
			if len(path) <= 2 {
				t.Fatalf("path should bend around the triangle: %v", path)
			}
			assertOffLand(t, land, path, opts)
		})
	}
}

func TestRouteDiagonalCorner(t *testing.T) {
	// Grid diagonals near the square's corners must not clip them.
	land := NewObstacles([]orb.Polygon{square(-4.5, -4.5, 4.5, 4.5)})
	opts := testOptions()
	path, err := NewRouter(land, opts).Route(orb.Point{-12, -7.2}, orb.Point{12, 7.2})
	if err != nil {
		t.Fatal(err)
	}
	assertOffLand(t, land, path, opts)
}

func TestObstaclesCrosses(t *testing.T) {
	o := NewObstacles([]orb.Polygon{
		{orb.Ring{{-6, -6}, {6, -6}, {0, 9}, {-6, -6}}},
		square(176, -5, 180, 5),
	})

	tests := []struct {
		name string
		a, b orb.Point
		want bool
	}{
		{"open water", orb.Point{-14, -8}, orb.Point{14, -8}, false},
		{"through body", orb.Point{-14, 0}, orb.Point{14, 0}, true},
		{"clips corner", orb.Point{5, -6.3}, orb.Point{6.5, -5.3}, true},
		{"passes corner", orb.Point{5, -6.3}, orb.Point{7, -6.3}, false},
		{"inside", orb.Point{-1, -1}, orb.Point{1, 1}, true},
		{"unwrapped east", orb.Point{170, 0}, orb.Point{190, 0}, true},
		{"unwrapped copy", orb.Point{-190, 0}, orb.Point{-170, 0}, true},
		{"unwrapped clear", orb.Point{170, 10}, orb.Point{190, 10}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := o.Crosses(tt.a, tt.b); got != tt.want {
				t.Errorf("Crosses(%v, %v)=%v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestRouteDeterministic(t *testing.T) {
	land := NewObstacles([]orb.Polygon{square(-5, -5, 5, 5)})
	opts := testOptions()
	opts.Simplify = 0.5

	a, err := NewRouter(land, opts).Route(orb.Point{-10, 0}, orb.Point{10, 0})
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewRouter(land, opts).Route(orb.Point{-10, 0}, orb.Point{10, 0})
	if err != nil {
		t.Fatal(err)
	}
	if !orb.Equal(a, b) {
		t.Fatalf("routes differ:\n%v\n%v", a, b)
	}
}

func TestRouteAcrossAntimeridian(t *testing.T) {
	land := NewObstacles([]orb.Polygon{
		square(176, -4, 180, 4),
		square(-180, -4, -176, 4),
	})
	r := NewRouter(land, testOptions())

	path, err := r.Route(orb.Point{170, 0}, orb.Point{-170, 0})
	if err != nil {
		t.Fatal(err)
	}
	if last := path[len(path)-1]; last != (orb.Point{190, 0}) {
		t.Fatalf("last=%v, want unwrapped (190, 0)", last)
	}
	if d := geom.MaxLonDelta(path); d > 180 {
		t.Fatalf("MaxLonDelta=%v", d)
	}
	for _, p := range path {
		if land.Contains(p) {
			t.Fatalf("path point %v is on land", p)
		}
	}
}

func TestRouteNoPath(t *testing.T) {
	// Goal deep inland, beyond the escape radius.
	r := NewRouter(NewObstacles([]orb.Polygon{square(-8, -8, 8, 8)}), testOptions())
	_, err := r.Route(orb.Point{-15, 0}, orb.Point{0, 0})
	if !errors.Is(err, ErrNoPath) {
		t.Fatalf("err=%v, want ErrNoPath", err)
	}
}

func TestRouteDegenerate(t *testing.T) {
	r := NewRouter(NewObstacles(nil), testOptions())

	if _, err := r.Route(orb.Point{1, 1}, orb.Point{1, 1}); !errors.Is(err, ErrDegenerate) {
		t.Fatalf("identical endpoints: err=%v, want ErrDegenerate", err)
	}
	if _, err := r.Route(orb.Point{math.NaN(), 0}, orb.Point{1, 1}); !errors.Is(err, ErrDegenerate) {
		t.Fatalf("NaN: err=%v, want ErrDegenerate", err)
	}
	if _, err := r.Route(orb.Point{0, 95}, orb.Point{1, 1}); !errors.Is(err, ErrDegenerate) {
		t.Fatalf("latitude out of range: err=%v, want ErrDegenerate", err)
	}
}

func TestLoadObstaclesGeoJSON(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(square(0, 0, 1, 1)))
	fc.Append(geojson.NewFeature(orb.MultiPolygon{square(2, 2, 3, 3), square(4, 4, 5, 5)}))
	fc.Append(geojson.NewFeature(orb.Point{9, 9}))
	data, err := fc.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "land.geojson")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	o, err := LoadObstacles(path)
	if err != nil {
		t.Fatal(err)
	}
	if o.Len() != 3 {
		t.Fatalf("Len=%d, want 3", o.Len())
	}
	if !o.Contains(orb.Point{4.5, 4.5}) {
		t.Fatal("multipolygon member not indexed")
	}
}

func TestLoadObstaclesErrors(t *testing.T) {
	if _, err := LoadObstacles("land.kml"); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
	if _, err := LoadObstacles(filepath.Join(t.TempDir(), "missing.geojson")); err == nil {
		t.Fatal("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "empty.geojson")
	os.WriteFile(path, []byte(`{"type":"FeatureCollection","features":[]}`), 0644)
	if _, err := LoadObstacles(path); err == nil {
		t.Fatal("expected error for file without polygons")
	}
}
