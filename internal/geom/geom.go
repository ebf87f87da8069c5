// Package geom holds the longitude handling shared by the voyage builder,
// the router and the tiler.
//
// Voyage lines are kept in "unwrapped" longitude space: every point is moved by
// a multiple of 360 degrees so that it lies within 180 degrees of the point
// before it. A line crossing the antimeridian therefore continues past ±180
// instead of jumping across the map, which map renderers draw as a continuous
// line.
package geom

import (
	"errors"
	"math"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
)

// ErrAntipodal is returned when a great circle between two points is not
// unique.
var ErrAntipodal = errors.New("antipodal points have no unique great circle")

// Unwrap moves p's longitude by whole turns so that it is within 180 degrees
// of ref. A difference of exactly 180 degrees is left alone.
func Unwrap(ref, p orb.Point) orb.Point {
	d := p[0] - ref[0]
	if d > 180 || d < -180 {
		p[0] -= 360 * math.Round(d/360)
	}
	return p
}

// UnwrapLine returns a copy of ls in which no two consecutive points differ
// in longitude by more than 180 degrees. The first point is kept as is.
func UnwrapLine(ls orb.LineString) orb.LineString {
	out := make(orb.LineString, len(ls))
	for i, p := range ls {
		if i == 0 {
			out[i] = p
			continue
		}
		out[i] = Unwrap(out[i-1], p)
	}
	return out
}

// WrapLon maps a longitude into [-180, 180).
func WrapLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

// MaxLonDelta returns the largest absolute longitude difference between
// consecutive points.
func MaxLonDelta(ls orb.LineString) float64 {
	max := 0.0
	for i := 1; i < len(ls); i++ {
		if d := math.Abs(ls[i][0] - ls[i-1][0]); d > max {
			max = d
		}
	}
	return max
}

// GreatCircle interpolates n points (endpoints included) along the great
// circle from a to b. The result starts exactly at a, ends at b unwrapped
// against its predecessor, and is itself unwrapped.
func GreatCircle(a, b orb.Point, n int) (orb.LineString, error) {
	b = Unwrap(a, b)
	if n <= 2 {
		return orb.LineString{a, b}, nil
	}

	pa := s2.PointFromLatLng(s2.LatLngFromDegrees(a[1], a[0]))
	pb := s2.PointFromLatLng(s2.LatLngFromDegrees(b[1], b[0]))

	angle := pa.Distance(pb).Radians()
	if angle < 1e-12 {
		return orb.LineString{a, b}, nil
	}
	if math.Pi-angle < 1e-9 {
		return nil, ErrAntipodal
	}

	ls := make(orb.LineString, n)
	ls[0] = a
	for i := 1; i < n-1; i++ {
		t := float64(i) / float64(n-1)
		ll := s2.LatLngFromPoint(s2.Interpolate(t, pa, pb))
		ls[i] = Unwrap(ls[i-1], orb.Point{ll.Lng.Degrees(), ll.Lat.Degrees()})
	}
	ls[n-1] = Unwrap(ls[n-2], b)
	return ls, nil
}
