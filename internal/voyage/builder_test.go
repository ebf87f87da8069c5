package voyage

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-voyages/internal/geom"
	"github.com/joeblew999/plat-voyages/internal/ports"
	"github.com/joeblew999/plat-voyages/internal/routing"
	"github.com/joeblew999/plat-voyages/internal/source"
)

func testIndex(t *testing.T) *ports.Index {
	t.Helper()
	return ports.Build([]source.PortRecord{
		{City: "X", Coordinate: orb.Point{0, 0}, HasCoordinate: true},
		{City: "Y", Coordinate: orb.Point{10, 0}, HasCoordinate: true},
		{City: "Z", Coordinate: orb.Point{170, 0}, HasCoordinate: true},
		{City: "W", Coordinate: orb.Point{-175, 0}, HasCoordinate: true},
	}, nil)
}

func scenarioLegs() []source.TripLegRecord {
	return []source.TripLegRecord{
		{Year: "1935", Trip: "1", Ship: "A", PortCity: "X", Departure: "1935-01-02"},
		{PortCity: "Y", Arrival: "1935-01-09"},
		{Year: "1936", Trip: "2", Ship: "B", PortCity: "Z", Departure: "1936-03-01"},
		{PortCity: "W", Arrival: "1936-03-20"},
	}
}

type countingMetrics struct {
	resolved, unresolved, fallbacks, routed int
	emitted                                 map[string]int
}

func (m *countingMetrics) LegResolved()   { m.resolved++ }
func (m *countingMetrics) LegUnresolved() { m.unresolved++ }
func (m *countingMetrics) FeatureEmitted(kind string) {
	if m.emitted == nil {
		m.emitted = map[string]int{}
	}
	m.emitted[kind]++
}
func (m *countingMetrics) RoutingSucceeded() { m.routed++ }
func (m *countingMetrics) RoutingFallback()  { m.fallbacks++ }

func line(t *testing.T, f *geojson.Feature) orb.LineString {
	t.Helper()
	ls, ok := f.Geometry.(orb.LineString)
	if !ok {
		t.Fatalf("geometry is %T, want LineString", f.Geometry)
	}
	return ls
}

func checkInvariants(t *testing.T, fc *geojson.FeatureCollection) {
	t.Helper()
	for i, f := range fc.Features {
		ls := line(t, f)
		if len(ls) < 2 {
			t.Errorf("feature %d has %d coordinates", i, len(ls))
		}
		if d := geom.MaxLonDelta(ls); d > 180 {
			t.Errorf("feature %d: longitude delta %v exceeds 180", i, d)
		}
	}
}

func TestVoyagesScenario(t *testing.T) {
	m := &countingMetrics{}
	fc := NewBuilder(testIndex(t), WithMetrics(m)).Voyages(scenarioLegs())

	if len(fc.Features) != 2 {
		t.Fatalf("got %d features, want 2", len(fc.Features))
	}
	checkInvariants(t, fc)

	want := []struct {
		line             orb.LineString
		year, trip, ship string
		from, to         string
	}{
		{orb.LineString{{0, 0}, {10, 0}}, "1935", "1", "A", "X", "Y"},
		{orb.LineString{{170, 0}, {185, 0}}, "1936", "2", "B", "Z", "W"},
	}
	for i, w := range want {
		f := fc.Features[i]
		if got := line(t, f); !orb.Equal(got, w.line) {
			t.Errorf("feature %d line=%v, want %v", i, got, w.line)
		}
		props := f.Properties
		if props["year"] != w.year || props["trip"] != w.trip || props["ship"] != w.ship {
			t.Errorf("feature %d meta=%v", i, props)
		}
		if props["from"] != w.from || props["to"] != w.to {
			t.Errorf("feature %d from/to=%v/%v", i, props["from"], props["to"])
		}
		if props["ports"] != 2 {
			t.Errorf("feature %d ports=%v, want 2", i, props["ports"])
		}
	}
	if fc.Features[1].Properties["departure"] != "1936-03-01" || fc.Features[1].Properties["arrival"] != "1936-03-20" {
		t.Errorf("voyage dates=%v", fc.Features[1].Properties)
	}
	if m.resolved != 4 || m.emitted["voyage"] != 2 {
		t.Errorf("metrics=%+v", m)
	}
}

func TestVoyagesUnknownPort(t *testing.T) {
	var buf bytes.Buffer
	m := &countingMetrics{}
	b := NewBuilder(testIndex(t), WithLogger(log.New(&buf, "", 0)), WithMetrics(m))

	legs := []source.TripLegRecord{
		{Year: "1935", Trip: "1", Ship: "A", PortCity: "X"},
		{PortCity: "Unknown Port"},
		{PortCity: "Y"},
	}
	fc := b.Voyages(legs)
	if len(fc.Features) != 1 {
		t.Fatalf("got %d features, want 1", len(fc.Features))
	}
	if got := line(t, fc.Features[0]); !orb.Equal(got, orb.LineString{{0, 0}, {10, 0}}) {
		t.Fatalf("line=%v", got)
	}
	if !strings.Contains(buf.String(), `unknown port "Unknown Port"`) {
		t.Fatalf("missing warning, log=%q", buf.String())
	}
	if m.unresolved != 1 {
		t.Fatalf("unresolved=%d, want 1", m.unresolved)
	}
}

func TestVoyagesRepeatedPort(t *testing.T) {
	legs := []source.TripLegRecord{
		{Year: "1935", PortCity: "X"},
		{PortCity: "X"},
		{PortCity: "Y"},
		{PortCity: "Y"},
		{PortCity: "X"},
	}
	fc := NewBuilder(testIndex(t)).Voyages(legs)
	if len(fc.Features) != 1 {
		t.Fatalf("got %d features, want 1", len(fc.Features))
	}
	want := orb.LineString{{0, 0}, {10, 0}, {0, 0}}
	if got := line(t, fc.Features[0]); !orb.Equal(got, want) {
		t.Fatalf("line=%v, want %v", got, want)
	}
	if fc.Features[0].Properties["ports"] != 3 {
		t.Fatalf("ports=%v, want 3", fc.Features[0].Properties["ports"])
	}
}

func TestVoyagesDropsSinglePortVoyages(t *testing.T) {
	legs := []source.TripLegRecord{
		{Year: "1934", Trip: "0", PortCity: "X"},
		{Year: "1935", Trip: "1", PortCity: "Y"},
		{PortCity: "Y"},
		{Year: "1936", Trip: "2", PortCity: "Z"},
		{PortCity: "W"},
	}
	fc := NewBuilder(testIndex(t)).Voyages(legs)
	if len(fc.Features) != 1 {
		t.Fatalf("got %d features, want 1", len(fc.Features))
	}
	if fc.Features[0].Properties["trip"] != "2" {
		t.Fatalf("kept voyage=%v", fc.Features[0].Properties)
	}
	checkInvariants(t, fc)
}

func TestVoyagesIdentityBoundary(t *testing.T) {
	legs := []source.TripLegRecord{
		{Year: "1935-36", Trip: "1", Ship: "A", PortCity: "X"},
		{Year: "1935-36", Trip: "1", Ship: "A", PortCity: "Y"},
		{Trip: "2", Ship: "A", PortCity: "Z"},
		{Trip: "2", Ship: "A", PortCity: "W"},
	}

	byYear := NewBuilder(testIndex(t)).Voyages(legs)
	if len(byYear.Features) != 1 {
		t.Fatalf("year boundary: got %d features, want 1", len(byYear.Features))
	}

	byIdentity := NewBuilder(testIndex(t), WithBoundary(ByIdentity)).Voyages(legs)
	if len(byIdentity.Features) != 2 {
		t.Fatalf("identity boundary: got %d features, want 2", len(byIdentity.Features))
	}
	if y := byIdentity.Features[1].Properties["year"]; y != "1935" {
		t.Fatalf("second voyage year=%v, want carried over 1935", y)
	}
	checkInvariants(t, byIdentity)
}

func TestSegments(t *testing.T) {
	legs := scenarioLegs()
	legs[1].PortDays = "3"
	legs[1].TransitDays = "7"
	legs = append(legs, source.TripLegRecord{PortCity: "W"})

	m := &countingMetrics{}
	fc := NewBuilder(testIndex(t), WithMetrics(m)).Segments(legs)
	if len(fc.Features) != 2 {
		t.Fatalf("got %d features, want 2", len(fc.Features))
	}
	checkInvariants(t, fc)

	first := fc.Features[0].Properties
	if first["from"] != "X" || first["to"] != "Y" || first["year"] != "1935" {
		t.Errorf("first segment=%v", first)
	}
	if first["portDuration"] != "3" || first["transitDuration"] != "7" || first["arrival"] != "1935-01-09" {
		t.Errorf("first segment durations=%v", first)
	}
	// Ten degrees along the equator.
	if km := first["distanceKm"].(float64); km < 1100 || km > 1125 {
		t.Errorf("distanceKm=%v", km)
	}

	second := fc.Features[1]
	if got := line(t, second); !orb.Equal(got, orb.LineString{{170, 0}, {185, 0}}) {
		t.Errorf("second segment line=%v", got)
	}
	if second.Properties["from"] != "Z" || second.Properties["trip"] != "2" {
		t.Errorf("second segment=%v", second.Properties)
	}
	if m.emitted["segment"] != 2 {
		t.Errorf("emitted=%v", m.emitted)
	}
}

func TestSegmentsDoNotCrossVoyages(t *testing.T) {
	legs := []source.TripLegRecord{
		{Year: "1935", PortCity: "X"},
		{Year: "1936", PortCity: "Y"},
	}
	if fc := NewBuilder(testIndex(t)).Segments(legs); len(fc.Features) != 0 {
		t.Fatalf("got %d features across a voyage boundary", len(fc.Features))
	}
}

type stubRouter struct {
	path orb.LineString
	err  error
}

func (r stubRouter) Route(from, to orb.Point) (orb.LineString, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.path, nil
}

func TestRoutedConnector(t *testing.T) {
	m := &countingMetrics{}
	c := NewRouted(stubRouter{path: orb.LineString{{0, 0}, {5, 5}, {10, 0}}}, 3, nil, m)

	got := c.Connect(orb.Point{0, 0}, orb.Point{10, 0})
	if len(got) != 5 {
		t.Fatalf("len=%d, want 5 (%v)", len(got), got)
	}
	if got[0] != (orb.Point{0, 0}) || got[4] != (orb.Point{10, 0}) {
		t.Fatalf("endpoints=%v", got)
	}
	if got[2] != (orb.Point{5, 5}) {
		t.Fatalf("waypoint=%v, want (5, 5)", got[2])
	}
	if m.routed != 1 {
		t.Fatalf("routed=%d", m.routed)
	}
}

func TestRoutedConnectorFallback(t *testing.T) {
	var buf bytes.Buffer
	m := &countingMetrics{}
	c := NewRouted(stubRouter{err: errors.New("boom")}, 20, log.New(&buf, "", 0), m)

	got := c.Connect(orb.Point{170, 0}, orb.Point{-175, 0})
	if !orb.Equal(got, orb.LineString{{170, 0}, {185, 0}}) {
		t.Fatalf("fallback=%v", got)
	}
	if m.fallbacks != 1 || !strings.Contains(buf.String(), "boom") {
		t.Fatalf("fallbacks=%d log=%q", m.fallbacks, buf.String())
	}
}

func TestRoutedVoyagesDeterministic(t *testing.T) {
	land := routing.NewObstacles([]orb.Polygon{{orb.Ring{
		{3, -3}, {7, -3}, {7, 3}, {3, 3}, {3, -3},
	}}})
	opts := routing.Options{Resolution: 1, Margin: 8, MaxNodes: 50_000, Simplify: 0.5, Escape: 1}

	run := func() []byte {
		c := NewRouted(routing.NewRouter(land, opts), 5, nil, nil)
		fc := NewBuilder(testIndex(t), WithConnector(c)).Voyages(scenarioLegs())
		checkInvariants(t, fc)
		data, err := fc.MarshalJSON()
		if err != nil {
			t.Fatal(err)
		}
		return data
	}

	a, b := run(), run()
	if !bytes.Equal(a, b) {
		t.Fatal("two runs over the same input produced different output")
	}
}

func TestNormalizeYear(t *testing.T) {
	tests := map[string]string{
		"1935":    "1935",
		"1935-36": "1935",
		" 1940 ":  "1940",
		"":        "",
	}
	for in, want := range tests {
		if got := NormalizeYear(in); got != want {
			t.Errorf("NormalizeYear(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestPortFeatures(t *testing.T) {
	ix := testIndex(t)
	legs := append(scenarioLegs(), source.TripLegRecord{PortCity: "X"}, source.TripLegRecord{PortCity: "Nowhere"})

	visits := VisitCounts(ix, legs)
	if visits["X"] != 2 || visits["Nowhere"] != 0 {
		t.Fatalf("visits=%v", visits)
	}

	fc := PortFeatures(ix, visits)
	if len(fc.Features) != 4 {
		t.Fatalf("got %d features, want 4", len(fc.Features))
	}
	// Sorted by city: W, X, Y, Z.
	f := fc.Features[1]
	if f.Properties["city"] != "X" || f.Properties["visits"] != 2 {
		t.Fatalf("X feature=%v", f.Properties)
	}
	if p, ok := f.Geometry.(orb.Point); !ok || p != (orb.Point{0, 0}) {
		t.Fatalf("X geometry=%v", f.Geometry)
	}
}
