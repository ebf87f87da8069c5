// Package voyage turns ordered trip legs into voyage line features.
//
// A Builder walks the legs once. It keeps one open voyage at a time, appends
// the connecting path for every new port it resolves, and closes the voyage
// when a leg starts a new one. Voyages with fewer than two points are
// dropped. Output is deterministic for a given input and connector.
package voyage

import (
	"io"
	"log"
	"math"
	"strings"

	"github.com/jftuga/geodist"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-voyages/internal/ports"
	"github.com/joeblew999/plat-voyages/internal/source"
)

// Boundary selects how a leg is recognised as the start of a new voyage.
type Boundary string

const (
	// ByYear starts a voyage on every leg with a non-empty year.
	ByYear Boundary = "year"
	// ByIdentity starts a voyage when a leg names a different trip or ship.
	ByIdentity Boundary = "identity"
)

// Metrics receives builder counters. A nil Metrics is allowed.
type Metrics interface {
	LegResolved()
	LegUnresolved()
	FeatureEmitted(kind string)
	RoutingSucceeded()
	RoutingFallback()
}

// Meta identifies the voyage a feature belongs to.
type Meta struct {
	Year string
	Trip string
	Ship string
}

// Builder converts legs into features.
type Builder struct {
	index    *ports.Index
	connect  Connector
	boundary Boundary
	logger   *log.Logger
	metrics  Metrics
}

// Option configures a Builder.
type Option func(*Builder)

// WithConnector sets the connecting-path strategy. The default is Direct.
func WithConnector(c Connector) Option {
	return func(b *Builder) { b.connect = c }
}

// WithBoundary sets the voyage boundary rule. The default is ByYear.
func WithBoundary(bd Boundary) Option {
	return func(b *Builder) { b.boundary = bd }
}

// WithLogger sets the logger for skipped legs.
func WithLogger(l *log.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(b *Builder) { b.metrics = m }
}

// NewBuilder creates a builder over a port index.
func NewBuilder(index *ports.Index, opts ...Option) *Builder {
	b := &Builder{
		index:    index,
		connect:  Direct{},
		boundary: ByYear,
		logger:   log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// accumulator holds the open voyage.
type accumulator struct {
	meta      Meta
	line      orb.LineString
	last      *ports.Port
	first     *ports.Port
	departure string
	arrival   string
	visits    int
}

func (a *accumulator) reset(meta Meta) {
	*a = accumulator{meta: meta}
}

// Voyages emits one LineString feature per voyage.
func (b *Builder) Voyages(legs []source.TripLegRecord) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	var cur accumulator

	flush := func() {
		if len(cur.line) < 2 {
			return
		}
		f := geojson.NewFeature(cur.line)
		f.Properties["year"] = cur.meta.Year
		f.Properties["trip"] = cur.meta.Trip
		f.Properties["ship"] = cur.meta.Ship
		f.Properties["from"] = cur.first.City
		f.Properties["to"] = cur.last.City
		f.Properties["departure"] = cur.departure
		f.Properties["arrival"] = cur.arrival
		f.Properties["ports"] = cur.visits
		fc.Append(f)
		b.emitted("voyage")
	}

	for i, leg := range legs {
		if meta, ok := b.startsVoyage(i, leg, cur.meta); ok {
			flush()
			cur.reset(meta)
		}

		port, ok := b.resolve(i, leg)
		if !ok {
			continue
		}
		switch {
		case len(cur.line) == 0:
			cur.line = orb.LineString{port.Coordinate}
			cur.first = port
			cur.departure = leg.Departure
			cur.visits = 1
		case port != cur.last:
			path := b.connect.Connect(cur.line[len(cur.line)-1], port.Coordinate)
			cur.line = append(cur.line, path[1:]...)
			cur.visits++
		default:
			continue
		}
		cur.last = port
		cur.arrival = leg.Arrival
		if cur.departure == "" {
			cur.departure = leg.Departure
		}
	}
	flush()
	return fc
}

// Segments emits one LineString feature per hop between consecutive,
// distinct, resolved ports of a voyage.
func (b *Builder) Segments(legs []source.TripLegRecord) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	var (
		meta Meta
		last *ports.Port
	)

	for i, leg := range legs {
		if m, ok := b.startsVoyage(i, leg, meta); ok {
			meta = m
			last = nil
		}

		port, ok := b.resolve(i, leg)
		if !ok {
			continue
		}
		if last != nil && port != last {
			path := b.connect.Connect(last.Coordinate, port.Coordinate)
			f := geojson.NewFeature(path)
			f.Properties["year"] = meta.Year
			f.Properties["trip"] = meta.Trip
			f.Properties["ship"] = meta.Ship
			f.Properties["from"] = last.City
			f.Properties["to"] = port.City
			f.Properties["arrival"] = leg.Arrival
			f.Properties["departure"] = leg.Departure
			f.Properties["portDuration"] = leg.PortDays
			f.Properties["transitDuration"] = leg.TransitDays
			f.Properties["distanceKm"] = distanceKm(last.Coordinate, port.Coordinate)
			fc.Append(f)
			b.emitted("segment")
		}
		last = port
	}
	return fc
}

// startsVoyage reports whether leg i opens a new voyage and, if so, the
// metadata it carries. The first leg always opens one.
func (b *Builder) startsVoyage(i int, leg source.TripLegRecord, cur Meta) (Meta, bool) {
	next := Meta{Year: NormalizeYear(leg.Year), Trip: leg.Trip, Ship: leg.Ship}
	if next.Year == "" {
		next.Year = cur.Year
	}
	if i == 0 {
		return next, true
	}

	switch b.boundary {
	case ByIdentity:
		if (leg.Trip != "" && leg.Trip != cur.Trip) || (leg.Ship != "" && leg.Ship != cur.Ship) {
			return next, true
		}
	default:
		if strings.TrimSpace(leg.Year) != "" {
			return next, true
		}
	}
	return cur, false
}

func (b *Builder) resolve(i int, leg source.TripLegRecord) (*ports.Port, bool) {
	port, ok := b.index.Lookup(leg.PortCity)
	if !ok {
		b.logger.Printf("[voyage] leg %d: unknown port %q, skipped", i+1, leg.PortCity)
		if b.metrics != nil {
			b.metrics.LegUnresolved()
		}
		return nil, false
	}
	if b.metrics != nil {
		b.metrics.LegResolved()
	}
	return port, true
}

func (b *Builder) emitted(kind string) {
	if b.metrics != nil {
		b.metrics.FeatureEmitted(kind)
	}
}

// NormalizeYear keeps the leading year of ranges such as "1935-36".
func NormalizeYear(year string) string {
	year = strings.TrimSpace(year)
	if i := strings.Index(year, "-"); i >= 0 {
		year = year[:i]
	}
	return year
}

func distanceKm(a, b orb.Point) float64 {
	_, km := geodist.HaversineDistance(
		geodist.Coord{Lat: a[1], Lon: a[0]},
		geodist.Coord{Lat: b[1], Lon: b[0]},
	)
	return math.Round(km*10) / 10
}
