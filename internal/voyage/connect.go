package voyage

import (
	"io"
	"log"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-voyages/internal/geom"
)

// Connector produces the renderable path between two consecutive ports.
// The path starts at from, includes both endpoints, and never has two
// consecutive points more than 180 degrees of longitude apart.
type Connector interface {
	Connect(from, to orb.Point) orb.LineString
}

// Router finds a land-avoiding path. routing.Router satisfies it.
type Router interface {
	Route(from, to orb.Point) (orb.LineString, error)
}

// Direct joins ports with a straight segment, normalising the destination's
// longitude across the antimeridian.
type Direct struct{}

// Connect implements Connector.
func (Direct) Connect(from, to orb.Point) orb.LineString {
	return orb.LineString{from, geom.Unwrap(from, to)}
}

// Routed joins ports with a water path expanded into great-circle arcs.
// Hops the router cannot handle fall back to the direct segment.
type Routed struct {
	router    Router
	arcPoints int
	logger    *log.Logger
	metrics   Metrics
}

// NewRouted creates a routed connector. arcPoints is the number of points
// per great-circle arc, endpoints included.
func NewRouted(router Router, arcPoints int, logger *log.Logger, m Metrics) *Routed {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Routed{router: router, arcPoints: arcPoints, logger: logger, metrics: m}
}

// Connect implements Connector.
func (c *Routed) Connect(from, to orb.Point) orb.LineString {
	path, err := c.router.Route(from, to)
	if err != nil {
		c.logger.Printf("[voyage] routing %v -> %v failed, using direct segment: %v", from, to, err)
		if c.metrics != nil {
			c.metrics.RoutingFallback()
		}
		return Direct{}.Connect(from, to)
	}

	out := orb.LineString{from}
	for i := 0; i < len(path)-1; i++ {
		arc, err := geom.GreatCircle(out[len(out)-1], path[i+1], c.arcPoints)
		if err != nil {
			c.logger.Printf("[voyage] arc %v -> %v: %v", path[i], path[i+1], err)
			arc = orb.LineString{out[len(out)-1], geom.Unwrap(out[len(out)-1], path[i+1])}
		}
		out = append(out, arc[1:]...)
	}
	if c.metrics != nil {
		c.metrics.RoutingSucceeded()
	}
	return out
}
