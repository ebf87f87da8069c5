package voyage

import (
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-voyages/internal/ports"
	"github.com/joeblew999/plat-voyages/internal/source"
)

// VisitCounts counts the legs calling at each indexed port.
func VisitCounts(index *ports.Index, legs []source.TripLegRecord) map[string]int {
	counts := make(map[string]int)
	for _, leg := range legs {
		if _, ok := index.Lookup(leg.PortCity); ok {
			counts[leg.PortCity]++
		}
	}
	return counts
}

// PortFeatures emits one Point feature per indexed port, in city order, with
// the number of visits the map sizes its circle by. Ports never visited are
// included with zero visits.
func PortFeatures(index *ports.Index, visits map[string]int) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, city := range index.Cities() {
		p, _ := index.Lookup(city)
		f := geojson.NewFeature(p.Coordinate)
		f.Properties["city"] = p.City
		f.Properties["country"] = p.Country
		f.Properties["visits"] = visits[city]
		fc.Append(f)
	}
	return fc
}
