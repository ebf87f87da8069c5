// Package ports indexes geocoded ports by city name.
package ports

import (
	"io"
	"log"
	"sort"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-voyages/internal/source"
)

// Port is a resolved port with a usable coordinate.
type Port struct {
	City       string
	Country    string
	Coordinate orb.Point
}

// Index maps city names to ports. It is read-only once built.
type Index struct {
	ports map[string]*Port
}

// Build indexes the given records. Rows without a city or coordinate are
// logged and left out; a repeated city keeps the last row, like the
// spreadsheet lookup it replaces.
func Build(records []source.PortRecord, logger *log.Logger) *Index {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	ix := &Index{ports: make(map[string]*Port, len(records))}
	for i, rec := range records {
		if rec.City == "" {
			logger.Printf("[ports] row %d: missing city name, skipped", i+1)
			continue
		}
		if !rec.HasCoordinate {
			logger.Printf("[ports] %q: missing coordinate, skipped", rec.City)
			continue
		}
		if _, dup := ix.ports[rec.City]; dup {
			logger.Printf("[ports] %q: duplicate row, using the later one", rec.City)
		}
		ix.ports[rec.City] = &Port{
			City:       rec.City,
			Country:    rec.Country,
			Coordinate: rec.Coordinate,
		}
	}
	return ix
}

// Lookup returns the port for a city.
func (ix *Index) Lookup(city string) (*Port, bool) {
	p, ok := ix.ports[city]
	return p, ok
}

// Len returns the number of indexed ports.
func (ix *Index) Len() int {
	return len(ix.ports)
}

// Cities returns the indexed city names in sorted order.
func (ix *Index) Cities() []string {
	cities := make([]string, 0, len(ix.ports))
	for c := range ix.ports {
		cities = append(cities, c)
	}
	sort.Strings(cities)
	return cities
}
