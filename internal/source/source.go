// Package source loads the ports and trip-leg tables the pipeline consumes.
//
// Both tables are CSV exports of the project spreadsheet. A location is either
// an http(s) URL or a local file path.
package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// ErrFetch marks failures to read a source table. They abort the run.
var ErrFetch = errors.New("source fetch failed")

// Column headers in the spreadsheet export.
const (
	lngHeader     = "Lng"
	latHeader     = "Lat"
	portHeader    = "Cleaned Port"
	countryHeader = "Country"

	yearHeader      = "Year"
	tripHeader      = "Trip"
	shipHeader      = "Ship"
	cityHeader      = "Port City"
	arrivalHeader   = "Arrival"
	departureHeader = "Departure"
	portDaysHeader  = "Port Days"
	transitHeader   = "Transit Days"
)

// PortRecord is one row of the ports table. HasCoordinate is false when the
// row's longitude or latitude is missing or unparsable.
type PortRecord struct {
	City          string
	Country       string
	Coordinate    orb.Point
	HasCoordinate bool
}

// TripLegRecord is one port visit. Order in the table is significant.
type TripLegRecord struct {
	Year        string
	Trip        string
	Ship        string
	PortCity    string
	Arrival     string
	Departure   string
	PortDays    string
	TransitDays string
}

// Loader fetches source tables.
type Loader struct {
	client *http.Client
}

// NewLoader creates a loader. A nil client uses http.DefaultClient.
func NewLoader(client *http.Client) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{client: client}
}

// Ports fetches and parses the ports table.
func (l *Loader) Ports(ctx context.Context, location string) ([]PortRecord, error) {
	rc, err := l.open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	ports, err := ReadPorts(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: ports %s: %v", ErrFetch, location, err)
	}
	return ports, nil
}

// Legs fetches and parses the trip-legs table. limit caps the number of rows
// considered (0 = all).
func (l *Loader) Legs(ctx context.Context, location string, limit int) ([]TripLegRecord, error) {
	rc, err := l.open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	legs, err := ReadLegs(rc, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: legs %s: %v", ErrFetch, location, err)
	}
	return legs, nil
}

func (l *Loader) open(ctx context.Context, location string) (io.ReadCloser, error) {
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		f, err := os.Open(location)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetch, err)
		}
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned %s", ErrFetch, location, resp.Status)
	}
	return resp.Body, nil
}

// ReadPorts parses a ports CSV.
func ReadPorts(r io.Reader) ([]PortRecord, error) {
	rows, err := readTable(r, portHeader)
	if err != nil {
		return nil, err
	}

	var ports []PortRecord
	for _, row := range rows {
		rec := PortRecord{
			City:    row.get(portHeader),
			Country: row.get(countryHeader),
		}
		lng, lngErr := strconv.ParseFloat(row.get(lngHeader), 64)
		lat, latErr := strconv.ParseFloat(row.get(latHeader), 64)
		if lngErr == nil && latErr == nil {
			rec.Coordinate = orb.Point{lng, lat}
			rec.HasCoordinate = true
		}
		ports = append(ports, rec)
	}
	return ports, nil
}

// ReadLegs parses a trip-legs CSV. Rows without a port city are dropped.
func ReadLegs(r io.Reader, limit int) ([]TripLegRecord, error) {
	rows, err := readTable(r, cityHeader)
	if err != nil {
		return nil, err
	}

	var legs []TripLegRecord
	for i, row := range rows {
		if limit > 0 && i >= limit {
			break
		}
		city := row.get(cityHeader)
		if city == "" {
			continue
		}
		legs = append(legs, TripLegRecord{
			Year:        row.get(yearHeader),
			Trip:        row.get(tripHeader),
			Ship:        row.get(shipHeader),
			PortCity:    city,
			Arrival:     row.get(arrivalHeader),
			Departure:   row.get(departureHeader),
			PortDays:    row.get(portDaysHeader),
			TransitDays: row.get(transitHeader),
		})
	}
	return legs, nil
}

type tableRow struct {
	headers map[string]int
	record  []string
}

func (r tableRow) get(header string) string {
	i, ok := r.headers[header]
	if !ok || i >= len(r.record) {
		return ""
	}
	return strings.TrimSpace(r.record[i])
}

// readTable reads a headed CSV. required names a column that must exist.
func readTable(r io.Reader, required string) ([]tableRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	headers, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, errors.New("empty table")
		}
		return nil, fmt.Errorf("unable to parse CSV headers: %w", err)
	}

	headerMap := make(map[string]int, len(headers))
	for i, h := range headers {
		headerMap[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	if _, ok := headerMap[required]; !ok {
		return nil, fmt.Errorf("missing %q column", required)
	}

	var rows []tableRow
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("unable to parse CSV: %w", err)
		}
		rows = append(rows, tableRow{headers: headerMap, record: record})
	}
	return rows, nil
}
