package lookup

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/joeblew999/plat-voyages/internal/output"
)

// Cities and their subclasses (Q515). The fallback drops the restriction.
const (
	primaryQuery = `SELECT DISTINCT ?item WHERE {
  ?item ?label "%s"@en.
  ?item wdt:P17 ?country.
  ?country ?label "%s"@en.
  ?item wdt:P31/wdt:P279* wd:Q515.
  SERVICE wikibase:label { bd:serviceParam wikibase:language "en". }
}`
	fallbackQuery = `SELECT DISTINCT ?item WHERE {
  ?item ?label "%s"@en.
  ?item wdt:P17 ?country.
  ?country ?label "%s"@en.
  SERVICE wikibase:label { bd:serviceParam wikibase:language "en". }
}`
)

// WikidataClient resolves port names to Wikidata entity IDs.
type WikidataClient struct {
	client    *http.Client
	endpoint  string
	userAgent string
}

// NewWikidataClient creates a client for a SPARQL endpoint.
func NewWikidataClient(client *http.Client, endpoint, userAgent string) *WikidataClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &WikidataClient{client: client, endpoint: endpoint, userAgent: userAgent}
}

// EntityID returns the Wikidata ID (e.g. "Q2634") for a city in a country.
// A city-typed match is preferred over any entity with that label. An empty
// ID with a nil error means nothing matched.
func (c *WikidataClient) EntityID(ctx context.Context, city, country string) (string, error) {
	city, country = escapeLiteral(strings.TrimSpace(city)), escapeLiteral(strings.TrimSpace(country))
	for _, tmpl := range []string{primaryQuery, fallbackQuery} {
		id, err := c.first(ctx, fmt.Sprintf(tmpl, city, country))
		if err != nil {
			return "", fmt.Errorf("wikidata: %w", err)
		}
		if id != "" {
			return id, nil
		}
	}
	return "", nil
}

func (c *WikidataClient) first(ctx context.Context, query string) (string, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("format", "json")

	header := http.Header{}
	header.Set("Accept", "application/sparql-results+json")
	if c.userAgent != "" {
		header.Set("User-Agent", c.userAgent)
	}

	body, err := get(ctx, c.client, c.endpoint+"?"+q.Encode(), header)
	if err != nil {
		return "", err
	}
	value := gjson.GetBytes(body, "results.bindings.0.item.value").String()
	if value == "" {
		return "", nil
	}
	return value[strings.LastIndex(value, "/")+1:], nil
}

func escapeLiteral(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", " ").Replace(s)
}

// ResolveCSV reads a ports table ("Cleaned Port", "Country" columns) and
// writes City, Country, WikidataID rows. Lookup failures are logged and
// leave the ID empty.
func (c *WikidataClient) ResolveCSV(ctx context.Context, r io.Reader, w io.Writer, logger *log.Logger) (int, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return 0, fmt.Errorf("reading header: %w", err)
	}
	cityCol, countryCol := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) {
		case "Cleaned Port":
			cityCol = i
		case "Country":
			countryCol = i
		}
	}
	if cityCol < 0 || countryCol < 0 {
		return 0, fmt.Errorf("missing Cleaned Port or Country column")
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"City", "Country", "WikidataID"}); err != nil {
		return 0, err
	}

	n := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, fmt.Errorf("reading row %d: %w", n+2, err)
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}

		city, country := field(rec, cityCol), field(rec, countryCol)
		id, err := c.EntityID(ctx, city, country)
		if err != nil {
			logger.Printf("[wikidata] %s, %s: %v", city, country, err)
			id = ""
		}
		if err := cw.Write([]string{city, country, id}); err != nil {
			return n, err
		}
		n++
	}
	cw.Flush()
	return n, cw.Error()
}

// ResolveFile runs ResolveCSV from inPath to outPath. The output file is only
// written once every row has been resolved, so a failed run leaves any
// previous file untouched.
func (c *WikidataClient) ResolveFile(ctx context.Context, inPath, outPath string, logger *log.Logger) (int, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	var buf bytes.Buffer
	n, err := c.ResolveCSV(ctx, in, &buf, logger)
	if err != nil {
		return n, err
	}
	if err := output.WriteFile(outPath, buf.Bytes()); err != nil {
		return n, err
	}
	return n, nil
}

func field(rec []string, i int) string {
	if i < len(rec) {
		return strings.TrimSpace(rec[i])
	}
	return ""
}
