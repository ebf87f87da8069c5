// Package config loads the pipeline configuration for plat-voyages.
//
// Values come from three layers, later ones winning: built-in defaults, an
// optional YAML file, then environment variables (a .env file is loaded into
// the environment first when present).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// Published Google Sheets tabs holding the geocoded ports and trip legs.
	defaultPortsURL = "https://docs.google.com/spreadsheets/d/1n-2Kw8lt628JVir1urXYlBJ8wKA38A_jrL5reco9xBU/gviz/tq?tqx=out:csv&sheet=Ports%20Geocoded"
	defaultLegsURL  = "https://docs.google.com/spreadsheets/d/1n-2Kw8lt628JVir1urXYlBJ8wKA38A_jrL5reco9xBU/gviz/tq?tqx=out:csv&sheet=CLF%20Cleaned%20Maps"
)

// Config holds the full pipeline configuration.
type Config struct {
	Sources SourcesConfig `yaml:"sources"`
	Routing RoutingConfig `yaml:"routing"`
	Output  OutputConfig  `yaml:"output"`
	Lookup  LookupConfig  `yaml:"lookup"`
	NATS    NATSConfig    `yaml:"nats"`
}

// SourcesConfig describes where the tabular inputs come from.
type SourcesConfig struct {
	PortsURL string `yaml:"ports_url"`
	LegsURL  string `yaml:"legs_url"`
	// LegLimit caps the number of legs read; 0 reads everything.
	LegLimit int `yaml:"leg_limit"`
	// Boundary selects how a new voyage is detected: "year" or "identity".
	Boundary string        `yaml:"boundary"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RoutingConfig controls land-avoiding routing for voyage arcs.
type RoutingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Obstacles string `yaml:"obstacles"`
	// Resolution is the routing grid spacing in degrees.
	Resolution float64 `yaml:"resolution"`
	// Margin pads the hop bounding box, in degrees.
	Margin    float64 `yaml:"margin"`
	MaxNodes  int     `yaml:"max_nodes"`
	ArcPoints int     `yaml:"arc_points"`
	Simplify  float64 `yaml:"simplify"`
}

// OutputConfig names the generated files.
type OutputConfig struct {
	Dir      string `yaml:"dir"`
	Arcs     string `yaml:"arcs"`
	Segments string `yaml:"segments"`
	Ports    string `yaml:"ports"`
	Tiles    string `yaml:"tiles"`
	MinZoom  int    `yaml:"min_zoom"`
	MaxZoom  int    `yaml:"max_zoom"`
}

// LookupConfig configures the weather and Wikidata lookups.
type LookupConfig struct {
	WeatherURL  string        `yaml:"weather_url"`
	WeatherKey  string        `yaml:"-"`
	WikidataURL string        `yaml:"wikidata_url"`
	UserAgent   string        `yaml:"user_agent"`
	Timeout     time.Duration `yaml:"timeout"`
}

// NATSConfig enables forwarding build events to NATS when URL is set.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Sources: SourcesConfig{
			PortsURL: defaultPortsURL,
			LegsURL:  defaultLegsURL,
			Boundary: "year",
			Timeout:  30 * time.Second,
		},
		Routing: RoutingConfig{
			Enabled:    false,
			Obstacles:  "data/land_buffered.geojson",
			Resolution: 1.0,
			Margin:     10.0,
			MaxNodes:   250_000,
			ArcPoints:  20,
			Simplify:   0.5,
		},
		Output: OutputConfig{
			Dir:      "data",
			Arcs:     "tripArcs.geojson",
			Segments: "tripSegments.geojson",
			Ports:    "ports.geojson",
			Tiles:    "tiles",
			MinZoom:  0,
			MaxZoom:  6,
		},
		Lookup: LookupConfig{
			WeatherURL:  "https://api.openweathermap.org/data/2.5/weather",
			WikidataURL: "https://query.wikidata.org/sparql",
			UserAgent:   "plat-voyages/0.1 (port lookup)",
			Timeout:     15 * time.Second,
		},
		NATS: NATSConfig{
			Subject: "voyages.builds",
		},
	}
}

// Load builds the configuration. path may be empty; a missing file at an
// explicit path is an error.
func Load(path string) (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Sources.PortsURL = getenvDefault("VOYAGES_PORTS_URL", c.Sources.PortsURL)
	c.Sources.LegsURL = getenvDefault("VOYAGES_LEGS_URL", c.Sources.LegsURL)
	c.Routing.Obstacles = getenvDefault("VOYAGES_OBSTACLES", c.Routing.Obstacles)
	c.Output.Dir = getenvDefault("VOYAGES_OUTPUT_DIR", c.Output.Dir)
	c.NATS.URL = getenvDefault("NATS_URL", c.NATS.URL)
	c.Lookup.WeatherKey = getenvDefault("OPEN_WEATHER_KEY", c.Lookup.WeatherKey)

	if v := os.Getenv("VOYAGES_LEG_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid VOYAGES_LEG_LIMIT: %q", v)
		}
		c.Sources.LegLimit = n
	}

	if v := os.Getenv("VOYAGES_ROUTING"); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "t", "yes", "y", "on":
			c.Routing.Enabled = true
		default:
			c.Routing.Enabled = false
		}
	}
	return nil
}

// Validate checks the configuration for values the pipeline cannot use.
func (c *Config) Validate() error {
	var errs []error
	if c.Sources.PortsURL == "" {
		errs = append(errs, errors.New("sources.ports_url is required"))
	}
	if c.Sources.LegsURL == "" {
		errs = append(errs, errors.New("sources.legs_url is required"))
	}
	if c.Sources.LegLimit < 0 {
		errs = append(errs, fmt.Errorf("sources.leg_limit must be >= 0, got %d", c.Sources.LegLimit))
	}
	switch c.Sources.Boundary {
	case "year", "identity":
	default:
		errs = append(errs, fmt.Errorf("sources.boundary must be year or identity, got %q", c.Sources.Boundary))
	}
	if c.Routing.Resolution <= 0 {
		errs = append(errs, fmt.Errorf("routing.resolution must be > 0, got %v", c.Routing.Resolution))
	}
	if c.Routing.ArcPoints < 2 {
		errs = append(errs, fmt.Errorf("routing.arc_points must be >= 2, got %d", c.Routing.ArcPoints))
	}
	if c.Routing.Enabled && c.Routing.Obstacles == "" {
		errs = append(errs, errors.New("routing.obstacles is required when routing is enabled"))
	}
	if c.Output.Dir == "" {
		errs = append(errs, errors.New("output.dir is required"))
	}
	if c.Output.MinZoom < 0 || c.Output.MaxZoom > 14 || c.Output.MinZoom > c.Output.MaxZoom {
		errs = append(errs, fmt.Errorf("output zoom range %d-%d is invalid", c.Output.MinZoom, c.Output.MaxZoom))
	}
	return errors.Join(errs...)
}

// ArcsPath returns the path of the voyage arcs file.
func (o OutputConfig) ArcsPath() string { return filepath.Join(o.Dir, o.Arcs) }

// SegmentsPath returns the path of the per-hop segments file.
func (o OutputConfig) SegmentsPath() string { return filepath.Join(o.Dir, o.Segments) }

// PortsPath returns the path of the port visits file.
func (o OutputConfig) PortsPath() string { return filepath.Join(o.Dir, o.Ports) }

// TilesDir returns the directory vector tiles are written to.
func (o OutputConfig) TilesDir() string { return filepath.Join(o.Dir, o.Tiles) }

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
