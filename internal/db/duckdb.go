// Package db stages the source tables in DuckDB so they can be queried
// through the API.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/joeblew999/plat-voyages/internal/source"
)

var (
	instance *sql.DB
	once     sync.Once
	initErr  error
)

// Config holds database configuration. An empty DataDir opens an in-memory
// database.
type Config struct {
	DataDir string
	DBName  string
}

// dsnOptions keeps SQL from reading or writing files other than the
// database itself.
const dsnOptions = "?enable_external_access=false"

// Open opens a new DuckDB connection.
func Open(cfg Config) (*sql.DB, error) {
	if cfg.DataDir == "" {
		return sql.Open("duckdb", dsnOptions)
	}

	duckdbDir := filepath.Join(cfg.DataDir, "duckdb")
	if err := os.MkdirAll(duckdbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create duckdb directory: %w", err)
	}
	name := cfg.DBName
	if name == "" {
		name = "voyages"
	}
	return sql.Open("duckdb", filepath.Join(duckdbDir, name+".duckdb")+dsnOptions)
}

// Get returns the process-wide DuckDB connection, opening it on first use.
func Get(cfg Config) (*sql.DB, error) {
	once.Do(func() {
		instance, initErr = Open(cfg)
	})
	return instance, initErr
}

// Close closes the process-wide connection.
func Close() error {
	if instance != nil {
		return instance.Close()
	}
	return nil
}

const schema = `
CREATE OR REPLACE TABLE ports (
	city    VARCHAR PRIMARY KEY,
	country VARCHAR,
	lng     DOUBLE,
	lat     DOUBLE
);
CREATE OR REPLACE TABLE legs (
	seq          INTEGER,
	year         VARCHAR,
	trip         VARCHAR,
	ship         VARCHAR,
	port_city    VARCHAR,
	arrival      VARCHAR,
	departure    VARCHAR,
	port_days    VARCHAR,
	transit_days VARCHAR
);`

// Store writes and reads the staged tables.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Stage replaces the ports and legs tables with the given records. Ports
// without a coordinate are left out; a repeated city keeps the later row.
func (s *Store) Stage(ctx context.Context, portRecs []source.PortRecord, legs []source.TripLegRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin staging: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating tables: %w", err)
	}

	latest := make(map[string]source.PortRecord, len(portRecs))
	var order []string
	for _, p := range portRecs {
		if p.City == "" || !p.HasCoordinate {
			continue
		}
		if _, seen := latest[p.City]; !seen {
			order = append(order, p.City)
		}
		latest[p.City] = p
	}
	for _, city := range order {
		p := latest[city]
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO ports VALUES (?, ?, ?, ?)",
			p.City, p.Country, p.Coordinate[0], p.Coordinate[1],
		); err != nil {
			return fmt.Errorf("inserting port %q: %w", p.City, err)
		}
	}

	for i, l := range legs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO legs VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
			i+1, l.Year, l.Trip, l.Ship, l.PortCity, l.Arrival, l.Departure, l.PortDays, l.TransitDays,
		); err != nil {
			return fmt.Errorf("inserting leg %d: %w", i+1, err)
		}
	}
	return tx.Commit()
}

// VisitCounts returns the number of legs calling at each known port.
func (s *Store) VisitCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.port_city, count(*)
		FROM legs l JOIN ports p ON p.city = l.port_city
		GROUP BY l.port_city
		ORDER BY l.port_city`)
	if err != nil {
		return nil, fmt.Errorf("counting visits: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			city string
			n    int
		)
		if err := rows.Scan(&city, &n); err != nil {
			return nil, fmt.Errorf("scanning visit count: %w", err)
		}
		counts[city] = n
	}
	return counts, rows.Err()
}

// UnresolvedPorts lists leg port names missing from the ports table, most
// frequent first.
func (s *Store) UnresolvedPorts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.port_city
		FROM legs l LEFT JOIN ports p ON p.city = l.port_city
		WHERE p.city IS NULL
		GROUP BY l.port_city
		ORDER BY count(*) DESC, l.port_city`)
	if err != nil {
		return nil, fmt.Errorf("listing unresolved ports: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var city string
		if err := rows.Scan(&city); err != nil {
			return nil, fmt.Errorf("scanning unresolved port: %w", err)
		}
		out = append(out, city)
	}
	return out, rows.Err()
}
