package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-voyages/internal/source"
)

func TestStage(t *testing.T) {
	conn, err := Open(Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	s := NewStore(conn)
	ctx := context.Background()

	portRecs := []source.PortRecord{
		{City: "Naples", Country: "Italy", Coordinate: orb.Point{14.25, 40.85}, HasCoordinate: true},
		{City: "Genoa", Country: "Italy", Coordinate: orb.Point{8.9, 44.4}, HasCoordinate: true},
		{City: "Nowhere"},
		{City: "Naples", Country: "Italy", Coordinate: orb.Point{14.26, 40.84}, HasCoordinate: true},
	}
	legs := []source.TripLegRecord{
		{Year: "1935", Trip: "1", Ship: "Rex", PortCity: "Genoa"},
		{PortCity: "Naples"},
		{PortCity: "Atlantis"},
		{PortCity: "Naples"},
		{PortCity: "Nowhere"},
	}

	// Staging twice replaces the tables.
	for i := 0; i < 2; i++ {
		if err := s.Stage(ctx, portRecs, legs); err != nil {
			t.Fatal(err)
		}
	}

	counts, err := s.VisitCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts["Naples"] != 2 || counts["Genoa"] != 1 || len(counts) != 2 {
		t.Fatalf("counts=%v", counts)
	}

	var lng float64
	if err := conn.QueryRowContext(ctx, "SELECT lng FROM ports WHERE city = 'Naples'").Scan(&lng); err != nil {
		t.Fatal(err)
	}
	if lng != 14.26 {
		t.Fatalf("Naples lng=%v, want the later row", lng)
	}

	missing, err := s.UnresolvedPorts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 2 || missing[0] != "Atlantis" || missing[1] != "Nowhere" {
		t.Fatalf("unresolved=%v", missing)
	}
}

func TestExternalAccessDisabled(t *testing.T) {
	dir := t.TempDir()
	secret := filepath.Join(dir, "secret.csv")
	if err := os.WriteFile(secret, []byte("a,b\n1,2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	for name, cfg := range map[string]Config{"memory": {}, "file": {DataDir: dir}} {
		t.Run(name, func(t *testing.T) {
			conn, err := Open(cfg)
			if err != nil {
				t.Fatal(err)
			}
			defer conn.Close()

			for _, q := range []string{
				"SELECT * FROM read_text('/etc/passwd')",
				"SELECT * FROM read_csv('" + secret + "')",
				"SELECT * FROM '" + secret + "'",
			} {
				if _, err := conn.QueryContext(context.Background(), q); err == nil {
					t.Errorf("%s: expected permission error", q)
				}
			}
			if _, err := conn.ExecContext(context.Background(), "CREATE TABLE t AS SELECT 1 AS n"); err != nil {
				t.Fatalf("local tables must still work: %v", err)
			}
		})
	}
}
