package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
)

const portsCSV = `"Cleaned Port","Country","Lng","Lat"
"Honolulu","United States","-157.86","21.31"
"Yokohama","Japan","139.64","35.44"
"Nowhere","","",""
`

const legsCSV = `"Year","Trip","Ship","Port City","Arrival","Departure","Port Days","Transit Days"
"1935-36","1","President Hoover","Honolulu","","1935-01-02","","5"
"","","","Yokohama","1935-01-07","1935-01-09","2",""
"","","","","","","",""
"1936","2","President Coolidge","Yokohama","","1936-02-01","",""
`

func TestReadPorts(t *testing.T) {
	ports, err := ReadPorts(strings.NewReader(portsCSV))
	if err != nil {
		t.Fatal(err)
	}
	if len(ports) != 3 {
		t.Fatalf("len=%d, want 3", len(ports))
	}
	if ports[0].City != "Honolulu" || ports[0].Coordinate != (orb.Point{-157.86, 21.31}) || !ports[0].HasCoordinate {
		t.Fatalf("ports[0]=%+v", ports[0])
	}
	if ports[1].Country != "Japan" {
		t.Fatalf("country=%q, want Japan", ports[1].Country)
	}
	if ports[2].HasCoordinate {
		t.Fatal("row without coordinates should not have HasCoordinate")
	}
}

func TestReadLegs(t *testing.T) {
	legs, err := ReadLegs(strings.NewReader(legsCSV), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(legs) != 3 {
		t.Fatalf("len=%d, want 3 (blank port city dropped)", len(legs))
	}
	first := legs[0]
	if first.Year != "1935-36" || first.Trip != "1" || first.Ship != "President Hoover" || first.TransitDays != "5" {
		t.Fatalf("legs[0]=%+v", first)
	}
	if legs[1].PortDays != "2" || legs[1].Arrival != "1935-01-07" {
		t.Fatalf("legs[1]=%+v", legs[1])
	}
}

func TestReadLegsLimit(t *testing.T) {
	legs, err := ReadLegs(strings.NewReader(legsCSV), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(legs) != 2 {
		t.Fatalf("len=%d, want 2", len(legs))
	}
}

func TestReadLegsMissingColumn(t *testing.T) {
	_, err := ReadLegs(strings.NewReader("Year,Trip\n1935,1\n"), 0)
	if err == nil || !strings.Contains(err.Error(), "Port City") {
		t.Fatalf("err=%v, want missing Port City column", err)
	}
}

func TestLoaderHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ports":
			w.Write([]byte(portsCSV))
		case "/legs":
			w.Write([]byte(legsCSV))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	l := NewLoader(srv.Client())
	ports, err := l.Ports(context.Background(), srv.URL+"/ports")
	if err != nil {
		t.Fatal(err)
	}
	if len(ports) != 3 {
		t.Fatalf("ports=%d, want 3", len(ports))
	}
	legs, err := l.Legs(context.Background(), srv.URL+"/legs", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(legs) != 3 {
		t.Fatalf("legs=%d, want 3", len(legs))
	}

	_, err = l.Ports(context.Background(), srv.URL+"/missing")
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("err=%v, want ErrFetch", err)
	}
}

func TestLoaderFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ports.csv")
	if err := os.WriteFile(path, []byte(portsCSV), 0644); err != nil {
		t.Fatal(err)
	}
	ports, err := NewLoader(nil).Ports(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if len(ports) != 3 {
		t.Fatalf("ports=%d, want 3", len(ports))
	}

	_, err = NewLoader(nil).Legs(context.Background(), filepath.Join(t.TempDir(), "none.csv"), 0)
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("err=%v, want ErrFetch", err)
	}
}
