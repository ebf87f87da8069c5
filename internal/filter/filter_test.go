package filter

import (
	"reflect"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

func voyages() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	add := func(ship, from, to string, year any) {
		f := geojson.NewFeature(orb.LineString{{0, 0}, {1, 1}})
		f.Properties["ship"] = ship
		f.Properties["from"] = from
		f.Properties["to"] = to
		f.Properties["year"] = year
		fc.Append(f)
	}
	add("Rex", "Genoa", "New York", "1935")
	add("Rex", "New York", "Naples", "1936")
	add("Conte", "Naples", "Genoa", float64(1938)) // as decoded from JSON
	add("Conte", "Genoa", "Naples", "")
	return fc
}

func TestOptions(t *testing.T) {
	fc := voyages()
	tests := []struct {
		c    Category
		want []string
	}{
		{Ship, []string{"Conte", "Rex"}},
		{From, []string{"Genoa", "Naples", "New York"}},
		{Year, []string{"1935", "1936", "1938"}},
	}
	for _, tt := range tests {
		if got := Options(fc, tt.c); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Options(%v)=%v, want %v", tt.c, got, tt.want)
		}
	}

	min, max, ok := YearRange(fc)
	if !ok || min != 1935 || max != 1938 {
		t.Errorf("YearRange=%d,%d,%v", min, max, ok)
	}
}

func TestStateMatch(t *testing.T) {
	fc := voyages()
	tests := []struct {
		name  string
		state State
		want  int
	}{
		{"empty", State{}, 4},
		{"ship", State{}.Select(Ship, "Rex"), 2},
		{"ship and origin", State{}.Select(Ship, "Conte").Select(From, "Genoa"), 1},
		{"two destinations", State{}.Select(To, "Naples", "Genoa"), 3},
		{"year range", State{}.Years(1936, 0), 2},
		{"cleared", State{}.Select(Ship, "Rex").Select(Ship), 4},
	}
	for _, tt := range tests {
		if got := len(tt.state.Apply(fc).Features); got != tt.want {
			t.Errorf("%s: matched %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestStateIsCopied(t *testing.T) {
	base := State{}.Select(Ship, "Rex")
	narrowed := base.Select(From, "Genoa").Years(1900, 1950)

	if len(base.Selected(From)) != 0 || base.YearMin != 0 {
		t.Fatal("Select modified its receiver")
	}
	if !reflect.DeepEqual(narrowed.Selected(Ship), []string{"Rex"}) {
		t.Fatalf("narrowed ship=%v", narrowed.Selected(Ship))
	}
	if narrowed.Empty() || !(State{}).Empty() {
		t.Fatal("Empty is wrong")
	}
}

func TestParseCategory(t *testing.T) {
	for _, c := range Categories {
		got, err := ParseCategory(c.String())
		if err != nil || got != c {
			t.Errorf("ParseCategory(%q)=%v,%v", c.String(), got, err)
		}
	}
	if _, err := ParseCategory("colour"); err == nil {
		t.Error("expected error for unknown category")
	}
}
