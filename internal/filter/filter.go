// Package filter selects voyage features by ship, origin, destination and
// year, the way the map's checkbox and slider controls do.
package filter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"
)

// Category is a filterable feature attribute.
type Category int

const (
	// Ship matches the "ship" property.
	Ship Category = iota
	// From matches the origin port in "from".
	From
	// To matches the destination port in "to".
	To
	// Year matches the "year" property against an inclusive range.
	Year
)

// Categories lists every category in display order.
var Categories = []Category{Ship, From, To, Year}

// String returns the property name the category reads.
func (c Category) String() string {
	switch c {
	case Ship:
		return "ship"
	case From:
		return "from"
	case To:
		return "to"
	case Year:
		return "year"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// ParseCategory maps a property name back to its category.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if c.String() == strings.ToLower(strings.TrimSpace(s)) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown filter category %q", s)
}

// Extract returns the feature's value for the category, or "" when absent.
func (c Category) Extract(f *geojson.Feature) string {
	switch c {
	case Ship:
		return f.Properties.MustString("ship", "")
	case From:
		return f.Properties.MustString("from", "")
	case To:
		return f.Properties.MustString("to", "")
	case Year:
		switch v := f.Properties["year"].(type) {
		case string:
			return v
		case float64:
			return strconv.Itoa(int(v))
		case int:
			return strconv.Itoa(v)
		}
	}
	return ""
}

// Options returns the distinct non-empty values of a category in fc,
// sorted.
func Options(fc *geojson.FeatureCollection, c Category) []string {
	seen := make(map[string]struct{})
	for _, f := range fc.Features {
		if v := c.Extract(f); v != "" {
			seen[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// YearRange returns the smallest and largest numeric year in fc. ok is false
// when no feature has one.
func YearRange(fc *geojson.FeatureCollection) (min, max int, ok bool) {
	for _, f := range fc.Features {
		y, err := strconv.Atoi(Year.Extract(f))
		if err != nil {
			continue
		}
		if !ok || y < min {
			min = y
		}
		if !ok || y > max {
			max = y
		}
		ok = true
	}
	return min, max, ok
}

// State is a filter selection. The zero value matches everything. Methods
// return modified copies, leaving the receiver untouched.
type State struct {
	selected map[Category]map[string]struct{}
	// YearMin and YearMax bound the year inclusively; 0 means unbounded.
	YearMin, YearMax int
}

// Select returns a copy of s that keeps only features whose category value
// is one of values. Selecting no values clears the category.
func (s State) Select(c Category, values ...string) State {
	next := s.clone()
	if len(values) == 0 {
		delete(next.selected, c)
		return next
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	next.selected[c] = set
	return next
}

// Years returns a copy of s bounded to [min, max].
func (s State) Years(min, max int) State {
	next := s.clone()
	next.YearMin, next.YearMax = min, max
	return next
}

// Selected returns the sorted values selected for a category.
func (s State) Selected(c Category) []string {
	out := make([]string, 0, len(s.selected[c]))
	for v := range s.selected[c] {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Empty reports whether s matches every feature.
func (s State) Empty() bool {
	return len(s.selected) == 0 && s.YearMin == 0 && s.YearMax == 0
}

func (s State) clone() State {
	next := State{
		selected: make(map[Category]map[string]struct{}, len(s.selected)),
		YearMin:  s.YearMin,
		YearMax:  s.YearMax,
	}
	for c, set := range s.selected {
		next.selected[c] = set
	}
	return next
}

// Match reports whether f passes every active condition.
func (s State) Match(f *geojson.Feature) bool {
	for c, set := range s.selected {
		if _, ok := set[c.Extract(f)]; !ok {
			return false
		}
	}
	if s.YearMin != 0 || s.YearMax != 0 {
		y, err := strconv.Atoi(Year.Extract(f))
		if err != nil {
			return false
		}
		if s.YearMin != 0 && y < s.YearMin {
			return false
		}
		if s.YearMax != 0 && y > s.YearMax {
			return false
		}
	}
	return true
}

// Apply returns a new collection with the features of fc that match s.
func (s State) Apply(fc *geojson.FeatureCollection) *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	for _, f := range fc.Features {
		if s.Match(f) {
			out.Append(f)
		}
	}
	return out
}
