// Package service runs the voyage pipeline and manages its outputs.
package service

import (
	"time"

	"github.com/joeblew999/plat-voyages/internal/pmtiles"
)

// Build kinds accepted by Pipeline.Run.
const (
	KindArcs     = "arcs"
	KindSegments = "segments"
	KindPorts    = "ports"
	KindAll      = "all"
)

// Kinds lists the build kinds in run order for KindAll.
var Kinds = []string{KindArcs, KindSegments, KindPorts}

// OutputFile is a generated GeoJSON or tile file.
type OutputFile struct {
	Name     string    `json:"name" doc:"File name" example:"tripArcs.geojson"`
	Kind     string    `json:"kind" doc:"Output kind" enum:"arcs,segments,ports,tiles" example:"arcs"`
	Size     string    `json:"size" doc:"Human-readable file size" example:"1.2 MB"`
	Modified time.Time `json:"modified" doc:"Last modification time"`
	// Archive is set for tile archives with a readable header.
	Archive *pmtiles.Info `json:"archive,omitempty" doc:"Tile count, zoom range and bounds of a PMTiles archive"`
}

// BuildResult summarises one pipeline run.
type BuildResult struct {
	ID         string         `json:"id" doc:"Build identifier"`
	Kind       string         `json:"kind" doc:"Requested build kind" example:"all"`
	Features   map[string]int `json:"features" doc:"Features written per output kind"`
	Legs       int            `json:"legs" doc:"Trip legs read"`
	Ports      int            `json:"ports" doc:"Ports indexed"`
	Unresolved []string       `json:"unresolved,omitempty" doc:"Leg port names missing from the ports table"`
	Routed     bool           `json:"routed" doc:"Whether land-avoiding routing was used"`
	Duration   string         `json:"duration" doc:"Wall-clock duration" example:"1.2s"`
}

// ProgressFunc is called with progress updates during a build.
type ProgressFunc func(progress int, status string)
