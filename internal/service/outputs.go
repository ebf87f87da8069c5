package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-voyages/internal/config"
	"github.com/joeblew999/plat-voyages/internal/pmtiles"
)

// ErrNotFound is returned for unknown output names.
var ErrNotFound = errors.New("output not found")

// OutputService lists and reads generated files.
type OutputService struct {
	cfg config.OutputConfig
}

// NewOutputService creates an output service over the configured data
// directory.
func NewOutputService(cfg config.OutputConfig) *OutputService {
	return &OutputService{cfg: cfg}
}

// Kind maps an output file name to its kind, or "" when the name is not one
// the pipeline writes.
func (s *OutputService) Kind(name string) string {
	switch name {
	case s.cfg.Arcs:
		return KindArcs
	case s.cfg.Segments:
		return KindSegments
	case s.cfg.Ports:
		return KindPorts
	}
	return ""
}

// Name returns the file name written for a build kind.
func (s *OutputService) Name(kind string) string {
	switch kind {
	case KindArcs:
		return s.cfg.Arcs
	case KindSegments:
		return s.cfg.Segments
	case KindPorts:
		return s.cfg.Ports
	}
	return ""
}

// List returns the generated GeoJSON files and tile archives.
func (s *OutputService) List() ([]OutputFile, error) {
	var files []OutputFile

	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	for _, entry := range entries {
		kind := s.Kind(entry.Name())
		if entry.IsDir() || kind == "" {
			continue
		}
		if f, ok := fileInfo(entry, kind); ok {
			files = append(files, f)
		}
	}

	tiles, err := os.ReadDir(s.cfg.TilesDir())
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	for _, entry := range tiles {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".pmtiles" {
			continue
		}
		f, ok := fileInfo(entry, "tiles")
		if !ok {
			continue
		}
		if info, err := pmtiles.InspectFile(filepath.Join(s.cfg.TilesDir(), entry.Name())); err == nil {
			f.Archive = &info
		}
		files = append(files, f)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	if files == nil {
		files = []OutputFile{}
	}
	return files, nil
}

func fileInfo(entry os.DirEntry, kind string) (OutputFile, bool) {
	info, err := entry.Info()
	if err != nil {
		return OutputFile{}, false
	}
	return OutputFile{
		Name:     entry.Name(),
		Kind:     kind,
		Size:     formatSize(info.Size()),
		Modified: info.ModTime().UTC(),
	}, true
}

// Read loads a generated GeoJSON output by file name.
func (s *OutputService) Read(name string) (*geojson.FeatureCollection, error) {
	if strings.ContainsAny(name, `/\`) || s.Kind(name) == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	data, err := os.ReadFile(filepath.Join(s.cfg.Dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s (not built yet)", ErrNotFound, name)
		}
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	return fc, nil
}

// Dir returns the data directory.
func (s *OutputService) Dir() string {
	return s.cfg.Dir
}

// TilesDir returns the tile archive directory.
func (s *OutputService) TilesDir() string {
	return s.cfg.TilesDir()
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
