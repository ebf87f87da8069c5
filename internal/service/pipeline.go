package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-voyages/internal/config"
	"github.com/joeblew999/plat-voyages/internal/db"
	"github.com/joeblew999/plat-voyages/internal/output"
	"github.com/joeblew999/plat-voyages/internal/ports"
	"github.com/joeblew999/plat-voyages/internal/routing"
	"github.com/joeblew999/plat-voyages/internal/source"
	"github.com/joeblew999/plat-voyages/internal/tiles"
	"github.com/joeblew999/plat-voyages/internal/voyage"
)

var (
	// ErrUnknownKind is returned for build kinds other than arcs, segments,
	// ports and all.
	ErrUnknownKind = errors.New("unknown build kind")
	// ErrBusy is returned when a build is already running.
	ErrBusy = errors.New("a build is already running")
)

// Metrics receives pipeline counters. metrics.Collector satisfies it.
type Metrics interface {
	voyage.Metrics
	BuildFinished(kind string, seconds float64, err error)
}

// Pipeline fetches the source tables and writes the voyage outputs.
type Pipeline struct {
	cfg     *config.Config
	loader  *source.Loader
	store   *db.Store
	metrics Metrics
	bus     *EventBus
	logger  *log.Logger

	mu        sync.Mutex
	obstacles *routing.Obstacles
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithStore stages source tables in DuckDB on every run.
func WithStore(s *db.Store) PipelineOption {
	return func(p *Pipeline) { p.store = s }
}

// WithMetrics records pipeline metrics.
func WithMetrics(m Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// WithBus publishes build events.
func WithBus(b *EventBus) PipelineOption {
	return func(p *Pipeline) { p.bus = b }
}

// WithLogger sets the pipeline logger.
func WithLogger(l *log.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithHTTPClient sets the client used to fetch remote tables.
func WithHTTPClient(c *http.Client) PipelineOption {
	return func(p *Pipeline) { p.loader = source.NewLoader(c) }
}

// NewPipeline creates a pipeline for the given configuration.
func NewPipeline(cfg *config.Config, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		cfg:    cfg,
		loader: source.NewLoader(&http.Client{Timeout: cfg.Sources.Timeout}),
		logger: log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ValidKind reports whether kind is a build kind Run accepts.
func ValidKind(kind string) bool {
	switch kind {
	case KindArcs, KindSegments, KindPorts, KindAll:
		return true
	}
	return false
}

// Run executes one build. Only one build runs at a time.
func (p *Pipeline) Run(ctx context.Context, kind string, onProgress ProgressFunc) (*BuildResult, error) {
	if !ValidKind(kind) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if !p.mu.TryLock() {
		return nil, ErrBusy
	}
	defer p.mu.Unlock()

	start := time.Now()
	res := &BuildResult{
		ID:       uuid.NewString(),
		Kind:     kind,
		Features: map[string]int{},
		Routed:   p.cfg.Routing.Enabled,
	}
	progress := func(pct int, status string) {
		p.logger.Printf("[pipeline] %s %3d%% %s", res.ID[:8], pct, status)
		p.publish(res, "progress", pct, status)
		if onProgress != nil {
			onProgress(pct, status)
		}
	}

	p.publish(res, "started", 0, "build started")
	err := p.run(ctx, res, progress)
	res.Duration = time.Since(start).Round(time.Millisecond).String()

	if p.metrics != nil {
		p.metrics.BuildFinished(kind, time.Since(start).Seconds(), err)
	}
	if err != nil {
		p.logger.Printf("[pipeline] build %s failed: %v", res.ID, err)
		p.publish(res, "failed", 100, err.Error())
		return res, err
	}
	p.publish(res, "finished", 100, fmt.Sprintf("build finished in %s", res.Duration))
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, res *BuildResult, progress ProgressFunc) error {
	progress(5, "fetching ports")
	portRecs, err := p.loader.Ports(ctx, p.cfg.Sources.PortsURL)
	if err != nil {
		return err
	}
	progress(15, "fetching trip legs")
	legs, err := p.loader.Legs(ctx, p.cfg.Sources.LegsURL, p.cfg.Sources.LegLimit)
	if err != nil {
		return err
	}
	res.Legs = len(legs)

	index := ports.Build(portRecs, p.logger)
	res.Ports = index.Len()

	var visits map[string]int
	if p.store != nil {
		progress(25, "staging tables")
		if err := p.store.Stage(ctx, portRecs, legs); err != nil {
			return fmt.Errorf("staging: %w", err)
		}
		if visits, err = p.store.VisitCounts(ctx); err != nil {
			return err
		}
		if res.Unresolved, err = p.store.UnresolvedPorts(ctx); err != nil {
			return err
		}
	} else {
		visits = voyage.VisitCounts(index, legs)
		res.Unresolved = unresolved(index, legs)
	}

	builderOpts := []voyage.Option{
		voyage.WithBoundary(voyage.Boundary(p.cfg.Sources.Boundary)),
		voyage.WithLogger(p.logger),
	}
	if p.metrics != nil {
		builderOpts = append(builderOpts, voyage.WithMetrics(p.metrics))
	}
	if p.cfg.Routing.Enabled && res.Kind != KindPorts {
		progress(30, "loading land obstacles")
		c, err := p.routedConnector()
		if err != nil {
			return err
		}
		builderOpts = append(builderOpts, voyage.WithConnector(c))
	}
	b := voyage.NewBuilder(index, builderOpts...)

	steps := []struct {
		kind  string
		path  string
		build func() *geojson.FeatureCollection
	}{
		{KindArcs, p.cfg.Output.ArcsPath(), func() *geojson.FeatureCollection { return b.Voyages(legs) }},
		{KindSegments, p.cfg.Output.SegmentsPath(), func() *geojson.FeatureCollection { return b.Segments(legs) }},
		{KindPorts, p.cfg.Output.PortsPath(), func() *geojson.FeatureCollection { return voyage.PortFeatures(index, visits) }},
	}

	pct := 40
	for _, step := range steps {
		if res.Kind != KindAll && res.Kind != step.kind {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		progress(pct, "building "+step.kind)
		fc := step.build()
		if err := output.WriteFeatureCollection(step.path, fc); err != nil {
			return err
		}
		if step.kind == KindPorts && p.metrics != nil {
			for range fc.Features {
				p.metrics.FeatureEmitted("port")
			}
		}
		res.Features[step.kind] = len(fc.Features)
		p.logger.Printf("[pipeline] wrote %d features to %s", len(fc.Features), step.path)
		pct += 20
	}
	return nil
}

func (p *Pipeline) routedConnector() (voyage.Connector, error) {
	if p.obstacles == nil {
		obs, err := routing.LoadObstacles(p.cfg.Routing.Obstacles)
		if err != nil {
			return nil, fmt.Errorf("%w: obstacles: %v", source.ErrFetch, err)
		}
		p.logger.Printf("[pipeline] loaded %d obstacle polygons from %s", obs.Len(), p.cfg.Routing.Obstacles)
		p.obstacles = obs
	}

	opts := routing.DefaultOptions()
	opts.Resolution = p.cfg.Routing.Resolution
	opts.Margin = p.cfg.Routing.Margin
	opts.MaxNodes = p.cfg.Routing.MaxNodes
	opts.Simplify = p.cfg.Routing.Simplify

	var m voyage.Metrics
	if p.metrics != nil {
		m = p.metrics
	}
	return voyage.NewRouted(routing.NewRouter(p.obstacles, opts), p.cfg.Routing.ArcPoints, p.logger, m), nil
}

// Tiles renders every built GeoJSON output into a PMTiles archive. Outputs
// that have not been built are skipped. It returns tiles written per file.
func (p *Pipeline) Tiles(ctx context.Context, onProgress ProgressFunc) (map[string]int, error) {
	out := make(map[string]int)
	names := []struct{ kind, name string }{
		{KindArcs, p.cfg.Output.Arcs},
		{KindSegments, p.cfg.Output.Segments},
		{KindPorts, p.cfg.Output.Ports},
	}
	outputs := NewOutputService(p.cfg.Output)

	for i, n := range names {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		fc, err := outputs.Read(n.name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return out, err
		}
		if len(fc.Features) == 0 {
			continue
		}

		archive := strings.TrimSuffix(n.name, filepath.Ext(n.name)) + ".pmtiles"
		if onProgress != nil {
			onProgress(i*100/len(names), "rendering "+archive)
		}
		count, err := tiles.WriteFile(filepath.Join(p.cfg.Output.TilesDir(), archive), fc, tiles.Config{
			Layer:   n.kind,
			MinZoom: p.cfg.Output.MinZoom,
			MaxZoom: p.cfg.Output.MaxZoom,
		})
		if err != nil {
			return out, err
		}
		p.logger.Printf("[tiles] wrote %d tiles to %s", count, archive)
		out[archive] = count
	}
	if onProgress != nil {
		onProgress(100, "tiles generated")
	}
	return out, nil
}

func (p *Pipeline) publish(res *BuildResult, stage string, pct int, msg string) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(Event{
		BuildID:  res.ID,
		Kind:     res.Kind,
		Stage:    stage,
		Progress: pct,
		Message:  msg,
		Time:     time.Now().UTC(),
	})
}

func unresolved(index *ports.Index, legs []source.TripLegRecord) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range legs {
		if _, ok := index.Lookup(l.PortCity); ok || seen[l.PortCity] {
			continue
		}
		seen[l.PortCity] = true
		out = append(out, l.PortCity)
	}
	return out
}
