package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/joeblew999/plat-voyages/internal/api"
	"github.com/joeblew999/plat-voyages/internal/config"
	"github.com/joeblew999/plat-voyages/internal/db"
	"github.com/joeblew999/plat-voyages/internal/lookup"
	"github.com/joeblew999/plat-voyages/internal/metrics"
	"github.com/joeblew999/plat-voyages/internal/service"
)

// Config holds the server configuration.
type Config struct {
	Host string
	Port string
	App  *config.Config
	// NoDB skips opening the DuckDB staging database.
	NoDB   bool
	Logger *log.Logger
}

// Server is the voyages HTTP server.
type Server struct {
	config   Config
	mux      *http.ServeMux
	humaAPI  huma.API
	store    *db.Store
	services *api.Services
	metrics  *metrics.Collector
}

// New creates a new voyages server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	app := cfg.App
	mux := http.NewServeMux()

	// Create Huma API with humago (pure stdlib) adapter
	humaConfig := huma.DefaultConfig("plat-voyages API", "1.0.0")
	humaConfig.Info.Description = "Builds ship voyage GeoJSON and vector tiles from tabular trip records."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())

	humaAPI := humago.New(mux, humaConfig)

	s := &Server{
		config:  cfg,
		mux:     mux,
		humaAPI: humaAPI,
		metrics: metrics.NewCollector(),
	}

	// Initialize DuckDB connection
	if !cfg.NoDB {
		conn, err := db.Get(db.Config{DataDir: app.Output.Dir, DBName: "voyages"})
		if err != nil {
			cfg.Logger.Printf("[server] duckdb unavailable: %v", err)
		} else {
			s.store = db.NewStore(conn)
		}
	}

	client := &http.Client{Timeout: app.Lookup.Timeout}
	bus := service.NewEventBus()
	opts := []service.PipelineOption{
		service.WithBus(bus),
		service.WithMetrics(s.metrics),
		service.WithLogger(cfg.Logger),
	}
	if s.store != nil {
		opts = append(opts, service.WithStore(s.store))
	}
	s.services = &api.Services{
		Outputs:  service.NewOutputService(app.Output),
		Pipeline: service.NewPipeline(app, opts...),
		Bus:      bus,
		Weather:  lookup.NewWeatherClient(client, app.Lookup.WeatherURL, app.Lookup.WeatherKey),
		Wikidata: lookup.NewWikidataClient(client, app.Lookup.WikidataURL, app.Lookup.UserAgent),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close closes server resources.
func (s *Server) Close() error {
	if s.store == nil {
		return nil
	}
	return db.Close()
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Bus returns the build event bus.
func (s *Server) Bus() *service.EventBus {
	return s.services.Bus
}

// Metrics returns the server's metrics collector.
func (s *Server) Metrics() *metrics.Collector {
	return s.metrics
}

func (s *Server) routes() {
	// Register Huma REST API routes (OpenAPI-documented JSON endpoints)
	api.Register(s.humaAPI, s.services,
		api.NewInfoHandler(s.config.App, s.store != nil),
		api.NewDBHandler(s.store),
	)

	s.mux.Handle("/metrics", s.metrics.Handler())

	// Generated files for map clients
	out := s.config.App.Output
	s.mux.Handle("/tiles/", http.StripPrefix("/tiles/", cors(http.FileServer(http.Dir(out.TilesDir())))))
	s.mux.Handle("/data/", http.StripPrefix("/data/", cors(http.FileServer(http.Dir(out.Dir)))))

	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "plat-voyages",
		"status":  "running",
	})
}

// cors allows browsers to fetch files and issue range requests for
// PMTiles.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
