package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-voyages/internal/config"
)

type InfoHandler struct {
	cfg  *config.Config
	dbOK bool
}

func NewInfoHandler(cfg *config.Config, dbOK bool) *InfoHandler {
	return &InfoHandler{cfg: cfg, dbOK: dbOK}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name     string   `json:"name" doc:"Service name"`
	Version  string   `json:"version" doc:"Service version"`
	DataDir  string   `json:"data_dir" doc:"Output directory path"`
	DB       bool     `json:"db" doc:"Whether the staging database is available"`
	Routing  bool     `json:"routing" doc:"Whether voyages are routed around land"`
	Boundary string   `json:"boundary" doc:"How voyage boundaries are detected" enum:"year,identity"`
	Features []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	features := []string{"geojson", "pmtiles", "filters"}
	if h.cfg.Routing.Enabled {
		features = append(features, "routing")
	}
	if h.dbOK {
		features = append(features, "duckdb")
	}
	if h.cfg.Lookup.WeatherKey != "" {
		features = append(features, "weather")
	}
	if h.cfg.NATS.URL != "" {
		features = append(features, "nats")
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:     "plat-voyages",
		Version:  "0.1.0",
		DataDir:  h.cfg.Output.Dir,
		DB:       h.dbOK,
		Routing:  h.cfg.Routing.Enabled,
		Boundary: h.cfg.Sources.Boundary,
		Features: append(features, "wikidata"),
	}}, nil
}
