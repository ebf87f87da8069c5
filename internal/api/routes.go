// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-voyages/internal/filter"
	"github.com/joeblew999/plat-voyages/internal/lookup"
	"github.com/joeblew999/plat-voyages/internal/service"
)

// Services holds the service dependencies for API handlers.
type Services struct {
	Outputs  *service.OutputService
	Pipeline *service.Pipeline
	Bus      *service.EventBus
	Weather  *lookup.WeatherClient
	Wikidata *lookup.WikidataClient
}

// Types

type NameInput struct {
	Name string `path:"name" doc:"Output file name" example:"tripArcs.geojson"`
}

type KindInput struct {
	Kind string `path:"kind" doc:"Build kind" enum:"arcs,segments,ports,all" example:"all"`
}

type CityInput struct {
	City string `path:"city" doc:"Port city as written in the ports table" example:"Naples"`
}

// FilterParams selects features the way the map's filter controls do.
type FilterParams struct {
	Ship    []string `query:"ship" doc:"Keep only these ships"`
	From    []string `query:"from" doc:"Keep only features leaving these ports"`
	To      []string `query:"to" doc:"Keep only features arriving at these ports"`
	YearMin int      `query:"yearMin" doc:"Earliest year, inclusive" minimum:"0"`
	YearMax int      `query:"yearMax" doc:"Latest year, inclusive" minimum:"0"`
}

// State converts the query into a filter selection.
func (p FilterParams) State() filter.State {
	return filter.State{}.
		Select(filter.Ship, p.Ship...).
		Select(filter.From, p.From...).
		Select(filter.To, p.To...).
		Years(p.YearMin, p.YearMax)
}

type GeoJSONOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

type FiltersBody struct {
	Ships   []string `json:"ships" doc:"Distinct ship names"`
	From    []string `json:"from" doc:"Distinct origin ports"`
	To      []string `json:"to" doc:"Distinct destination ports"`
	YearMin int      `json:"yearMin,omitempty" doc:"Earliest year present"`
	YearMax int      `json:"yearMax,omitempty" doc:"Latest year present"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

type WeatherInput struct {
	Lat float64 `query:"lat" required:"true" minimum:"-90" maximum:"90" doc:"Latitude"`
	Lng float64 `query:"lng" required:"true" minimum:"-180" maximum:"180" doc:"Longitude"`
}

type WikidataBody struct {
	City    string `json:"city" doc:"Port city"`
	Country string `json:"country" doc:"Port country"`
	ID      string `json:"id" doc:"Wikidata entity ID" example:"Q2634"`
	URL     string `json:"url" doc:"Wikidata entity page"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterOutputs registers routes over the generated files.
func (h *APIHandler) RegisterOutputs(api huma.API) {
	huma.Get(api, "/api/v1/outputs", h.GetOutputs, huma.OperationTags("outputs"))
	huma.Get(api, "/api/v1/outputs/{name}", h.GetOutput, huma.OperationTags("outputs"))
	huma.Get(api, "/api/v1/outputs/{name}/filters", h.GetFilters, huma.OperationTags("outputs"))
}

// RegisterBuilds registers synchronous build routes.
func (h *APIHandler) RegisterBuilds(api huma.API) {
	huma.Post(api, "/api/v1/builds/{kind}", h.PostBuild, huma.OperationTags("builds"))
	huma.Post(api, "/api/v1/tiles", h.PostTiles, huma.OperationTags("builds"))
}

// RegisterLookups registers the port detail lookups.
func (h *APIHandler) RegisterLookups(api huma.API) {
	huma.Get(api, "/api/v1/weather", h.GetWeather, huma.OperationTags("lookups"))
	huma.Get(api, "/api/v1/ports/{city}/weather", h.GetPortWeather, huma.OperationTags("lookups"))
	huma.Get(api, "/api/v1/ports/{city}/wikidata", h.GetPortWikidata, huma.OperationTags("lookups"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: "1.0.0"}}, nil
}

func (h *APIHandler) GetOutputs(ctx context.Context, input *struct{}) (*struct{ Body []service.OutputFile }, error) {
	if h.svc == nil || h.svc.Outputs == nil {
		return &struct{ Body []service.OutputFile }{Body: []service.OutputFile{}}, nil
	}
	files, err := h.svc.Outputs.List()
	if err != nil {
		return nil, huma.Error500InternalServerError("listing outputs", err)
	}
	return &struct{ Body []service.OutputFile }{Body: files}, nil
}

func (h *APIHandler) GetOutput(ctx context.Context, input *struct {
	NameInput
	FilterParams
}) (*GeoJSONOutput, error) {
	fc, err := h.read(input.Name)
	if err != nil {
		return nil, err
	}
	if state := input.FilterParams.State(); !state.Empty() {
		fc = state.Apply(fc)
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return nil, huma.Error500InternalServerError("encoding output", err)
	}
	return &GeoJSONOutput{ContentType: "application/geo+json", Body: data}, nil
}

func (h *APIHandler) GetFilters(ctx context.Context, input *NameInput) (*struct{ Body FiltersBody }, error) {
	fc, err := h.read(input.Name)
	if err != nil {
		return nil, err
	}
	body := FiltersBody{
		Ships: filter.Options(fc, filter.Ship),
		From:  filter.Options(fc, filter.From),
		To:    filter.Options(fc, filter.To),
	}
	if lo, hi, ok := filter.YearRange(fc); ok {
		body.YearMin, body.YearMax = lo, hi
	}
	return &struct{ Body FiltersBody }{Body: body}, nil
}

func (h *APIHandler) PostBuild(ctx context.Context, input *KindInput) (*struct{ Body *service.BuildResult }, error) {
	if h.svc == nil || h.svc.Pipeline == nil {
		return nil, huma.Error503ServiceUnavailable("pipeline not available")
	}
	res, err := h.svc.Pipeline.Run(ctx, input.Kind, nil)
	if err != nil {
		return nil, buildError(err)
	}
	return &struct{ Body *service.BuildResult }{Body: res}, nil
}

func (h *APIHandler) PostTiles(ctx context.Context, input *struct{}) (*struct{ Body map[string]int }, error) {
	if h.svc == nil || h.svc.Pipeline == nil {
		return nil, huma.Error503ServiceUnavailable("pipeline not available")
	}
	written, err := h.svc.Pipeline.Tiles(ctx, nil)
	if err != nil {
		return nil, huma.Error500InternalServerError("rendering tiles", err)
	}
	return &struct{ Body map[string]int }{Body: written}, nil
}

func (h *APIHandler) GetWeather(ctx context.Context, input *WeatherInput) (*struct{ Body *lookup.Weather }, error) {
	return h.weather(ctx, input.Lat, input.Lng)
}

func (h *APIHandler) GetPortWeather(ctx context.Context, input *CityInput) (*struct{ Body *lookup.Weather }, error) {
	port, err := h.port(input.City)
	if err != nil {
		return nil, err
	}
	pt := port.Geometry.(orb.Point)
	return h.weather(ctx, pt.Lat(), pt.Lon())
}

func (h *APIHandler) GetPortWikidata(ctx context.Context, input *CityInput) (*struct{ Body WikidataBody }, error) {
	if h.svc == nil || h.svc.Wikidata == nil {
		return nil, huma.Error503ServiceUnavailable("wikidata lookup not available")
	}
	port, err := h.port(input.City)
	if err != nil {
		return nil, err
	}
	country := port.Properties.MustString("country", "")
	id, err := h.svc.Wikidata.EntityID(ctx, input.City, country)
	switch {
	case errors.Is(err, lookup.ErrUpstream):
		return nil, huma.Error502BadGateway(err.Error())
	case err != nil:
		return nil, huma.Error500InternalServerError("wikidata lookup", err)
	case id == "":
		return nil, huma.Error404NotFound("no wikidata entity for " + input.City)
	}
	return &struct{ Body WikidataBody }{Body: WikidataBody{
		City: input.City, Country: country, ID: id,
		URL: "https://www.wikidata.org/wiki/" + id,
	}}, nil
}

func (h *APIHandler) read(name string) (*geojson.FeatureCollection, error) {
	if h.svc == nil || h.svc.Outputs == nil {
		return nil, huma.Error503ServiceUnavailable("outputs not available")
	}
	fc, err := h.svc.Outputs.Read(name)
	if errors.Is(err, service.ErrNotFound) {
		return nil, huma.Error404NotFound(err.Error())
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("reading output", err)
	}
	return fc, nil
}

// port finds a city in the generated ports output.
func (h *APIHandler) port(city string) (*geojson.Feature, error) {
	if h.svc == nil || h.svc.Outputs == nil {
		return nil, huma.Error503ServiceUnavailable("outputs not available")
	}
	fc, err := h.read(h.svc.Outputs.Name(service.KindPorts))
	if err != nil {
		return nil, err
	}
	for _, f := range fc.Features {
		if _, ok := f.Geometry.(orb.Point); ok && f.Properties.MustString("city", "") == city {
			return f, nil
		}
	}
	return nil, huma.Error404NotFound("unknown port " + city)
}

func (h *APIHandler) weather(ctx context.Context, lat, lng float64) (*struct{ Body *lookup.Weather }, error) {
	if h.svc == nil || h.svc.Weather == nil {
		return nil, huma.Error503ServiceUnavailable("weather lookup not available")
	}
	w, _, err := h.svc.Weather.Current(ctx, lat, lng)
	switch {
	case errors.Is(err, lookup.ErrNoKey):
		return nil, huma.Error503ServiceUnavailable(err.Error())
	case errors.Is(err, lookup.ErrUpstream):
		return nil, huma.Error502BadGateway(err.Error())
	case err != nil:
		return nil, huma.Error500InternalServerError("weather lookup", err)
	}
	return &struct{ Body *lookup.Weather }{Body: w}, nil
}

func buildError(err error) error {
	switch {
	case errors.Is(err, service.ErrUnknownKind):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, service.ErrBusy):
		return huma.Error409Conflict(err.Error())
	default:
		return huma.Error500InternalServerError("build failed", err)
	}
}

// RouteRegistrar is a handler group with its own route table.
type RouteRegistrar interface {
	RegisterRoutes(api huma.API)
}

// Register wires every handler onto api.
func Register(api huma.API, svc *Services, extra ...RouteRegistrar) {
	huma.AutoRegister(api, NewAPIHandler(svc))
	huma.AutoRegister(api, NewStreamHandler(svc))
	for _, r := range extra {
		r.RegisterRoutes(api)
	}
}
