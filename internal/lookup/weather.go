// Package lookup fetches the point-of-interest details the map shows when a
// port is clicked: current weather and the port's Wikidata entity.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"
)

// ErrNoKey is returned when the weather API key is not configured.
var ErrNoKey = errors.New("weather api key not configured")

// ErrUpstream wraps non-success responses from a lookup service.
var ErrUpstream = errors.New("lookup service error")

// Weather is the summary extracted from an OpenWeatherMap response. Units
// are imperial.
type Weather struct {
	Location    string  `json:"location" doc:"Nearest named location"`
	Conditions  string  `json:"conditions" doc:"Short description, e.g. light rain"`
	Icon        string  `json:"icon,omitempty" doc:"OpenWeatherMap icon code"`
	TempF       float64 `json:"tempF" doc:"Temperature in Fahrenheit"`
	Humidity    float64 `json:"humidity" doc:"Relative humidity in percent"`
	WindMph     float64 `json:"windMph" doc:"Wind speed in miles per hour"`
	WindDegrees float64 `json:"windDeg" doc:"Wind direction in degrees"`
}

// WeatherClient proxies current-weather requests.
type WeatherClient struct {
	client  *http.Client
	baseURL string
	key     string
}

// NewWeatherClient creates a weather client. A nil client uses
// http.DefaultClient.
func NewWeatherClient(client *http.Client, baseURL, key string) *WeatherClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &WeatherClient{client: client, baseURL: baseURL, key: key}
}

// Current returns the weather at a coordinate along with the raw upstream
// JSON.
func (c *WeatherClient) Current(ctx context.Context, lat, lng float64) (*Weather, []byte, error) {
	if c.key == "" {
		return nil, nil, ErrNoKey
	}

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("units", "imperial")
	q.Set("appid", c.key)

	body, err := get(ctx, c.client, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("weather: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, nil, fmt.Errorf("weather: %w: invalid json", ErrUpstream)
	}

	r := gjson.ParseBytes(body)
	return &Weather{
		Location:    r.Get("name").String(),
		Conditions:  r.Get("weather.0.description").String(),
		Icon:        r.Get("weather.0.icon").String(),
		TempF:       r.Get("main.temp").Float(),
		Humidity:    r.Get("main.humidity").Float(),
		WindMph:     r.Get("wind.speed").Float(),
		WindDegrees: r.Get("wind.deg").Float(),
	}, body, nil
}

func get(ctx context.Context, client *http.Client, u string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(body, "message").String()
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("%w: %s", ErrUpstream, msg)
	}
	return body, nil
}
