package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// weatherTimeout bounds one forecast lookup.
const weatherTimeout = 10 * time.Second

// Conditions is the public shape returned to the model.
type Conditions struct {
	TemperatureC float64 `json:"temperatureC"`
	WindSpeedKmh float64 `json:"windSpeedKmh"`
	WeatherCode  int     `json:"weatherCode"`
}

// WeatherClient fetches current conditions from an open-meteo compatible
// forecast endpoint.
type WeatherClient struct {
	baseURL string
	client  *http.Client
}

// NewWeatherClient creates a client against the given forecast base URL.
func NewWeatherClient(baseURL string) *WeatherClient {
	return &WeatherClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: weatherTimeout},
	}
}

// forecastResponse mirrors the provider's current-conditions payload.
type forecastResponse struct {
	Current struct {
		Temperature float64 `json:"temperature_2m"`
		WindSpeed   float64 `json:"wind_speed_10m"`
		WeatherCode int     `json:"weather_code"`
	} `json:"current"`
}

// Current fetches current conditions for the coordinates.
func (c *WeatherClient) Current(ctx context.Context, latitude, longitude float64) (*Conditions, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%g", latitude))
	q.Set("longitude", fmt.Sprintf("%g", longitude))
	q.Set("current", "temperature_2m,wind_speed_10m,weather_code")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building forecast request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching forecast: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("forecast service returned status %d", resp.StatusCode)
	}

	var fr forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, fmt.Errorf("decoding forecast: %w", err)
	}

	return &Conditions{
		TemperatureC: fr.Current.Temperature,
		WindSpeedKmh: fr.Current.WindSpeed,
		WeatherCode:  fr.Current.WeatherCode,
	}, nil
}

type weatherInput struct {
	Latitude  float64 `json:"latitude" jsonschema_description:"Latitude of the location in decimal degrees"`
	Longitude float64 `json:"longitude" jsonschema_description:"Longitude of the location in decimal degrees"`
}

// WeatherTool looks up current conditions for a coordinate pair. It is the
// only tool with no side effects and no side-channel events.
type WeatherTool struct {
	client *WeatherClient
	def    ai.Tool
}

// NewWeatherTool registers the weather tool declaration with g.
func NewWeatherTool(g *genkit.Genkit, client *WeatherClient) *WeatherTool {
	t := &WeatherTool{client: client}
	t.def = genkit.DefineTool(g, string(GetWeather),
		"Get the current weather conditions at a location given its coordinates.",
		func(tctx *ai.ToolContext, input weatherInput) (*Conditions, error) {
			return t.client.Current(tctx, input.Latitude, input.Longitude)
		})
	return t
}

func (t *WeatherTool) Name() Name          { return GetWeather }
func (t *WeatherTool) Definition() ai.Tool { return t.def }

// Execute implements Tool.
func (t *WeatherTool) Execute(ctx context.Context, inv Invocation) (any, error) {
	var input weatherInput
	if err := json.Unmarshal(inv.Args, &input); err != nil {
		return nil, fmt.Errorf("invalid weather arguments: %w", err)
	}
	return t.client.Current(ctx, input.Latitude, input.Longitude)
}
