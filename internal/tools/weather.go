package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// WeatherTool fetches current conditions from wttr.in.
type WeatherTool struct {
	defaultLocation string
	client          *http.Client
}

// NewWeatherTool creates the weather tool.
func NewWeatherTool(defaultLocation string) *WeatherTool {
	return &WeatherTool{
		defaultLocation: defaultLocation,
		client:          &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *WeatherTool) Name() string { return "WeatherTool" }
func (t *WeatherTool) Init() error  { return nil }

func (t *WeatherTool) Context() string {
	return `Fetch current weather conditions.
Operations:
  current {location?} -> {location, temperature_c, condition, humidity, wind_kmh}`
}

type wttrWireResponse struct {
	CurrentCondition []struct {
		TempC       string `json:"temp_C"`
		Humidity    string `json:"humidity"`
		WindKmph    string `json:"windspeedKmph"`
		WeatherDesc []struct {
			Value string `json:"value"`
		} `json:"weatherDesc"`
	} `json:"current_condition"`
}

func (t *WeatherTool) Run(ctx context.Context, args map[string]any) Result {
	location := GetString(args, "location", t.defaultLocation)
	if location == "" {
		return Fail("WeatherTool: location is required")
	}

	endpoint := fmt.Sprintf("https://wttr.in/%s?format=j1", url.PathEscape(location))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Fail("WeatherTool: %v", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return Fail("WeatherTool: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return Fail("WeatherTool: wttr.in returned status %d: %s", resp.StatusCode, body)
	}

	var wire wttrWireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return Fail("WeatherTool: decode response: %v", err)
	}
	if len(wire.CurrentCondition) == 0 {
		return Fail("WeatherTool: no conditions for %q", location)
	}

	cur := wire.CurrentCondition[0]
	condition := ""
	if len(cur.WeatherDesc) > 0 {
		condition = cur.WeatherDesc[0].Value
	}
	return OK(map[string]any{
		"location":      location,
		"temperature_c": cur.TempC,
		"condition":     condition,
		"humidity":      cur.Humidity,
		"wind_kmh":      cur.WindKmph,
	})
}
