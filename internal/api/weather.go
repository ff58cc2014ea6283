package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/pricepulse/internal/model"
)

// WeatherClient fetches current conditions and short history from
// OpenWeather in metric units.
type WeatherClient struct {
	c *Client
}

// NewWeatherClient creates an OpenWeather client.
func NewWeatherClient(baseURL, apiKey string, opts ...ClientOption) *WeatherClient {
	opts = append([]ClientOption{WithKeyParam("appid")}, opts...)
	return &WeatherClient{c: NewClient(baseURL, apiKey, opts...)}
}

// Configured reports whether an API key is set.
func (w *WeatherClient) Configured() bool {
	return w.c.HasKey()
}

func (w *WeatherClient) current(ctx context.Context, city string) (CurrentWeatherResponse, error) {
	var resp CurrentWeatherResponse
	query := url.Values{"q": {city}, "units": {"metric"}}
	if err := w.c.get(ctx, "/weather", query, &resp); err != nil {
		return resp, fmt.Errorf("current weather for %s: %w", city, err)
	}
	return resp, nil
}

// Current returns the current weather for one city.
func (w *WeatherClient) Current(ctx context.Context, city string) (model.WeatherCity, error) {
	resp, err := w.current(ctx, city)
	if err != nil {
		return model.WeatherCity{}, err
	}
	return ToWeatherCity(resp), nil
}

// CurrentAll fetches every city concurrently. Results keep the order of
// cities; any failure fails the whole call.
func (w *WeatherClient) CurrentAll(ctx context.Context, cities []string) ([]model.WeatherCity, error) {
	out := make([]model.WeatherCity, len(cities))

	g, gctx := errgroup.WithContext(ctx)
	for i, city := range cities {
		g.Go(func() error {
			wc, err := w.Current(gctx, city)
			if err != nil {
				return err
			}
			out[i] = wc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// History returns the current weather and a daily timeline for city. It
// tries the One Call daily forecast first and falls back to the 5 day
// forecast, keeping one entry per day.
func (w *WeatherClient) History(ctx context.Context, city string) (model.WeatherCity, []model.WeatherHistoryEntry, error) {
	cur, err := w.current(ctx, city)
	if err != nil {
		return model.WeatherCity{}, nil, err
	}

	coords := url.Values{
		"lat":   {strconv.FormatFloat(cur.Coord.Lat, 'f', -1, 64)},
		"lon":   {strconv.FormatFloat(cur.Coord.Lon, 'f', -1, 64)},
		"units": {"metric"},
	}

	oneCall := url.Values{"exclude": {"current,minutely,hourly,alerts"}}
	for k, v := range coords {
		oneCall[k] = v
	}
	var daily OneCallResponse
	err = w.c.get(ctx, "/onecall", oneCall, &daily)
	if err == nil {
		return ToWeatherCity(cur), OneCallHistory(daily), nil
	}
	w.c.logger.Debug("onecall unavailable, using forecast", "city", city, "error", err)

	var forecast ForecastResponse
	if err := w.c.get(ctx, "/forecast", coords, &forecast); err != nil {
		return model.WeatherCity{}, nil, fmt.Errorf("%w for %s: %w", ErrNoForecast, city, err)
	}
	return ToWeatherCity(cur), ForecastHistory(forecast), nil
}
