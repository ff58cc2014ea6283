package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kylelemons/godebug/pretty"

	"github.com/rickgao/pricepulse/internal/api"
	"github.com/rickgao/pricepulse/internal/market"
	"github.com/rickgao/pricepulse/internal/model"
	"github.com/rickgao/pricepulse/internal/notify"
)

// -----------------------------------------------------------------------------
// Fakes
// -----------------------------------------------------------------------------

type fakeStream struct {
	mu         sync.Mutex
	status     model.Status
	connects   int
	disconnect int
	err        error
	ch         chan model.Status
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		status: model.Status{State: model.StateDisconnected, Assets: []string{"bitcoin"}},
		ch:     make(chan model.Status, 4),
	}
}

func (f *fakeStream) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.connects++
	f.status.State = model.StateConnecting
	return nil
}

func (f *fakeStream) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnect++
	f.status.State = model.StateDisconnected
	f.status.Connected = false
	return nil
}

func (f *fakeStream) AddAsset(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id = model.NormalizeAsset(id)
	for _, a := range f.status.Assets {
		if a == id {
			return false, nil
		}
	}
	f.status.Assets = append(f.status.Assets, id)
	return true, nil
}

func (f *fakeStream) Status() model.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.status
	s.Assets = append([]string(nil), f.status.Assets...)
	return s
}

func (f *fakeStream) Subscribe() (<-chan model.Status, func()) {
	return f.ch, func() {}
}

type fakeWeather struct {
	mu         sync.Mutex
	configured bool
	cities     []model.WeatherCity
	err        error
	historyErr error
	calls      int
}

func (f *fakeWeather) Configured() bool { return f.configured }

func (f *fakeWeather) CurrentAll(_ context.Context, cities []string) ([]model.WeatherCity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.cities, nil
}

func (f *fakeWeather) History(_ context.Context, city string) (model.WeatherCity, []model.WeatherHistoryEntry, error) {
	if f.historyErr != nil {
		return model.WeatherCity{}, nil, f.historyErr
	}
	return model.WeatherCity{Name: city, Temperature: 12},
		[]model.WeatherHistoryEntry{{Date: "1/15/2024", Temperature: 10, Humidity: 80, Conditions: "Rain"}},
		nil
}

func (f *fakeWeather) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSnapshot struct {
	cities []model.WeatherCity
	at     time.Time
}

func (f fakeSnapshot) Latest() ([]model.WeatherCity, time.Time) { return f.cities, f.at }

type fakeNews struct {
	configured bool
	articles   []model.Article
	err        error
}

func (f fakeNews) Configured() bool { return f.configured }

func (f fakeNews) Latest(context.Context) ([]model.Article, error) {
	return f.articles, f.err
}

type fakeMarkets struct {
	mu      sync.Mutex
	markets []model.MarketData
	err     error
	ids     []string
}

func (f *fakeMarkets) Markets(_ context.Context, ids []string) ([]model.MarketData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append([]string(nil), ids...)
	return f.markets, f.err
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

type testEnv struct {
	server *Server
	stream *fakeStream
	store  *market.Store
	log    *notify.Log
}

func newTestEnv(t *testing.T, mutate func(*Config, *Deps)) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	env := &testEnv{
		stream: newFakeStream(),
		store:  market.NewStore([]string{"bitcoin", "ethereum"}),
		log:    notify.NewLog(logger),
	}
	cfg := Config{
		Mode:   gin.TestMode,
		Cities: []string{"New York", "London", "Tokyo"},
	}
	deps := Deps{
		Stream:        env.stream,
		Prices:        env.store,
		Notifications: env.log,
		Weather:       &fakeWeather{configured: true},
		News:          fakeNews{configured: true},
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	env.server = New(cfg, deps, logger)

	ctx, cancel := context.WithCancel(context.Background())
	env.server.startBackground(ctx)
	t.Cleanup(func() {
		cancel()
		env.server.wg.Wait()
	})
	return env
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return v
}

// -----------------------------------------------------------------------------
// Weather
// -----------------------------------------------------------------------------

func TestWeather_Errors(t *testing.T) {
	tests := []struct {
		name       string
		weather    *fakeWeather
		path       string
		wantStatus int
		wantError  string
	}{
		{
			name:       "not configured",
			weather:    &fakeWeather{},
			path:       "/weather?action=all",
			wantStatus: http.StatusInternalServerError,
			wantError:  "OpenWeather API key not configured",
		},
		{
			name:       "missing action",
			weather:    &fakeWeather{configured: true},
			path:       "/weather",
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid request parameters",
		},
		{
			name:       "city action without city",
			weather:    &fakeWeather{configured: true},
			path:       "/weather?action=city",
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid request parameters",
		},
		{
			name:       "upstream failure",
			weather:    &fakeWeather{configured: true, err: errors.New("boom")},
			path:       "/weather?action=all",
			wantStatus: http.StatusInternalServerError,
			wantError:  "Failed to fetch weather data",
		},
		{
			name:       "unknown city",
			weather:    &fakeWeather{configured: true, historyErr: &api.APIError{StatusCode: 404}},
			path:       "/weather?action=city&city=Atlantis",
			wantStatus: http.StatusNotFound,
			wantError:  "Failed to fetch current weather for Atlantis",
		},
		{
			name:       "no forecast",
			weather:    &fakeWeather{configured: true, historyErr: fmt.Errorf("%w for London", api.ErrNoForecast)},
			path:       "/weather?action=city&city=London",
			wantStatus: http.StatusInternalServerError,
			wantError:  "Failed to fetch forecast for London",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(_ *Config, d *Deps) { d.Weather = tt.weather })

			w := do(t, env.server.Handler(), http.MethodGet, tt.path, "")
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := decode[model.WeatherResponse](t, w)
			if body.Error != tt.wantError {
				t.Errorf("error = %q, want %q", body.Error, tt.wantError)
			}
		})
	}
}

func TestWeather_All(t *testing.T) {
	cities := []model.WeatherCity{
		{Name: "New York", Temperature: 5, Humidity: 60, Conditions: "Clouds", WindSpeed: 3.1},
		{Name: "London", Temperature: 9, Humidity: 80, Conditions: "Rain", WindSpeed: 4.2},
	}
	env := newTestEnv(t, func(_ *Config, d *Deps) {
		d.Weather = &fakeWeather{configured: true, cities: cities}
	})

	w := do(t, env.server.Handler(), http.MethodGet, "/weather?action=all", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decode[model.WeatherResponse](t, w)
	if diff := pretty.Compare(cities, body.Data); diff != "" {
		t.Errorf("data diff (-want +got):\n%s", diff)
	}
}

func TestWeather_AllUsesFreshSnapshot(t *testing.T) {
	weather := &fakeWeather{configured: true}
	snapshot := fakeSnapshot{
		cities: []model.WeatherCity{{Name: "Tokyo", Temperature: 18}},
		at:     time.Now(),
	}
	env := newTestEnv(t, func(c *Config, d *Deps) {
		c.SnapshotMaxAge = time.Minute
		d.Weather = weather
		d.Snapshot = snapshot
	})

	w := do(t, env.server.Handler(), http.MethodGet, "/weather?action=all", "")
	body := decode[model.WeatherResponse](t, w)
	if len(body.Data) != 1 || body.Data[0].Name != "Tokyo" {
		t.Errorf("data = %+v", body.Data)
	}
	if weather.callCount() != 0 {
		t.Errorf("upstream calls = %d, want 0", weather.callCount())
	}
}

func TestWeather_AllIgnoresStaleSnapshot(t *testing.T) {
	weather := &fakeWeather{configured: true, cities: []model.WeatherCity{{Name: "London"}}}
	env := newTestEnv(t, func(c *Config, d *Deps) {
		c.SnapshotMaxAge = time.Minute
		d.Weather = weather
		d.Snapshot = fakeSnapshot{
			cities: []model.WeatherCity{{Name: "Tokyo"}},
			at:     time.Now().Add(-time.Hour),
		}
	})

	body := decode[model.WeatherResponse](t, do(t, env.server.Handler(), http.MethodGet, "/weather?action=all", ""))
	if len(body.Data) != 1 || body.Data[0].Name != "London" {
		t.Errorf("data = %+v", body.Data)
	}
	if weather.callCount() != 1 {
		t.Errorf("upstream calls = %d, want 1", weather.callCount())
	}
}

func TestWeather_City(t *testing.T) {
	env := newTestEnv(t, nil)

	w := do(t, env.server.Handler(), http.MethodGet, "/weather?action=city&city=London", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decode[model.WeatherResponse](t, w)
	if body.CurrentCity == nil || body.CurrentCity.Name != "London" {
		t.Errorf("currentCity = %+v", body.CurrentCity)
	}
	want := []model.WeatherHistoryEntry{{Date: "1/15/2024", Temperature: 10, Humidity: 80, Conditions: "Rain"}}
	if diff := pretty.Compare(want, body.History); diff != "" {
		t.Errorf("history diff (-want +got):\n%s", diff)
	}
}

// -----------------------------------------------------------------------------
// News
// -----------------------------------------------------------------------------

func TestNews(t *testing.T) {
	articles := []model.Article{
		{Title: "Bitcoin climbs", Description: "d", URL: "https://example.com/1", Source: "Example"},
	}

	tests := []struct {
		name       string
		news       fakeNews
		wantStatus int
		wantError  string
		wantCount  int
	}{
		{"ok", fakeNews{configured: true, articles: articles}, http.StatusOK, "", 1},
		{"not configured", fakeNews{}, http.StatusInternalServerError, "API key is not configured", 0},
		{"upstream failure", fakeNews{configured: true, err: errors.New("down")}, http.StatusInternalServerError, "Failed to fetch news data", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(_ *Config, d *Deps) { d.News = tt.news })

			w := do(t, env.server.Handler(), http.MethodGet, "/news", "")
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := decode[model.NewsResponse](t, w)
			if body.Error != tt.wantError {
				t.Errorf("error = %q, want %q", body.Error, tt.wantError)
			}
			if len(body.Data) != tt.wantCount {
				t.Errorf("articles = %d, want %d", len(body.Data), tt.wantCount)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// Market data
// -----------------------------------------------------------------------------

func TestMarkets(t *testing.T) {
	markets := []model.MarketData{
		{ID: "bitcoin", Name: "Bitcoin", Symbol: "btc", CurrentPrice: 43250.5, MarketCapRank: 1},
	}

	tests := []struct {
		name       string
		markets    *fakeMarkets
		wantStatus int
		wantError  string
		wantCount  int
	}{
		{"ok", &fakeMarkets{markets: markets}, http.StatusOK, "", 1},
		{"rate limited", &fakeMarkets{err: fmt.Errorf("%w: 429", api.ErrRateLimited)}, http.StatusTooManyRequests, "API rate limit reached. Please try again later.", 0},
		{"invalid payload", &fakeMarkets{err: api.ErrInvalidMarketData}, http.StatusBadGateway, "Invalid cryptocurrency data received", 0},
		{"upstream failure", &fakeMarkets{err: errors.New("down")}, http.StatusInternalServerError, "Failed to fetch cryptocurrency data", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(_ *Config, d *Deps) { d.Markets = tt.markets })

			w := do(t, env.server.Handler(), http.MethodGet, "/crypto", "")
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := decode[model.MarketResponse](t, w)
			if body.Error != tt.wantError {
				t.Errorf("error = %q, want %q", body.Error, tt.wantError)
			}
			if len(body.Data) != tt.wantCount {
				t.Errorf("markets = %d, want %d", len(body.Data), tt.wantCount)
			}
			if diff := pretty.Compare([]string{"bitcoin"}, tt.markets.ids); diff != "" {
				t.Errorf("requested ids diff (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMarkets_UpstreamRateLimit(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer upstream.Close()

	client := api.NewCryptoClient(upstream.URL, "", api.WithRetries(0, time.Millisecond))
	env := newTestEnv(t, func(_ *Config, d *Deps) { d.Markets = client })

	w := do(t, env.server.Handler(), http.MethodGet, "/crypto", "")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if body := decode[model.MarketResponse](t, w); body.Error != "API rate limit reached. Please try again later." {
		t.Errorf("error = %q", body.Error)
	}
}

func TestMarkets_NotConfigured(t *testing.T) {
	env := newTestEnv(t, nil)

	w := do(t, env.server.Handler(), http.MethodGet, "/crypto", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// -----------------------------------------------------------------------------
// Stream API
// -----------------------------------------------------------------------------

func TestAPI_StatusAndPrices(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.Upsert("bitcoin", 43250.5, time.Now())

	w := do(t, env.server.Handler(), http.MethodGet, "/api/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"state":"disconnected"`) {
		t.Errorf("status body = %s", w.Body.String())
	}

	w = do(t, env.server.Handler(), http.MethodGet, "/api/prices", "")
	prices := decode[struct {
		Prices []model.PriceRecord `json:"prices"`
	}](t, w)
	if len(prices.Prices) != 2 {
		t.Fatalf("prices = %+v", prices.Prices)
	}
	if prices.Prices[0].AssetID != "bitcoin" || prices.Prices[0].Current != 43250.5 {
		t.Errorf("prices[0] = %+v", prices.Prices[0])
	}
}

type addAssetBody struct {
	Asset string `json:"asset"`
	Added bool   `json:"added"`
}

func TestAPI_AddAsset(t *testing.T) {
	env := newTestEnv(t, nil)
	h := env.server.Handler()

	if w := do(t, h, http.MethodPost, "/api/assets", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty body status = %d, want 400", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/assets", `{"asset":"   "}`); w.Code != http.StatusBadRequest {
		t.Errorf("blank asset status = %d, want 400", w.Code)
	}

	w := do(t, h, http.MethodPost, "/api/assets", `{"asset":"Cardano"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decode[addAssetBody](t, w)
	if body.Asset != "cardano" || !body.Added {
		t.Errorf("body = %+v", body)
	}

	body = decode[addAssetBody](t, do(t, h, http.MethodPost, "/api/assets", `{"asset":"cardano"}`))
	if body.Added {
		t.Error("duplicate asset reported as added")
	}
}

func TestAPI_StreamControl(t *testing.T) {
	env := newTestEnv(t, nil)
	h := env.server.Handler()

	if w := do(t, h, http.MethodPost, "/api/stream/connect", ""); w.Code != http.StatusAccepted {
		t.Errorf("connect status = %d, want 202", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/stream/disconnect", ""); w.Code != http.StatusOK {
		t.Errorf("disconnect status = %d, want 200", w.Code)
	}
	if env.stream.connects != 1 || env.stream.disconnect != 1 {
		t.Errorf("connects = %d, disconnects = %d", env.stream.connects, env.stream.disconnect)
	}

	env.stream.err = errors.New("manager closed")
	if w := do(t, h, http.MethodPost, "/api/stream/connect", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("failed connect status = %d, want 503", w.Code)
	}
}

func TestAPI_Notifications(t *testing.T) {
	env := newTestEnv(t, nil)
	h := env.server.Handler()

	env.log.Append(model.KindPriceAlert, "Price Alert: Bitcoin", "Bitcoin is up 2.00% to $100.00")
	env.log.Append(model.KindWeatherAlert, "Weather Alert: Tokyo", "Heavy rain expected in Tokyo")

	body := decode[notificationsBody](t, do(t, h, http.MethodGet, "/api/notifications", ""))
	if len(body.Notifications) != 2 || body.Unread != 2 {
		t.Fatalf("body = %+v", body)
	}
	if body.Notifications[0].Title != "Weather Alert: Tokyo" {
		t.Errorf("newest = %q", body.Notifications[0].Title)
	}

	w := do(t, h, http.MethodPost, "/api/notifications/read", "")
	if w.Code != http.StatusOK || env.log.Unread() != 0 {
		t.Errorf("mark read: status = %d, unread = %d", w.Code, env.log.Unread())
	}

	w = do(t, h, http.MethodDelete, "/api/notifications", "")
	if w.Code != http.StatusNoContent || env.log.Len() != 0 {
		t.Errorf("clear: status = %d, len = %d", w.Code, env.log.Len())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	h := env.server.Handler()

	w := do(t, h, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("health = %d %s", w.Code, w.Body.String())
	}

	if w := do(t, h, http.MethodGet, "/metrics", ""); w.Code != http.StatusOK {
		t.Errorf("metrics status = %d", w.Code)
	}
}

// -----------------------------------------------------------------------------
// Push hub
// -----------------------------------------------------------------------------

func readEvent(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	var ev struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev.Type, ev.Data
}

func TestPush_InitialAndLiveEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var initial []string
	for i := 0; i < 3; i++ {
		typ, _ := readEvent(t, conn)
		initial = append(initial, typ)
	}
	if diff := pretty.Compare([]string{EventStatus, EventPrices, EventNotifications}, initial); diff != "" {
		t.Errorf("initial events diff:\n%s", diff)
	}
	if env.server.Hub().Clients() != 1 {
		t.Errorf("Clients() = %d, want 1", env.server.Hub().Clients())
	}

	env.log.Append(model.KindWeatherAlert, "Weather Alert: London", "Strong winds in London")
	typ, data := readEvent(t, conn)
	if typ != EventNotification || !strings.Contains(string(data), "Weather Alert: London") {
		t.Errorf("event = %s %s", typ, data)
	}

	env.store.Upsert("ethereum", 2301.5, time.Now())
	typ, data = readEvent(t, conn)
	if typ != EventPrice || !strings.Contains(string(data), `"ethereum"`) {
		t.Errorf("event = %s %s", typ, data)
	}

	env.server.HandleWeather([]model.WeatherCity{{Name: "Tokyo"}})
	typ, _ = readEvent(t, conn)
	if typ != EventWeather {
		t.Errorf("event type = %s, want weather", typ)
	}
}

func TestHub_StopClosesClients(t *testing.T) {
	hub := NewHub(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	ts := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.Clients() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected close after hub stop")
	}
	<-hub.done
	if hub.Clients() != 0 {
		t.Errorf("Clients() = %d after stop", hub.Clients())
	}

	// Publishing after stop must not block.
	hub.Publish(Event{Type: EventStatus})
}
