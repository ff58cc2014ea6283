package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Price Types
// -----------------------------------------------------------------------------

// NormalizeAsset converts an asset identifier to its canonical lowercase form.
func NormalizeAsset(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// PriceUpdate is a single asset price decoded from a feed frame.
type PriceUpdate struct {
	AssetID    string    // Lowercase asset identifier (e.g., "bitcoin")
	Price      float64   // Parsed price
	ReceivedAt time.Time // Local timestamp when the frame was read
}

// PriceRecord is the last-known price of a tracked asset.
type PriceRecord struct {
	AssetID        string    `json:"id"`
	Current        float64   `json:"current_price"`
	Prior          float64   `json:"prior_price"`
	AbsoluteChange float64   `json:"price_change"`
	PercentChange  float64   `json:"price_change_percentage"`
	HasChange      bool      `json:"has_change"` // False until a non-zero prior price exists
	UpdatedAt      time.Time `json:"updated_at"`
}

// Apply returns a copy of r moved to newPrice with the change fields recomputed.
func (r PriceRecord) Apply(newPrice float64, at time.Time) PriceRecord {
	next := PriceRecord{
		AssetID:   r.AssetID,
		Current:   newPrice,
		Prior:     r.Current,
		UpdatedAt: at,
	}
	if next.Prior != 0 {
		next.AbsoluteChange = next.Current - next.Prior
		next.PercentChange = next.AbsoluteChange / next.Prior * 100
		next.HasChange = true
	}
	return next
}

// -----------------------------------------------------------------------------
// Connection Types
// -----------------------------------------------------------------------------

// ConnState is the lifecycle state of the streaming connection.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// MarshalText renders the state by name in JSON payloads.
func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is the streaming subsystem state exposed to UI consumers.
type Status struct {
	State           ConnState  `json:"state"`
	Connected       bool       `json:"connected"`
	Error           string     `json:"error,omitempty"`
	Attempts        int        `json:"reconnect_attempts"`
	LastReconnectAt *time.Time `json:"last_reconnect_time,omitempty"`
	Assets          []string   `json:"assets"`
}

// -----------------------------------------------------------------------------
// Notification Types
// -----------------------------------------------------------------------------

// NotificationKind classifies a notification.
type NotificationKind string

const (
	KindPriceAlert   NotificationKind = "price_alert"
	KindWeatherAlert NotificationKind = "weather_alert"
)

// Notification is an alert shown on the notification surface.
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	Kind      NotificationKind `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
	Read      bool             `json:"read"`
}

// -----------------------------------------------------------------------------
// REST Boundary Types
// -----------------------------------------------------------------------------

// WeatherCity is the normalized current weather for one city.
type WeatherCity struct {
	Name        string  `json:"name"`
	Temperature float64 `json:"temperature"`
	Humidity    int     `json:"humidity"`
	Conditions  string  `json:"conditions"`
	WindSpeed   float64 `json:"windSpeed"`
}

// WeatherHistoryEntry is one point of a city's weather timeline.
type WeatherHistoryEntry struct {
	Date        string  `json:"date"`
	Temperature float64 `json:"temperature"`
	Humidity    int     `json:"humidity"`
	Conditions  string  `json:"conditions"`
}

// WeatherResponse is the body returned by the weather proxy.
type WeatherResponse struct {
	Data        []WeatherCity         `json:"data,omitempty"`
	CurrentCity *WeatherCity          `json:"currentCity,omitempty"`
	History     []WeatherHistoryEntry `json:"history,omitempty"`
	Error       string                `json:"error,omitempty"`
}

// Article is a normalized news headline.
type Article struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Source      string `json:"source"`
	PublishedAt string `json:"publishedAt"`
	ImageURL    string `json:"urlToImage,omitempty"`
}

// NewsResponse is the body returned by the news proxy.
type NewsResponse struct {
	Data  []Article `json:"data,omitempty"`
	Error string    `json:"error,omitempty"`
}

// MarketData is the market summary of one asset from the REST snapshot.
type MarketData struct {
	ID                       string   `json:"id"`
	Name                     string   `json:"name"`
	Symbol                   string   `json:"symbol"`
	Image                    string   `json:"image"`
	CurrentPrice             float64  `json:"current_price"`
	MarketCap                float64  `json:"market_cap"`
	MarketCapRank            int      `json:"market_cap_rank"`
	TotalVolume              float64  `json:"total_volume"`
	PriceChange24h           float64  `json:"price_change_24h"`
	PriceChangePercentage24h float64  `json:"price_change_percentage_24h"`
	CirculatingSupply        float64  `json:"circulating_supply"`
	TotalSupply              *float64 `json:"total_supply"` // nil when uncapped
	ATH                      float64  `json:"ath"`
	ATHDate                  string   `json:"ath_date"`
}

// MarketResponse is the body returned by the market data proxy.
type MarketResponse struct {
	Data  []MarketData `json:"data,omitempty"`
	Error string       `json:"error,omitempty"`
}
