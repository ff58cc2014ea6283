package config

import (
	"io"
	"log/slog"
	"strings"
	"time"
)

// Config is the root configuration for a dashboard instance.
type Config struct {
	Instance      InstanceConfig      `yaml:"instance"`
	Log           LogConfig           `yaml:"log"`
	Feed          FeedConfig          `yaml:"feed"`
	Alerts        AlertsConfig        `yaml:"alerts"`
	Notifications NotificationsConfig `yaml:"notifications"`
	API           APIConfig           `yaml:"api"`
	Cache         CacheConfig         `yaml:"cache"`
	Database      DatabaseConfig      `yaml:"database"`
	Writers       WritersConfig       `yaml:"writers"`
	Poller        PollerConfig        `yaml:"poller"`
	Server        ServerConfig        `yaml:"server"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// InstanceConfig identifies this dashboard process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// FeedConfig holds the price-streaming connection settings.
type FeedConfig struct {
	WSURL                string        `yaml:"ws_url"`  // e.g. wss://ws.coincap.io
	APIKey               string        `yaml:"api_key"` // Optional, sent in the post-open handshake
	Assets               []string      `yaml:"assets"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	ReconnectBackoff     string        `yaml:"reconnect_backoff"` // "flat" or "exponential"
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	BufferSize           int           `yaml:"buffer_size"`
}

// AlertsConfig tunes the alert generator.
type AlertsConfig struct {
	PriceThresholdPct  float64       `yaml:"price_threshold_pct"`
	MajorMovePct       float64       `yaml:"major_move_pct"`
	MinInterval        time.Duration `yaml:"min_interval"`
	RatePerMinute      float64       `yaml:"rate_per_minute"`
	Burst              int           `yaml:"burst"`
	WeatherEnabled     *bool         `yaml:"weather_enabled"` // nil = enabled
	WeatherInterval    time.Duration `yaml:"weather_interval"`
	WeatherProbability float64       `yaml:"weather_probability"`
}

// WeatherAlertsEnabled reports whether simulated weather alerts run.
func (a AlertsConfig) WeatherAlertsEnabled() bool {
	return a.WeatherEnabled == nil || *a.WeatherEnabled
}

// NotificationsConfig sizes the notification log.
type NotificationsConfig struct {
	Capacity int `yaml:"capacity"`
}

// APIConfig holds upstream REST settings for the weather, news and market
// data proxies.
type APIConfig struct {
	WeatherURL    string        `yaml:"weather_url"`
	WeatherAPIKey string        `yaml:"weather_api_key"`
	NewsURL       string        `yaml:"news_url"`
	NewsAPIKey    string        `yaml:"news_api_key"`
	CryptoURL     string        `yaml:"crypto_url"`
	CryptoAPIKey  string        `yaml:"crypto_api_key"` // optional CoinGecko demo key
	Cities        []string      `yaml:"cities"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"max_retries"`
}

// CacheConfig holds the Redis response cache. Empty Addr disables caching.
type CacheConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// DatabaseConfig holds the optional TimescaleDB archive for ticks and alerts.
type DatabaseConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Timescale DBConfig `yaml:"timescale"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WritersConfig holds archive batch writer settings.
type WritersConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// PollerConfig holds weather refresh settings.
type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"` // gin mode: debug, release, test
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Path string `yaml:"path"`
}

// SlogLevel maps Level to a slog level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
