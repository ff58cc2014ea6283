package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID           = "dashboard"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	DefaultWSURL                = "wss://ws.coincap.io"
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = 5 * time.Second
	DefaultReconnectBackoff     = "flat"
	DefaultReconnectMaxDelay    = 60 * time.Second
	DefaultPingTimeout          = 60 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultFeedBufferSize       = 1000
	DefaultPriceThresholdPct    = 1.0
	DefaultMajorMovePct         = 5.0
	DefaultAlertMinInterval     = 30 * time.Second
	DefaultAlertRatePerMinute   = 6.0
	DefaultAlertBurst           = 3
	DefaultWeatherInterval      = 1500 * time.Millisecond
	DefaultWeatherProbability   = 0.3
	DefaultNotificationCapacity = 20
	DefaultWeatherURL           = "https://api.openweathermap.org/data/2.5"
	DefaultNewsURL              = "https://newsdata.io/api/1"
	DefaultCryptoURL            = "https://api.coingecko.com/api/v3"
	DefaultAPITimeout           = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultCacheTTL             = 5 * time.Minute
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultBufferSize           = 10000
	DefaultPollInterval         = 60 * time.Second
	DefaultPollTimeout          = 10 * time.Second
	DefaultServerPort           = 8080
	DefaultServerMode           = "release"
	DefaultMetricsPath          = "/metrics"
)

// DefaultAssets is the initial subscription and tracked price corpus.
var DefaultAssets = []string{"bitcoin", "ethereum", "solana"}

// DefaultCities are the cities shown on the weather panel.
var DefaultCities = []string{"New York", "London", "Tokyo"}

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	// Feed defaults
	if c.Feed.WSURL == "" {
		c.Feed.WSURL = DefaultWSURL
	}
	if len(c.Feed.Assets) == 0 {
		c.Feed.Assets = append([]string(nil), DefaultAssets...)
	}
	if c.Feed.MaxReconnectAttempts == 0 {
		c.Feed.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Feed.ReconnectDelay == 0 {
		c.Feed.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Feed.ReconnectBackoff == "" {
		c.Feed.ReconnectBackoff = DefaultReconnectBackoff
	}
	if c.Feed.ReconnectMaxDelay == 0 {
		c.Feed.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Feed.PingTimeout == 0 {
		c.Feed.PingTimeout = DefaultPingTimeout
	}
	if c.Feed.WriteTimeout == 0 {
		c.Feed.WriteTimeout = DefaultWriteTimeout
	}
	if c.Feed.BufferSize == 0 {
		c.Feed.BufferSize = DefaultFeedBufferSize
	}

	// Alert defaults
	if c.Alerts.PriceThresholdPct == 0 {
		c.Alerts.PriceThresholdPct = DefaultPriceThresholdPct
	}
	if c.Alerts.MajorMovePct == 0 {
		c.Alerts.MajorMovePct = DefaultMajorMovePct
	}
	if c.Alerts.MinInterval == 0 {
		c.Alerts.MinInterval = DefaultAlertMinInterval
	}
	if c.Alerts.RatePerMinute == 0 {
		c.Alerts.RatePerMinute = DefaultAlertRatePerMinute
	}
	if c.Alerts.Burst == 0 {
		c.Alerts.Burst = DefaultAlertBurst
	}
	if c.Alerts.WeatherInterval == 0 {
		c.Alerts.WeatherInterval = DefaultWeatherInterval
	}
	if c.Alerts.WeatherProbability == 0 {
		c.Alerts.WeatherProbability = DefaultWeatherProbability
	}

	if c.Notifications.Capacity == 0 {
		c.Notifications.Capacity = DefaultNotificationCapacity
	}

	// API defaults
	if c.API.WeatherURL == "" {
		c.API.WeatherURL = DefaultWeatherURL
	}
	if c.API.NewsURL == "" {
		c.API.NewsURL = DefaultNewsURL
	}
	if c.API.CryptoURL == "" {
		c.API.CryptoURL = DefaultCryptoURL
	}
	if len(c.API.Cities) == 0 {
		c.API.Cities = append([]string(nil), DefaultCities...)
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}

	applyDBDefaults(&c.Database.Timescale)

	// Writers defaults
	if c.Writers.BatchSize == 0 {
		c.Writers.BatchSize = DefaultBatchSize
	}
	if c.Writers.FlushInterval == 0 {
		c.Writers.FlushInterval = DefaultFlushInterval
	}
	if c.Writers.BufferSize == 0 {
		c.Writers.BufferSize = DefaultBufferSize
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}

	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.Mode == "" {
		c.Server.Mode = DefaultServerMode
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
