package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	if err := c.Feed.validate(); err != nil {
		return err
	}
	if err := c.Alerts.validate(); err != nil {
		return err
	}

	if c.Notifications.Capacity < 1 {
		return errors.New("notifications.capacity must be >= 1")
	}

	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if c.Database.Enabled {
		if err := c.Database.Timescale.validate("database.timescale"); err != nil {
			return err
		}
		if c.Writers.BatchSize < 1 {
			return errors.New("writers.batch_size must be >= 1")
		}
		if c.Writers.BufferSize < 1 {
			return errors.New("writers.buffer_size must be >= 1")
		}
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	return nil
}

func (f *FeedConfig) validate() error {
	if f.WSURL == "" {
		return errors.New("feed.ws_url is required")
	}
	if len(f.Assets) == 0 {
		return errors.New("feed.assets must not be empty")
	}
	if f.MaxReconnectAttempts < 1 {
		return errors.New("feed.max_reconnect_attempts must be >= 1")
	}
	if f.ReconnectDelay <= 0 {
		return errors.New("feed.reconnect_delay must be > 0")
	}
	switch f.ReconnectBackoff {
	case "flat", "exponential":
	default:
		return fmt.Errorf("feed.reconnect_backoff must be flat or exponential, got %q", f.ReconnectBackoff)
	}
	if f.ReconnectMaxDelay < f.ReconnectDelay {
		return fmt.Errorf("feed.reconnect_max_delay (%s) cannot be less than reconnect_delay (%s)", f.ReconnectMaxDelay, f.ReconnectDelay)
	}
	if f.BufferSize < 1 {
		return errors.New("feed.buffer_size must be >= 1")
	}
	return nil
}

func (a *AlertsConfig) validate() error {
	if a.PriceThresholdPct < 0 {
		return errors.New("alerts.price_threshold_pct must be >= 0")
	}
	if a.MajorMovePct < a.PriceThresholdPct {
		return fmt.Errorf("alerts.major_move_pct (%g) cannot be less than price_threshold_pct (%g)", a.MajorMovePct, a.PriceThresholdPct)
	}
	if a.RatePerMinute <= 0 {
		return errors.New("alerts.rate_per_minute must be > 0")
	}
	if a.Burst < 1 {
		return errors.New("alerts.burst must be >= 1")
	}
	if a.WeatherProbability < 0 || a.WeatherProbability > 1 {
		return fmt.Errorf("alerts.weather_probability must be between 0 and 1, got %g", a.WeatherProbability)
	}
	if a.WeatherInterval <= 0 {
		return errors.New("alerts.weather_interval must be > 0")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
