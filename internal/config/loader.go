package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Credential environment variables consulted when the YAML leaves a key empty.
const (
	EnvFeedAPIKey    = "COINCAP_API_KEY"
	EnvWeatherAPIKey = "OPENWEATHER_API_KEY"
	EnvNewsAPIKey    = "NEWSDATA_API_KEY"
	EnvCryptoAPIKey  = "COINGECKO_API_KEY"
)

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	cfg.applyEnv()

	return &cfg, nil
}

// LoadWithDefaults loads config and applies default values.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Default returns a configuration built from defaults and the environment only.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyEnv() {
	if c.Feed.APIKey == "" {
		c.Feed.APIKey = os.Getenv(EnvFeedAPIKey)
	}
	if c.API.WeatherAPIKey == "" {
		c.API.WeatherAPIKey = os.Getenv(EnvWeatherAPIKey)
	}
	if c.API.NewsAPIKey == "" {
		c.API.NewsAPIKey = os.Getenv(EnvNewsAPIKey)
	}
	if c.API.CryptoAPIKey == "" {
		c.API.CryptoAPIKey = os.Getenv(EnvCryptoAPIKey)
	}
}
