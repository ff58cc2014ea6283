package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"
)

var (
	// ErrMissingAPIKey is returned when a client is used without a credential.
	ErrMissingAPIKey = errors.New("api key not configured")

	// ErrNoForecast is returned by History when neither daily source answers.
	ErrNoForecast = errors.New("forecast unavailable")
)

// Client is a JSON-over-HTTP client with retry for one upstream.
type Client struct {
	baseURL    string
	apiKey     string
	keyParam   string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client. The API key is sent as the
// "apikey" query parameter unless WithKeyParam says otherwise.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		keyParam: "apikey",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithKeyParam sets the query parameter carrying the API key.
func WithKeyParam(name string) ClientOption {
	return func(c *Client) {
		c.keyParam = name
	}
}

// HasKey reports whether a credential is configured.
func (c *Client) HasKey() bool {
	return c.apiKey != ""
}
