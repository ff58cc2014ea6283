package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrMaxReconnects   = errors.New("maximum reconnection attempts reached")
	ErrManagerClosed   = errors.New("connection manager not running")
)

// Status messages surfaced to the UI.
const (
	MsgConnectionError = "WebSocket connection error"
	MsgProcessingError = "Error processing price update"
	MsgMaxReconnects   = "Maximum reconnection attempts reached. Please refresh the page."
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Handshake is the optional message sent once after the feed opens.
type Handshake struct {
	APIKey string `json:"apiKey"`
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // Full feed URL including the assets query
	PingInterval time.Duration // Keepalive ping period (0 = 30s)
	PingTimeout  time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval: 30 * time.Second,
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1000,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	WSURL                string        // Feed base URL (e.g., wss://ws.coincap.io)
	APIKey               string        // Optional handshake credential
	Assets               []string      // Initial Subscription Set
	MaxReconnectAttempts int           // Failed cycles before giving up
	ReconnectDelay       time.Duration // Wait before a scheduled reconnect
	ExponentialBackoff   bool          // Double the delay per failed cycle, with jitter
	ReconnectMaxDelay    time.Duration // Cap for exponential backoff
	WeatherInterval      time.Duration // Tick period while connected (0 disables)
	PingTimeout          time.Duration
	WriteTimeout         time.Duration
	BufferSize           int // Per-connection message buffer
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		WSURL:                "wss://ws.coincap.io",
		Assets:               []string{"bitcoin", "ethereum", "solana"},
		MaxReconnectAttempts: 5,
		ReconnectDelay:       5 * time.Second,
		ReconnectMaxDelay:    60 * time.Second,
		WeatherInterval:      1500 * time.Millisecond,
		PingTimeout:          60 * time.Second,
		WriteTimeout:         5 * time.Second,
		BufferSize:           1000,
	}
}

func (c ManagerConfig) clientConfig(url string) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.URL = url
	if c.PingTimeout > 0 {
		cfg.PingTimeout = c.PingTimeout
	}
	if c.WriteTimeout > 0 {
		cfg.WriteTimeout = c.WriteTimeout
	}
	if c.BufferSize > 0 {
		cfg.BufferSize = c.BufferSize
	}
	return cfg
}

func (c ManagerConfig) policyConfig() PolicyConfig {
	return PolicyConfig{
		MaxAttempts: c.MaxReconnectAttempts,
		Delay:       c.ReconnectDelay,
		MaxDelay:    c.ReconnectMaxDelay,
		Exponential: c.ExponentialBackoff,
	}
}
