package websocket

import (
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Config holds configuration for the subscriber hub.
type Config struct {
	// Addr is the listen address, e.g. ":3003".
	Addr string

	// SendBufferSize is the number of frames queued per connection before
	// new frames are dropped.
	SendBufferSize int

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration

	// PingInterval is how often idle connections are pinged.
	// Zero disables pings.
	PingInterval time.Duration

	// ReadLimit is the maximum inbound frame size in bytes.
	ReadLimit int64

	// CheckOrigin validates the upgrade request origin. Defaults to accepting
	// every origin.
	CheckOrigin func(r *http.Request) bool

	// Telemetry records hub metrics. Optional.
	Telemetry *Telemetry

	// Logger is the structured logger for the hub.
	// If not set, a default logger will be used.
	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		Addr:           ":3003",
		SendBufferSize: 16,
		WriteTimeout:   5 * time.Second,
		PingInterval:   30 * time.Second,
		ReadLimit:      4096,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.SendBufferSize < 0 {
		return errors.New("SendBufferSize must not be negative")
	}
	if c.WriteTimeout < 0 {
		return errors.New("WriteTimeout must not be negative")
	}
	if c.PingInterval < 0 {
		return errors.New("PingInterval must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	defaults := ConfigDefaults()
	if c.Addr == "" {
		c.Addr = defaults.Addr
	}
	if c.SendBufferSize == 0 {
		c.SendBufferSize = defaults.SendBufferSize
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = defaults.ReadLimit
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(*http.Request) bool { return true }
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
