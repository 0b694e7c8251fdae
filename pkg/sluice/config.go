// Package sluice is an embeddable HTTP/1.1 server core. Bytes read from
// non-blocking sockets are decoded into requests on a bounded worker pool and
// handed to application handlers as Exchanges.
package sluice

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Config holds the server configuration options.
type Config struct {
	Addr           string        `mapstructure:"addr"`             // Server address to bind to
	Multicore      bool          `mapstructure:"multicore"`        // Run one event loop per CPU
	NumEventLoop   int           `mapstructure:"num_event_loop"`   // Number of event loops (0 for auto-detect)
	ReusePort      bool          `mapstructure:"reuse_port"`       // Enable SO_REUSEPORT
	MaxConnections uint32        `mapstructure:"max_connections"`  // Connections beyond this get 503 (0 for unlimited)
	TCPKeepAlive   time.Duration `mapstructure:"tcp_keep_alive"`   // TCP keep-alive period (0 disables)
	ReadBufferCap  int           `mapstructure:"read_buffer_cap"`  // gnet inbound buffer capacity
	WriteBufferCap int           `mapstructure:"write_buffer_cap"` // gnet outbound buffer capacity

	MaxHeaderBytes int   `mapstructure:"max_header_bytes"` // Maximum request head size in bytes
	MaxBodyBytes   int64 `mapstructure:"max_body_bytes"`   // Maximum request body size; larger bodies get 413

	DecodeWorkers  int           `mapstructure:"decode_workers"`  // Size of the decode worker pool
	HandlerWorkers int           `mapstructure:"handler_workers"` // Goroutines running the Handler in Serve
	PollInterval   time.Duration `mapstructure:"poll_interval"`   // Dispatch queue poll timeout
	UpgradeH2C     bool          `mapstructure:"upgrade_h2c"`     // Answer every request with an h2c upgrade handshake

	Logger     *zap.Logger           `mapstructure:"-"` // Logger for server events
	Registerer prometheus.Registerer `mapstructure:"-"` // Receives server metrics (nil disables registration)
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		Multicore:      true,
		NumEventLoop:   0, // Auto-detect
		ReusePort:      true,
		TCPKeepAlive:   30 * time.Minute,
		ReadBufferCap:  64 << 10,
		WriteBufferCap: 64 << 10,
		MaxHeaderBytes: 1 << 20,  // 1 MB
		MaxBodyBytes:   10 << 20, // 10 MB
		DecodeWorkers:  runtime.GOMAXPROCS(0),
		HandlerWorkers: runtime.GOMAXPROCS(0) * 4,
		PollInterval:   50 * time.Microsecond,
		Logger:         zap.NewNop(),
	}
}

// Validate checks and normalizes the configuration values.
func (c *Config) Validate() error {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.NumEventLoop < 0 {
		c.NumEventLoop = 0
	}
	if c.MaxHeaderBytes <= 0 {
		c.MaxHeaderBytes = 1 << 20
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 10 << 20
	}
	if c.DecodeWorkers <= 0 {
		c.DecodeWorkers = runtime.GOMAXPROCS(0)
	}
	if c.HandlerWorkers <= 0 {
		c.HandlerWorkers = runtime.GOMAXPROCS(0) * 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 50 * time.Microsecond
	}
	if c.PollInterval > 10*time.Millisecond {
		c.PollInterval = 10 * time.Millisecond // keep the scheduler responsive to shutdown
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}
