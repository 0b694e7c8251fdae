// Package config loads the sluice command configuration from a file, SLUICE_*
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/albertbausili/sluice/pkg/sluice"
)

// EnvPrefix prefixes every environment override, e.g. SLUICE_SERVER_ADDR.
const EnvPrefix = "SLUICE"

// Config is the full command configuration.
type Config struct {
	Server  sluice.Config `mapstructure:"server"`
	Logger  LoggerConfig  `mapstructure:"logger"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggerConfig configures the process logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"` // "json" or "console"
	AddSource   bool   `mapstructure:"add_source"`
	ServiceName string `mapstructure:"service_name"`
	LogFile     string `mapstructure:"log_file"` // empty disables the rotating file core
	MaxSize     int    `mapstructure:"max_size"` // megabytes
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAge      int    `mapstructure:"max_age"` // days
	Compress    bool   `mapstructure:"compress"`
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	def := sluice.DefaultConfig()

	// -- Server --
	v.SetDefault("server.addr", def.Addr)
	v.SetDefault("server.multicore", def.Multicore)
	v.SetDefault("server.num_event_loop", def.NumEventLoop)
	v.SetDefault("server.reuse_port", def.ReusePort)
	v.SetDefault("server.max_connections", def.MaxConnections)
	v.SetDefault("server.tcp_keep_alive", def.TCPKeepAlive)
	v.SetDefault("server.read_buffer_cap", def.ReadBufferCap)
	v.SetDefault("server.write_buffer_cap", def.WriteBufferCap)
	v.SetDefault("server.max_header_bytes", def.MaxHeaderBytes)
	v.SetDefault("server.max_body_bytes", def.MaxBodyBytes)
	v.SetDefault("server.decode_workers", def.DecodeWorkers)
	v.SetDefault("server.handler_workers", def.HandlerWorkers)
	v.SetDefault("server.poll_interval", def.PollInterval)
	v.SetDefault("server.upgrade_h2c", def.UpgradeH2C)

	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "sluice")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Metrics --
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("metrics.path", "/metrics")
}

// New returns a viper instance with defaults and environment overrides
// configured. When file is empty, ./sluice.yaml is read if present.
func New(file string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("sluice")
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file, if any, and decodes v into a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values and normalizes the
// server section.
func (c *Config) Validate() error {
	switch c.Logger.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logger.format must be json or console, got %q", c.Logger.Format)
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errors.New("metrics.addr is required when metrics are enabled")
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	return c.Server.Validate()
}
