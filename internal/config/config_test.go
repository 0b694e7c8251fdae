package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(New(""))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, int64(10<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, 50*time.Microsecond, cfg.Server.PollInterval)
	assert.False(t, cfg.Server.UpgradeH2C)
	assert.NotNil(t, cfg.Server.Logger)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "sluice.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  addr: "127.0.0.1:7000"
  max_body_bytes: 2048
  decode_workers: 3
  poll_interval: 200us
  upgrade_h2c: true
logger:
  level: debug
  format: json
metrics:
  enabled: false
`), 0o600))

	t.Setenv("SLUICE_SERVER_MAX_CONNECTIONS", "64")
	t.Setenv("SLUICE_LOGGER_LEVEL", "warn")

	cfg, err := Load(New(file))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Addr)
	assert.Equal(t, int64(2048), cfg.Server.MaxBodyBytes)
	assert.Equal(t, 3, cfg.Server.DecodeWorkers)
	assert.Equal(t, 200*time.Microsecond, cfg.Server.PollInterval)
	assert.True(t, cfg.Server.UpgradeH2C)
	assert.Equal(t, uint32(64), cfg.Server.MaxConnections)
	assert.Equal(t, "warn", cfg.Logger.Level)
	assert.Equal(t, "json", cfg.Logger.Format)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(New(filepath.Join(t.TempDir(), "absent.yaml")))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad format", mutate: func(c *Config) { c.Logger.Format = "xml" }, wantErr: true},
		{name: "metrics without addr", mutate: func(c *Config) { c.Metrics.Addr = "" }, wantErr: true},
		{name: "metrics disabled without addr", mutate: func(c *Config) {
			c.Metrics.Enabled = false
			c.Metrics.Addr = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				Logger:  LoggerConfig{Format: "json"},
				Metrics: MetricsConfig{Enabled: true, Addr: ":9090"},
			}
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, ":8080", cfg.Server.Addr)
		})
	}
}
