package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.Health.Addr)
	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Equal(t, 1850, cfg.Horizon.EarliestYear)
	assert.Equal(t, 200, cfg.Horizon.Years)
	assert.True(t, cfg.Persistence.Enabled)
	assert.True(t, cfg.Persistence.Recover)
	assert.False(t, cfg.Persistence.FlushOnShutdown)
	assert.Equal(t, 10*time.Second, cfg.Persistence.Interval)
	assert.Equal(t, 1024, cfg.MedianCache.Size)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	yaml := `
log_level: debug
horizon:
  earliest_year: 1900
  years: 150
persistence:
  enabled: true
  path: /var/lib/medianage/bdayhistogram.bin
  interval: 5s
  recover: false
  flush_on_shutdown: true
api:
  addr: ":8081"
median_cache:
  size: 0
sinks:
  window:
    enabled: true
    interval: 500ms
  daily:
    enabled: true
  record:
    enabled: true
    instance: node-1
    clickhouse:
      endpoint: "localhost:9000"
      batch_size: 500
      migrate: true
    http:
      enabled: true
      address: "http://localhost:8686"
      compression: zstd
health:
  addr: ":9091"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 1900, cfg.Horizon.EarliestYear)
	assert.Equal(t, 150, cfg.Horizon.Years)
	assert.Equal(t, "/var/lib/medianage/bdayhistogram.bin", cfg.Persistence.Path)
	assert.Equal(t, 5*time.Second, cfg.Persistence.Interval)
	assert.False(t, cfg.Persistence.Recover)
	assert.True(t, cfg.Persistence.FlushOnShutdown)
	assert.Equal(t, ":8081", cfg.API.Addr)
	assert.Equal(t, 0, cfg.MedianCache.Size)
	assert.True(t, cfg.Sinks.Window.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Sinks.Window.Interval)
	assert.True(t, cfg.Sinks.Daily.Enabled)
	assert.True(t, cfg.Sinks.Record.Enabled)
	assert.Equal(t, "node-1", cfg.Sinks.Record.Instance)
	assert.Equal(t, "localhost:9000", cfg.Sinks.Record.ClickHouse.Endpoint)
	assert.Equal(t, 500, cfg.Sinks.Record.ClickHouse.BatchSize)
	assert.True(t, cfg.Sinks.Record.ClickHouse.Migrate)
	assert.Equal(t, "zstd", cfg.Sinks.Record.HTTP.Compression)
	assert.Equal(t, 512, cfg.Sinks.Record.HTTP.BatchSize)
	assert.Equal(t, 51200, cfg.Sinks.Record.HTTP.MaxQueueSize)
	assert.Equal(t, 1, cfg.Sinks.Record.HTTP.Workers)
	assert.Equal(t, "birthdays", cfg.Sinks.Record.ClickHouse.Table)
	assert.Equal(t, ":9091", cfg.Health.Addr)
}

func TestLoadConfig_HTTPOnlyRecordSink(t *testing.T) {
	yaml := `
sinks:
  record:
    enabled: true
    http:
      enabled: true
      address: "http://localhost:8686"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "gzip", cfg.Sinks.Record.HTTP.Compression)
	assert.Equal(t, 512, cfg.Sinks.Record.HTTP.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Sinks.Record.HTTP.BatchTimeout)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	// Use a tab character at the start which is invalid YAML indentation.
	require.NoError(t, os.WriteFile(path, []byte("\t- bad"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "loud" },
			wantErr: "log_level",
		},
		{
			name:    "zero horizon",
			mutate:  func(c *Config) { c.Horizon.Years = 0 },
			wantErr: "horizon.years must be positive",
		},
		{
			name:    "persistence without path",
			mutate:  func(c *Config) { c.Persistence.Path = "" },
			wantErr: "persistence.path is required",
		},
		{
			name: "persistence disabled without path",
			mutate: func(c *Config) {
				c.Persistence.Enabled = false
				c.Persistence.Path = ""
			},
		},
		{
			name:    "negative interval",
			mutate:  func(c *Config) { c.Persistence.Interval = -time.Second },
			wantErr: "persistence.interval",
		},
		{
			name:    "negative cache",
			mutate:  func(c *Config) { c.MedianCache.Size = -1 },
			wantErr: "median_cache.size",
		},
		{
			name:    "shared listener",
			mutate:  func(c *Config) { c.API.Addr = c.Health.Addr },
			wantErr: "must differ",
		},
		{
			name:    "record sink without destination",
			mutate:  func(c *Config) { c.Sinks.Record.Enabled = true },
			wantErr: "sinks: record sink needs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
