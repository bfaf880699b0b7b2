package agent

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/medianage/internal/api"
	"github.com/ethpandaops/medianage/internal/export"
	"github.com/ethpandaops/medianage/internal/histogram"
	"github.com/ethpandaops/medianage/internal/median"
	"github.com/ethpandaops/medianage/internal/persistence"
	"github.com/ethpandaops/medianage/internal/sink"
)

// Config is the top-level configuration for the medianage service.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Horizon is the span of years the histogram covers.
	Horizon histogram.Horizon `yaml:"horizon"`

	// Persistence configures the histogram file and flush schedule.
	Persistence persistence.Config `yaml:"persistence"`

	// API configures the birthday HTTP endpoints.
	API api.Config `yaml:"api"`

	// MedianCache configures the median result cache.
	MedianCache median.Config `yaml:"median_cache"`

	// Sinks configures consumers of accepted birthdays.
	Sinks sink.Config `yaml:"sinks"`

	// Health configures the Prometheus health metrics server.
	Health export.HealthConfig `yaml:"health"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Horizon:  histogram.DefaultHorizon(),
		Persistence: persistence.Config{
			Enabled:  true,
			Path:     "bdayhistogram.bin",
			Interval: persistence.DefaultInterval,
			Recover:  true,
		},
		API: api.Config{
			Addr: ":8080",
		},
		MedianCache: median.Config{
			Size: 1024,
		},
		Sinks: sink.Config{
			Window: sink.WindowConfig{
				Interval: time.Minute,
			},
		},
		Health: export.HealthConfig{
			Addr: ":9090",
		},
	}
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.Sinks.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for required fields and consistency.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	if err := c.Horizon.Validate(); err != nil {
		return err
	}

	if c.Persistence.Enabled && c.Persistence.Path == "" {
		return fmt.Errorf("persistence.path is required when persistence is enabled")
	}

	if c.Persistence.Interval < 0 {
		return fmt.Errorf("persistence.interval must not be negative")
	}

	if c.MedianCache.Size < 0 {
		return fmt.Errorf("median_cache.size must not be negative")
	}

	if c.API.Addr != "" && c.API.Addr == c.Health.Addr {
		return fmt.Errorf("api.addr and health.addr must differ")
	}

	if err := c.Sinks.Validate(); err != nil {
		return fmt.Errorf("sinks: %w", err)
	}

	return nil
}
