package http

import (
	"errors"
	"fmt"
	"time"
)

// Config configures NDJSON export to an HTTP collector such as Vector.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Address is the collector URL batches are POSTed to.
	Address string `yaml:"address"`

	// Headers are added to every request.
	Headers map[string]string `yaml:"headers"`

	// Compression is one of none, gzip, zstd, zlib, snappy. Defaults to gzip.
	Compression string `yaml:"compression"`

	// BatchSize caps items per request. Defaults to 512.
	BatchSize int `yaml:"batch_size"`

	// BatchTimeout flushes a partial batch. Defaults to 5s.
	BatchTimeout time.Duration `yaml:"batch_timeout"`

	// ExportTimeout bounds one request. Defaults to 30s.
	ExportTimeout time.Duration `yaml:"export_timeout"`

	// MaxQueueSize caps queued items; writes beyond it are dropped.
	// Defaults to 51200.
	MaxQueueSize int `yaml:"max_queue_size"`

	// Workers sending concurrently. Defaults to 1.
	Workers int `yaml:"workers"`

	// KeepAlive reuses connections. Defaults to true.
	KeepAlive *bool `yaml:"keep_alive"`
}

// DefaultConfig returns the exporter defaults.
func DefaultConfig() Config {
	keepAlive := true

	return Config{
		Compression:   CompressionGzip,
		BatchSize:     512,
		BatchTimeout:  5 * time.Second,
		ExportTimeout: 30 * time.Second,
		MaxQueueSize:  51200,
		Workers:       1,
		KeepAlive:     &keepAlive,
	}
}

// ApplyDefaults fills unset fields from DefaultConfig.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()

	if c.Compression == "" {
		c.Compression = d.Compression
	}

	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}

	if c.BatchTimeout <= 0 {
		c.BatchTimeout = d.BatchTimeout
	}

	if c.ExportTimeout <= 0 {
		c.ExportTimeout = d.ExportTimeout
	}

	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = d.MaxQueueSize
	}

	if c.Workers <= 0 {
		c.Workers = d.Workers
	}

	if c.KeepAlive == nil {
		c.KeepAlive = d.KeepAlive
	}
}

// Validate checks an enabled config. A disabled config is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Address == "" {
		return errors.New("http address is required when enabled")
	}

	if c.BatchSize <= 0 {
		return errors.New("batch_size must be greater than 0")
	}

	if c.MaxQueueSize < c.BatchSize {
		return errors.New("max_queue_size must be at least batch_size")
	}

	if c.Workers <= 0 {
		return errors.New("workers must be greater than 0")
	}

	if !validCompression(c.Compression) {
		return fmt.Errorf("invalid compression type: %s", c.Compression)
	}

	return nil
}

// IsKeepAlive reports whether connections are reused.
func (c *Config) IsKeepAlive() bool {
	return c.KeepAlive == nil || *c.KeepAlive
}
