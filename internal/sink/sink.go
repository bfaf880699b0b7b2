package sink

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
)

// Config holds configuration for all sinks.
type Config struct {
	Window WindowConfig `yaml:"window"`
	Daily  DailyConfig  `yaml:"daily"`
	Record RecordConfig `yaml:"record"`
}

// ApplyDefaults fills unset sink fields.
func (c *Config) ApplyDefaults() {
	c.Record.ApplyDefaults()
}

// Validate checks every enabled sink.
func (c *Config) Validate() error {
	return c.Record.Validate()
}

// Birthday is one birth date accepted by the histogram.
type Birthday struct {
	Date    civil.Date
	AddedAt time.Time
}

// Sink consumes accepted birthdays.
type Sink interface {
	// Name returns the sink's name for logging and metrics.
	Name() string
	// Start initializes the sink.
	Start(ctx context.Context) error
	// Stop flushes and shuts down the sink.
	Stop() error
	// HandleBirthday processes one accepted birthday. Must not block.
	HandleBirthday(b Birthday)
	// OnDayChanged is called at UTC day boundaries.
	OnDayChanged(today civil.Date)
}
