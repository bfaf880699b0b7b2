package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/sirupsen/logrus"
)

// ClickHouseConfig configures the ClickHouse writer.
type ClickHouseConfig struct {
	// Endpoint is the ClickHouse native protocol address.
	Endpoint string `yaml:"endpoint"`

	// Database is the target database name. Defaults to "default".
	Database string `yaml:"database"`

	// Table is the target table name. Defaults to "birthdays".
	Table string `yaml:"table"`

	// BatchSize is the number of rows per insert. Defaults to 10000.
	BatchSize int `yaml:"batch_size"`

	// FlushInterval is the maximum time rows wait before an insert.
	// Defaults to 1s.
	FlushInterval time.Duration `yaml:"flush_interval"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Migrate applies the embedded schema before the first insert.
	Migrate bool `yaml:"migrate"`
}

// ApplyDefaults fills unset fields.
func (c *ClickHouseConfig) ApplyDefaults() {
	if c.Database == "" {
		c.Database = "default"
	}

	if c.Table == "" {
		c.Table = "birthdays"
	}

	if c.BatchSize <= 0 {
		c.BatchSize = 10000
	}

	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
}

// BirthdayRow is one accepted birth date.
type BirthdayRow struct {
	AddedAt   time.Time
	BirthDate civil.Date
	Instance  string
}

// BatchError tags an insert failure with the stage that failed:
// prepare, append or send.
type BatchError struct {
	Stage string
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%s batch: %v", e.Stage, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// ErrNotConnected is returned by Insert before Start.
var ErrNotConnected = errors.New("clickhouse writer not connected")

// ClickHouseWriter inserts birthday rows into ClickHouse.
type ClickHouseWriter struct {
	log  logrus.FieldLogger
	cfg  ClickHouseConfig
	conn clickhouse.Conn
}

// NewClickHouseWriter creates a writer. Start connects it.
func NewClickHouseWriter(
	log logrus.FieldLogger,
	cfg ClickHouseConfig,
) *ClickHouseWriter {
	cfg.ApplyDefaults()

	return &ClickHouseWriter{
		log: log.WithField("component", "clickhouse"),
		cfg: cfg,
	}
}

// Start opens and pings the connection.
func (w *ClickHouseWriter) Start(ctx context.Context) error {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{w.cfg.Endpoint},
		Auth: clickhouse.Auth{
			Database: w.cfg.Database,
			Username: w.cfg.Username,
			Password: w.cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns: 2,
		MaxIdleConns: 1,
	})
	if err != nil {
		return fmt.Errorf("opening ClickHouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()

		return fmt.Errorf("pinging ClickHouse: %w", err)
	}

	w.conn = conn

	w.log.WithFields(logrus.Fields{
		"endpoint": w.cfg.Endpoint,
		"table":    w.table(),
	}).Info("ClickHouse writer connected")

	return nil
}

// Config returns the writer configuration with defaults applied.
func (w *ClickHouseWriter) Config() ClickHouseConfig {
	return w.cfg
}

func (w *ClickHouseWriter) table() string {
	return fmt.Sprintf("%s.%s", w.cfg.Database, w.cfg.Table)
}

func (w *ClickHouseWriter) insertQuery() string {
	return fmt.Sprintf(
		"INSERT INTO %s (added_at, birth_date, birth_year, birth_month, birth_day, instance)",
		w.table(),
	)
}

// Insert writes rows as one batch. Failures are *BatchError.
func (w *ClickHouseWriter) Insert(ctx context.Context, rows []BirthdayRow) error {
	if len(rows) == 0 {
		return nil
	}

	if w.conn == nil {
		return ErrNotConnected
	}

	batch, err := w.conn.PrepareBatch(ctx, w.insertQuery())
	if err != nil {
		return &BatchError{Stage: "prepare", Err: err}
	}

	for _, row := range rows {
		// Birth dates reach back before Date32's range, so the date is
		// stored as ISO text plus its parts.
		if err := batch.Append(
			row.AddedAt,
			row.BirthDate.String(),
			uint16(row.BirthDate.Year),
			uint8(row.BirthDate.Month),
			uint8(row.BirthDate.Day),
			row.Instance,
		); err != nil {
			_ = batch.Abort()

			return &BatchError{Stage: "append", Err: err}
		}
	}

	if err := batch.Send(); err != nil {
		return &BatchError{Stage: "send", Err: fmt.Errorf("%d rows: %w", len(rows), err)}
	}

	return nil
}

// Stop closes the connection.
func (w *ClickHouseWriter) Stop() error {
	if w.conn != nil {
		return w.conn.Close()
	}

	return nil
}
