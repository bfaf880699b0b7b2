package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/medianage/internal/export"
	httpexport "github.com/ethpandaops/medianage/internal/export/http"
	"github.com/ethpandaops/medianage/internal/migrate"
)

// RecordConfig configures the record sink, which keeps every accepted
// birthday in ClickHouse and optionally streams it to an HTTP collector.
type RecordConfig struct {
	Enabled    bool                    `yaml:"enabled"`
	ClickHouse export.ClickHouseConfig `yaml:"clickhouse"`
	HTTP       httpexport.Config       `yaml:"http"`
	// Instance is stamped on every row.
	Instance string `yaml:"instance"`
}

// ApplyDefaults fills unset ClickHouse and HTTP fields.
func (c *RecordConfig) ApplyDefaults() {
	c.ClickHouse.ApplyDefaults()
	c.HTTP.ApplyDefaults()
}

// Validate checks an enabled record config.
func (c *RecordConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.ClickHouse.Endpoint == "" && !c.HTTP.Enabled {
		return errors.New("record sink needs clickhouse.endpoint or http.enabled")
	}

	if c.ClickHouse.Migrate {
		table := c.ClickHouse.Table
		if table == "" {
			table = migrate.Table
		}

		if table != migrate.Table {
			return fmt.Errorf("clickhouse.migrate only creates table %q, got %q", migrate.Table, table)
		}
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http: %w", err)
	}

	return nil
}

// inserter is the ClickHouse side of the sink.
type inserter interface {
	Start(ctx context.Context) error
	Insert(ctx context.Context, rows []export.BirthdayRow) error
	Stop() error
}

// RecordSink batches accepted birthdays to ClickHouse and HTTP.
type RecordSink struct {
	log    logrus.FieldLogger
	cfg    RecordConfig
	writer inserter
	health *export.HealthMetrics

	batchSize     int
	flushInterval time.Duration

	httpProcessor *processor.BatchItemProcessor[BirthdayJSON]

	mu     sync.Mutex
	batch  []export.BirthdayRow
	cancel context.CancelFunc
	done   chan struct{}
	ch     chan Birthday
}

var _ Sink = (*RecordSink)(nil)

// NewRecordSink creates a record sink. health may be nil.
func NewRecordSink(
	log logrus.FieldLogger,
	cfg RecordConfig,
	health *export.HealthMetrics,
) (*RecordSink, error) {
	cfg.ApplyDefaults()

	s := &RecordSink{
		log:           log.WithField("sink", "record"),
		cfg:           cfg,
		health:        health,
		batchSize:     cfg.ClickHouse.BatchSize,
		flushInterval: cfg.ClickHouse.FlushInterval,
		batch:         make([]export.BirthdayRow, 0, cfg.ClickHouse.BatchSize),
		done:          make(chan struct{}),
		ch:            make(chan Birthday, 65536),
	}

	if cfg.ClickHouse.Endpoint != "" {
		s.writer = export.NewClickHouseWriter(log, cfg.ClickHouse)
	}

	if cfg.HTTP.Enabled {
		proc, err := httpexport.NewProcessor[BirthdayJSON](log, cfg.HTTP, "record_http")
		if err != nil {
			return nil, fmt.Errorf("creating HTTP processor: %w", err)
		}

		s.httpProcessor = proc
	}

	return s, nil
}

func (s *RecordSink) Name() string { return "record" }

func (s *RecordSink) Start(ctx context.Context) error {
	if s.writer != nil {
		if s.cfg.ClickHouse.Migrate {
			if err := migrate.New(s.log, migrate.DSN(s.cfg.ClickHouse)).Up(ctx); err != nil {
				return fmt.Errorf("migrating ClickHouse: %w", err)
			}
		}

		if err := s.writer.Start(ctx); err != nil {
			return err
		}

		if s.health != nil {
			s.health.ClickHouseConnected.WithLabelValues("record").Set(1)
		}
	}

	ctx, s.cancel = context.WithCancel(ctx)

	if s.httpProcessor != nil {
		s.httpProcessor.Start(ctx)
		s.log.Info("HTTP export started")
	}

	go s.runLoop(ctx)

	s.log.WithFields(logrus.Fields{
		"clickhouse": s.writer != nil,
		"http":       s.httpProcessor != nil,
	}).Info("Record sink started")

	return nil
}

func (s *RecordSink) Stop() error {
	if s.cancel == nil {
		return s.stopWriter()
	}

	s.cancel()
	<-s.done

	// Drain what the loop did not get to, then flush.
	s.mu.Lock()
drain:
	for {
		select {
		case b := <-s.ch:
			s.batch = append(s.batch, s.row(b))
		default:
			break drain
		}
	}

	remaining := s.batch
	s.batch = nil
	s.mu.Unlock()

	if err := s.flush(context.Background(), remaining); err != nil {
		s.log.WithError(err).Error("Final flush failed")
	}

	if s.httpProcessor != nil {
		if err := s.httpProcessor.Shutdown(context.Background()); err != nil {
			s.log.WithError(err).Error("HTTP processor shutdown failed")
		}
	}

	return s.stopWriter()
}

func (s *RecordSink) stopWriter() error {
	if s.writer == nil {
		return nil
	}

	if s.health != nil {
		s.health.ClickHouseConnected.WithLabelValues("record").Set(0)
	}

	return s.writer.Stop()
}

func (s *RecordSink) HandleBirthday(b Birthday) {
	select {
	case s.ch <- b:
	default:
		s.log.Warn("Record sink channel full, dropping birthday")
		s.recordBatchError("dropped")
	}
}

func (s *RecordSink) OnDayChanged(_ civil.Date) {}

func (s *RecordSink) row(b Birthday) export.BirthdayRow {
	return export.BirthdayRow{
		AddedAt:   b.AddedAt.UTC(),
		BirthDate: b.Date,
		Instance:  s.cfg.Instance,
	}
}

func (s *RecordSink) runLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case b := <-s.ch:
			s.add(ctx, b)
		case <-ticker.C:
			s.tickFlush(ctx)
		}
	}
}

func (s *RecordSink) add(ctx context.Context, b Birthday) {
	s.mu.Lock()
	s.batch = append(s.batch, s.row(b))

	var toFlush []export.BirthdayRow

	if len(s.batch) >= s.batchSize {
		toFlush = s.batch
		s.batch = make([]export.BirthdayRow, 0, s.batchSize)
	}
	s.mu.Unlock()

	if toFlush != nil {
		if err := s.flush(ctx, toFlush); err != nil {
			s.log.WithError(err).Error("Batch flush failed")
		}
	}
}

func (s *RecordSink) tickFlush(ctx context.Context) {
	s.mu.Lock()

	if len(s.batch) == 0 {
		s.mu.Unlock()

		return
	}

	toFlush := s.batch
	s.batch = make([]export.BirthdayRow, 0, s.batchSize)
	s.mu.Unlock()

	if err := s.flush(ctx, toFlush); err != nil {
		s.log.WithError(err).Error("Periodic flush failed")
	}
}

func (s *RecordSink) flush(ctx context.Context, rows []export.BirthdayRow) error {
	if len(rows) == 0 {
		return nil
	}

	if s.httpProcessor != nil {
		s.exportHTTP(ctx, rows)
	}

	if s.health != nil {
		s.health.SinkEventsProcessed.WithLabelValues("record").Add(float64(len(rows)))
	}

	if s.writer == nil {
		return nil
	}

	start := time.Now()

	if err := s.writer.Insert(ctx, rows); err != nil {
		stage := "insert"

		var be *export.BatchError
		if errors.As(err, &be) {
			stage = be.Stage
		}

		s.recordBatchError(stage)

		return fmt.Errorf("inserting %d birthdays: %w", len(rows), err)
	}

	if s.health != nil {
		s.health.SinkFlushDuration.WithLabelValues("record").Observe(time.Since(start).Seconds())
		s.health.SinkBatchSize.WithLabelValues("record").Observe(float64(len(rows)))
	}

	s.log.WithField("rows", len(rows)).Debug("Flushed birthdays")

	return nil
}

func (s *RecordSink) exportHTTP(ctx context.Context, rows []export.BirthdayRow) {
	events := make([]*BirthdayJSON, 0, len(rows))

	for _, row := range rows {
		event := toBirthdayJSON(row)
		events = append(events, &event)
	}

	if err := s.httpProcessor.Write(ctx, events); err != nil {
		s.log.WithError(err).Debug("HTTP export failed (queue may be full)")
		s.recordBatchError("http")
	}
}

func (s *RecordSink) recordBatchError(errorType string) {
	if s.health == nil {
		return
	}

	s.health.ExportBatchErrors.WithLabelValues("record", errorType).Inc()
}
