package sink

import (
	"context"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/medianage/internal/export"
)

// DailyConfig configures the per-day summary sink.
type DailyConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DailySink aggregates birthdays per UTC day and logs on day boundaries.
type DailySink struct {
	log    logrus.FieldLogger
	health *export.HealthMetrics
	today  func() civil.Date

	mu     sync.Mutex
	bucket *Bucket

	onRollover func(BucketSnapshot)
}

var _ Sink = (*DailySink)(nil)

// NewDailySink creates a daily sink. health may be nil.
func NewDailySink(
	log logrus.FieldLogger,
	today func() civil.Date,
	health *export.HealthMetrics,
) *DailySink {
	return &DailySink{
		log:    log.WithField("sink", "daily"),
		health: health,
		today:  today,
	}
}

func (s *DailySink) Name() string { return "daily" }

func (s *DailySink) Start(_ context.Context) error {
	s.mu.Lock()
	s.bucket = NewBucket(s.today(), time.Now())
	s.mu.Unlock()

	s.log.Info("Daily sink started")

	return nil
}

func (s *DailySink) Stop() error {
	return nil
}

func (s *DailySink) HandleBirthday(b Birthday) {
	s.mu.Lock()
	bucket := s.bucket
	s.mu.Unlock()

	if bucket == nil {
		return
	}

	bucket.Add(b)

	if s.health != nil {
		s.health.SinkEventsProcessed.WithLabelValues("daily").Inc()
	}
}

func (s *DailySink) OnDayChanged(today civil.Date) {
	s.mu.Lock()
	old := s.bucket
	s.bucket = NewBucket(today, time.Now())
	s.mu.Unlock()

	if old == nil || old.Count.Load() == 0 {
		return
	}

	snap := old.Snapshot()
	logSnapshot(s.log, snap, "Daily summary")

	if s.onRollover != nil {
		s.onRollover(snap)
	}
}
