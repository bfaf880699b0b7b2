package sink

import (
	"context"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/medianage/internal/export"
)

// WindowConfig configures the fixed-window summary sink.
type WindowConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// WindowSink logs a summary of birthdays accepted in each window.
type WindowSink struct {
	log    logrus.FieldLogger
	cfg    WindowConfig
	health *export.HealthMetrics
	today  func() civil.Date

	mu     sync.Mutex
	bucket *Bucket

	cancel context.CancelFunc
	done   chan struct{}

	// onFlush observes each non-empty window; used by tests.
	onFlush func(BucketSnapshot)
}

var _ Sink = (*WindowSink)(nil)

// NewWindowSink creates a window sink. today supplies the day windows are
// tagged with; health may be nil.
func NewWindowSink(
	log logrus.FieldLogger,
	cfg WindowConfig,
	today func() civil.Date,
	health *export.HealthMetrics,
) *WindowSink {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}

	return &WindowSink{
		log:    log.WithField("sink", "window"),
		cfg:    cfg,
		health: health,
		today:  today,
		done:   make(chan struct{}),
	}
}

func (s *WindowSink) Name() string { return "window" }

func (s *WindowSink) Start(ctx context.Context) error {
	s.mu.Lock()
	s.bucket = NewBucket(s.today(), time.Now())
	s.mu.Unlock()

	ctx, s.cancel = context.WithCancel(ctx)

	go s.runTimer(ctx)

	s.log.WithField("interval", s.cfg.Interval).
		Info("Window sink started")

	return nil
}

func (s *WindowSink) Stop() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done

		s.flushWindow()
	}

	return nil
}

func (s *WindowSink) HandleBirthday(b Birthday) {
	s.mu.Lock()
	bucket := s.bucket
	s.mu.Unlock()

	if bucket == nil {
		return
	}

	bucket.Add(b)

	if s.health != nil {
		s.health.SinkEventsProcessed.WithLabelValues("window").Inc()
	}
}

func (s *WindowSink) OnDayChanged(today civil.Date) {
	s.mu.Lock()
	if s.bucket != nil {
		s.bucket.Day = today
	}
	s.mu.Unlock()
}

func (s *WindowSink) runTimer(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flushWindow()
		}
	}
}

func (s *WindowSink) flushWindow() {
	s.mu.Lock()
	old := s.bucket
	s.bucket = NewBucket(old.Day, time.Now())
	s.mu.Unlock()

	if old.Count.Load() == 0 {
		return
	}

	snap := old.Snapshot()
	logSnapshot(s.log, snap, "Window summary")

	if s.health != nil {
		s.health.SinkBatchSize.WithLabelValues("window").Observe(float64(snap.Count))
	}

	if s.onFlush != nil {
		s.onFlush(snap)
	}
}

func logSnapshot(log logrus.FieldLogger, snap BucketSnapshot, msg string) {
	log.WithFields(logrus.Fields{
		"day":      snap.Day.String(),
		"since":    snap.StartTime.Format(time.RFC3339),
		"count":    snap.Count,
		"earliest": snap.Earliest.String(),
		"latest":   snap.Latest.String(),
		"mean":     snap.Mean.String(),
	}).Info(msg)
}
