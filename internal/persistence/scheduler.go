// Package persistence periodically writes a dirty histogram to disk.
package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/medianage/internal/export"
)

// DefaultInterval is the flush period when none is configured.
const DefaultInterval = 10 * time.Second

// Config configures histogram persistence.
type Config struct {
	// Enabled attaches a scheduler to the store.
	Enabled bool `yaml:"enabled"`

	// Path is the histogram file.
	Path string `yaml:"path"`

	// Interval between flush attempts. Defaults to 10s.
	Interval time.Duration `yaml:"interval"`

	// Recover loads Path at startup when it exists.
	Recover bool `yaml:"recover"`

	// FlushOnShutdown performs one last flush after the scheduler stops.
	FlushOnShutdown bool `yaml:"flush_on_shutdown"`
}

// Persistable is flushed on every tick.
type Persistable interface {
	// PersistIfDirty writes state if it changed since the last successful
	// write and returns the number of bytes written.
	PersistIfDirty() (int, error)
}

// State of the scheduler.
type State int

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	default:
		return "stopped"
	}
}

// Scheduler calls PersistIfDirty at a fixed interval while running.
type Scheduler struct {
	log      logrus.FieldLogger
	interval time.Duration
	target   Persistable
	health   *export.HealthMetrics

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped scheduler. health may be nil.
func New(
	log logrus.FieldLogger,
	cfg Config,
	target Persistable,
	health *export.HealthMetrics,
) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	return &Scheduler{
		log:      log.WithField("component", "persistence"),
		interval: cfg.Interval,
		target:   target,
		health:   health,
	}
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Start begins ticking. Starting a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Running {
		s.log.Debug("Persistence scheduler already running")

		return nil
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.state = Running

	go s.run(ctx, s.done)

	if s.health != nil {
		s.health.SchedulerRunning.Set(1)
	}

	s.log.WithField("interval", s.interval).
		Info("Persistence scheduler started")

	return nil
}

// Stop cancels future ticks and waits for an in-flight flush to finish.
// Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() error {
	s.mu.Lock()

	if s.state == Stopped {
		s.mu.Unlock()
		s.log.Debug("Persistence scheduler already stopped")

		return nil
	}

	cancel, done := s.cancel, s.done
	s.state = Stopped
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	<-done

	if s.health != nil {
		s.health.SchedulerRunning.Set(0)
	}

	s.log.Info("Persistence scheduler stopped")

	return nil
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Flush()
		}
	}
}

// Flush runs one PersistIfDirty. Failures are logged and counted; the
// returned error is for callers that flush outside the ticker.
func (s *Scheduler) Flush() error {
	start := time.Now()

	n, err := s.target.PersistIfDirty()
	if err != nil {
		s.log.WithError(err).Warn("Failed to persist histogram, retrying next tick")

		if s.health != nil {
			s.health.PersistErrors.Inc()
		}

		return err
	}

	if n == 0 {
		s.log.Debug("Histogram clean, nothing to persist")

		return nil
	}

	duration := time.Since(start)

	if s.health != nil {
		s.health.PersistFlushes.Inc()
		s.health.PersistDuration.Observe(duration.Seconds())
		s.health.PersistedBytes.Set(float64(n))
	}

	s.log.WithFields(logrus.Fields{
		"bytes":    n,
		"duration": duration,
	}).Debug("Persisted histogram")

	return nil
}
