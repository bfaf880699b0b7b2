package agent

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/medianage/internal/api"
	"github.com/ethpandaops/medianage/internal/clock"
	"github.com/ethpandaops/medianage/internal/codec"
	"github.com/ethpandaops/medianage/internal/export"
	"github.com/ethpandaops/medianage/internal/histogram"
	"github.com/ethpandaops/medianage/internal/median"
	"github.com/ethpandaops/medianage/internal/persistence"
	"github.com/ethpandaops/medianage/internal/sink"
)

// Agent is the top-level orchestrator for medianage.
type Agent interface {
	// Start loads state and begins serving.
	Start(ctx context.Context) error
	// Stop shuts down all components gracefully.
	Stop() error
}

type agent struct {
	log    logrus.FieldLogger
	cfg    *Config
	health *export.HealthMetrics
	clock  clock.Clock
	sinks  []sink.Sink

	lock      *codec.FileLock
	store     *histogram.Store
	scheduler *persistence.Scheduler
	median    *median.Calculator
	api       *api.Server

	cancel context.CancelFunc
}

// New creates a new Agent.
func New(log logrus.FieldLogger, cfg *Config) (Agent, error) {
	clk, err := clock.New(log)
	if err != nil {
		return nil, err
	}

	return newAgent(log, cfg, clk)
}

func newAgent(log logrus.FieldLogger, cfg *Config, clk clock.Clock) (*agent, error) {
	health := export.NewHealthMetrics(log, cfg.Health)

	a := &agent{
		log:    log.WithField("component", "agent"),
		cfg:    cfg,
		health: health,
		clock:  clk,
		sinks:  make([]sink.Sink, 0, 3),
	}

	if cfg.Sinks.Window.Enabled {
		a.sinks = append(a.sinks, sink.NewWindowSink(
			log, cfg.Sinks.Window, clk.Today, health,
		))
	}

	if cfg.Sinks.Daily.Enabled {
		a.sinks = append(a.sinks, sink.NewDailySink(log, clk.Today, health))
	}

	if cfg.Sinks.Record.Enabled {
		record, err := sink.NewRecordSink(log, cfg.Sinks.Record, health)
		if err != nil {
			return nil, fmt.Errorf("creating record sink: %w", err)
		}

		a.sinks = append(a.sinks, record)
	}

	return a, nil
}

func (a *agent) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	// 1. Start health metrics server.
	if err := a.health.Start(ctx); err != nil {
		return fmt.Errorf("starting health metrics: %w", err)
	}

	// 2. Load the histogram and attach persistence.
	if err := a.openStore(); err != nil {
		return err
	}

	// 3. Median calculator over the live store.
	calc, err := median.New(a.log, a.store, a.cfg.MedianCache, a.health)
	if err != nil {
		return err
	}

	a.median = calc

	// 4. Start all enabled sinks.
	for _, s := range a.sinks {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("starting sink %s: %w", s.Name(), err)
		}

		a.log.WithField("sink", s.Name()).Info("Sink started")
	}

	// 5. Day rollovers go to every sink.
	a.clock.OnDayChanged(func(today civil.Date) {
		for _, s := range a.sinks {
			s.OnDayChanged(today)
		}
	})

	if err := a.clock.Start(ctx); err != nil {
		return fmt.Errorf("starting clock: %w", err)
	}

	// 6. Serve the API.
	a.api = api.New(
		a.log, a.cfg.API, a.store, a.median, a.clock, a.health, a.handleAdded,
	)

	if err := a.api.Start(ctx); err != nil {
		return fmt.Errorf("starting API: %w", err)
	}

	a.log.WithFields(logrus.Fields{
		"horizon_start": a.cfg.Horizon.MinDate().String(),
		"horizon_end":   a.cfg.Horizon.MaxDate().String(),
		"persistence":   a.cfg.Persistence.Enabled,
		"sinks":         len(a.sinks),
	}).Info("Agent fully started")

	return nil
}

func (a *agent) openStore() error {
	pcfg := a.cfg.Persistence

	if !pcfg.Enabled {
		a.store = histogram.New(a.log, a.cfg.Horizon)
		a.log.Warn("Persistence disabled, histogram lives in memory only")

		return nil
	}

	lock, err := codec.Lock(pcfg.Path)
	if err != nil {
		return fmt.Errorf("locking %s: %w", pcfg.Path, err)
	}

	a.lock = lock

	if pcfg.Recover {
		store, err := histogram.Load(a.log, a.cfg.Horizon, pcfg.Path)
		if err != nil {
			return err
		}

		a.store = store
	} else {
		a.store = histogram.New(a.log, a.cfg.Horizon)
	}

	a.scheduler = persistence.New(a.log, pcfg, a.store, a.health)
	a.store.EnablePersistence(pcfg.Path, a.scheduler)

	return nil
}

func (a *agent) handleAdded(d civil.Date, addedAt time.Time) {
	b := sink.Birthday{Date: d, AddedAt: addedAt}

	for _, s := range a.sinks {
		s.HandleBirthday(b)
	}
}

func (a *agent) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}

	// Stop in reverse order.
	if a.api != nil {
		if err := a.api.Stop(); err != nil {
			a.log.WithError(err).Error("Error stopping API")
		}
	}

	if a.clock != nil {
		if err := a.clock.Stop(); err != nil {
			a.log.WithError(err).Error("Error stopping clock")
		}
	}

	if a.scheduler != nil {
		if err := a.scheduler.Stop(); err != nil {
			a.log.WithError(err).Error("Error stopping persistence scheduler")
		}

		if a.cfg.Persistence.FlushOnShutdown {
			if err := a.scheduler.Flush(); err != nil {
				a.log.WithError(err).Error("Final histogram flush failed")
			}
		}
	}

	if err := a.lock.Unlock(); err != nil {
		a.log.WithError(err).Error("Error releasing histogram lock")
	}

	for _, s := range a.sinks {
		if err := s.Stop(); err != nil {
			a.log.WithError(err).WithField("sink", s.Name()).
				Error("Error stopping sink")
		}
	}

	if a.health != nil {
		if err := a.health.Stop(); err != nil {
			a.log.WithError(err).Error("Error stopping health server")
		}
	}

	return nil
}
