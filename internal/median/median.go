// Package median finds the median birth date of a date range.
package median

import (
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/medianage/internal/export"
	"github.com/ethpandaops/medianage/internal/histogram"
)

// Config configures the median result cache.
type Config struct {
	// Size is the number of cached results. 0 disables the cache.
	Size int `yaml:"size"`
}

// Snapshotter hands out consistent copies of a histogram.
type Snapshotter interface {
	Snapshot() *histogram.Snapshot
	Generation() uint64
}

// Calculator answers median queries against one snapshot per query.
type Calculator struct {
	log    logrus.FieldLogger
	source Snapshotter
	cache  *lru.Cache
	health *export.HealthMetrics
}

type cacheKey struct {
	generation uint64
	start, end civil.Date
}

type cacheEntry struct {
	date civil.Date
	ok   bool
}

// New creates a calculator. health may be nil.
func New(
	log logrus.FieldLogger,
	source Snapshotter,
	cfg Config,
	health *export.HealthMetrics,
) (*Calculator, error) {
	c := &Calculator{
		log:    log.WithField("component", "median"),
		source: source,
		health: health,
	}

	if cfg.Size > 0 {
		cache, err := lru.New(cfg.Size)
		if err != nil {
			return nil, fmt.Errorf("creating median cache: %w", err)
		}

		c.cache = cache
	}

	return c, nil
}

// FindMedian returns the median birth date of dates recorded in
// [start, end]. ok is false when the range holds no dates.
func (c *Calculator) FindMedian(start, end civil.Date) (civil.Date, bool, error) {
	began := time.Now()

	d, ok, err := c.find(start, end)

	if c.health != nil {
		c.health.MedianQueryDuration.Observe(time.Since(began).Seconds())

		switch {
		case err != nil:
			c.health.MedianQueries.WithLabelValues("error").Inc()
		case !ok:
			c.health.MedianQueries.WithLabelValues("empty").Inc()
		default:
			c.health.MedianQueries.WithLabelValues("found").Inc()
		}
	}

	return d, ok, err
}

func (c *Calculator) find(start, end civil.Date) (civil.Date, bool, error) {
	if c.cache != nil {
		key := cacheKey{generation: c.source.Generation(), start: start, end: end}
		if v, ok := c.cache.Get(key); ok {
			if c.health != nil {
				c.health.MedianCacheHits.Inc()
			}

			e := v.(cacheEntry)

			return e.date, e.ok, nil
		}
	}

	snap := c.source.Snapshot()

	d, ok, err := Find(snap, start, end)
	if err != nil {
		return civil.Date{}, false, err
	}

	if c.cache != nil {
		c.cache.Add(
			cacheKey{generation: snap.Generation(), start: start, end: end},
			cacheEntry{date: d, ok: ok},
		)
	}

	c.log.WithFields(logrus.Fields{
		"start":      start.String(),
		"end":        end.String(),
		"generation": snap.Generation(),
		"found":      ok,
	}).Debug("Computed median")

	return d, ok, nil
}

// errNoUpperMiddle means the second middle date could not be found, which
// a consistent reporter never produces.
var errNoUpperMiddle = errors.New("upper middle date not found")

// Find runs the median walk against r. Pass a *histogram.Snapshot so all
// traversals see the same state.
func Find(r histogram.Reporter, start, end civil.Date) (civil.Date, bool, error) {
	total, err := r.CountInRange(start, end)
	if err != nil {
		return civil.Date{}, false, fmt.Errorf("counting range: %w", err)
	}

	if total == 0 {
		return civil.Date{}, false, nil
	}

	if total%2 == 1 {
		d, ok, err := r.AdvanceUntil(start, total/2+1)
		if err != nil {
			return civil.Date{}, false, fmt.Errorf("advancing to middle: %w", err)
		}

		return d, ok, nil
	}

	d1, ok, err := r.AdvanceUntil(start, total/2)
	if err != nil {
		return civil.Date{}, false, fmt.Errorf("advancing to lower middle: %w", err)
	}

	if !ok {
		return civil.Date{}, false, nil
	}

	// Restart at d1 and ask for 2: the count includes d1's own entries.
	d2, ok, err := r.AdvanceUntil(d1, 2)
	if err != nil {
		return civil.Date{}, false, fmt.Errorf("advancing to upper middle: %w", err)
	}

	if !ok {
		return civil.Date{}, false, fmt.Errorf("%w after %s", errNoUpperMiddle, d1)
	}

	return d1.AddDays(d2.DaysSince(d1) / 2), true, nil
}
