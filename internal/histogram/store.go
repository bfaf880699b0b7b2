// Package histogram keeps year, month and day birth date counters in one
// flat array and answers range-count and count-to-date queries by walking
// them hierarchically.
package histogram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"cloud.google.com/go/civil"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/medianage/internal/codec"
)

// Starter is started on the first successful Add.
type Starter interface {
	Start(ctx context.Context) error
}

// Store owns the live counter array.
type Store struct {
	log     logrus.FieldLogger
	horizon Horizon

	mu         sync.RWMutex
	counters   []int32
	generation uint64
	dirty      bool

	// persistMu serialises writers of the file.
	persistMu sync.Mutex
	path      string
	starter   Starter
	startOnce sync.Once
}

var _ Reporter = (*Store)(nil)

// New creates an empty store for the horizon.
func New(log logrus.FieldLogger, horizon Horizon) *Store {
	return &Store{
		log:      log.WithField("component", "histogram"),
		horizon:  horizon,
		counters: make([]int32, horizon.Len()),
	}
}

// Load creates a store initialised from the persisted file at path.
// A missing file yields an empty store. A file that does not decode to
// exactly horizon.Len() counters fails with codec.ErrCorruptPersistedState.
func Load(log logrus.FieldLogger, horizon Horizon, path string) (*Store, error) {
	s := New(log, horizon)

	counters, err := codec.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.log.WithField("path", path).
				Info("No persisted histogram found, starting empty")

			return s, nil
		}

		return nil, fmt.Errorf("loading histogram from %s: %w", path, err)
	}

	if len(counters) != horizon.Len() {
		return nil, fmt.Errorf(
			"loading histogram from %s: %w: got %d counters, horizon needs %d",
			path, codec.ErrCorruptPersistedState, len(counters), horizon.Len(),
		)
	}

	s.counters = counters

	s.log.WithFields(logrus.Fields{
		"path":    path,
		"entries": NewSnapshot(horizon, counters).Total(),
	}).Info("Recovered histogram from disk")

	return s, nil
}

// EnablePersistence sets the file PersistIfDirty writes to and the
// scheduler started lazily on the first Add. Must be called before the
// store is shared between goroutines.
func (s *Store) EnablePersistence(path string, starter Starter) {
	s.path = path
	s.starter = starter
}

// Horizon returns the store's horizon.
func (s *Store) Horizon() Horizon {
	return s.horizon
}

// Add records one birth date.
func (s *Store) Add(d civil.Date) error {
	if err := s.horizon.Check(d); err != nil {
		return err
	}

	yi, mi, di := s.horizon.yearIndex(d), s.horizon.monthIndex(d), s.horizon.dayIndex(d)

	s.mu.Lock()
	s.counters[yi]++
	s.counters[mi]++
	s.counters[di]++
	s.generation++
	s.dirty = true
	s.mu.Unlock()

	if s.starter != nil {
		s.startOnce.Do(func() {
			if err := s.starter.Start(context.Background()); err != nil {
				s.log.WithError(err).Error("Failed to start persistence scheduler")
			}
		})
	}

	return nil
}

// Snapshot returns a frozen copy of the counters. The copy never observes
// a partially applied Add.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counters := make([]int32, len(s.counters))
	copy(counters, s.counters)

	return &Snapshot{
		horizon:    s.horizon,
		counters:   counters,
		generation: s.generation,
	}
}

// Generation increases by one on every Add.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.generation
}

// Dirty reports whether counters changed since the last successful flush.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.dirty
}

// CountInRange counts dates in [start, end] against the live counters,
// holding the read lock for the walk.
func (s *Store) CountInRange(start, end civil.Date) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return CountInRange(s.horizon, s.counters, start, end)
}

// AdvanceUntil runs AdvanceUntil against the live counters, holding the
// read lock for the walk.
func (s *Store) AdvanceUntil(start civil.Date, target int64) (civil.Date, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return AdvanceUntil(s.horizon, s.counters, start, target)
}

// PersistIfDirty writes the counters to the configured path when they
// changed since the last successful write. The copy is taken under the
// lock and written outside it. A failed write leaves the store dirty.
func (s *Store) PersistIfDirty() (int, error) {
	if s.path == "" {
		return 0, nil
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()

		return 0, nil
	}

	counters := make([]int32, len(s.counters))
	copy(counters, s.counters)
	s.dirty = false
	s.mu.Unlock()

	if err := codec.Write(counters, s.path); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()

		return 0, err
	}

	return len(counters) * codec.RecordSize, nil
}
