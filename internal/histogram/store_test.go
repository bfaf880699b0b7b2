package histogram

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/medianage/internal/codec"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)

	return log
}

func date(y int, m time.Month, d int) civil.Date {
	return civil.Date{Year: y, Month: m, Day: d}
}

func newStore(t *testing.T, dates ...civil.Date) *Store {
	t.Helper()

	s := New(testLog(), DefaultHorizon())
	for _, d := range dates {
		require.NoError(t, s.Add(d))
	}

	return s
}

func TestHorizon_Defaults(t *testing.T) {
	h := DefaultHorizon()

	assert.Equal(t, date(1850, 1, 1), h.MinDate())
	assert.Equal(t, date(2049, 12, 31), h.MaxDate())
	assert.Equal(t, 200+200*12+200*12*31, h.Len())
	assert.NoError(t, h.Validate())
}

func TestHorizon_Validate(t *testing.T) {
	assert.Error(t, Horizon{EarliestYear: 1850, Years: 0}.Validate())
	assert.Error(t, Horizon{EarliestYear: 0, Years: 10}.Validate())
}

func TestHorizon_Indexes(t *testing.T) {
	h := DefaultHorizon()

	tests := []struct {
		d                civil.Date
		year, month, day int
	}{
		{d: date(1850, 1, 1), year: 0, month: 200, day: 2600},
		{d: date(1851, 2, 3), year: 1, month: 200 + 12 + 1, day: 2600 + 372 + 31 + 2},
		{d: date(2049, 12, 31), year: 199, month: 2599, day: h.Len() - 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.year, h.yearIndex(tt.d), "year %s", tt.d)
		assert.Equal(t, tt.month, h.monthIndex(tt.d), "month %s", tt.d)
		assert.Equal(t, tt.day, h.dayIndex(tt.d), "day %s", tt.d)
	}
}

func TestHorizon_Check(t *testing.T) {
	h := DefaultHorizon()

	assert.NoError(t, h.Check(date(1850, 1, 1)))
	assert.NoError(t, h.Check(date(2049, 12, 31)))
	assert.ErrorIs(t, h.Check(date(1849, 12, 31)), ErrOutOfRangeDate)
	assert.ErrorIs(t, h.Check(date(2050, 1, 1)), ErrOutOfRangeDate)
	assert.ErrorIs(t, h.Check(date(2001, 2, 30)), ErrInvalidDate)
}

func TestStore_AddRejectsOutOfRange(t *testing.T) {
	s := newStore(t)

	err := s.Add(date(2050, 7, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfRangeDate)

	assert.Equal(t, uint64(0), s.Generation())
	assert.False(t, s.Dirty())
	assert.Equal(t, int64(0), s.Snapshot().Total())
}

func TestStore_AddKeepsTiersConsistent(t *testing.T) {
	s := newStore(t,
		date(2001, 5, 2), date(2001, 5, 30), date(2001, 6, 23), date(2004, 2, 29),
	)
	snap := s.Snapshot()
	h := s.Horizon()

	for y := h.EarliestYear; y < h.EarliestYear+h.Years; y++ {
		var months int64
		for m := time.January; m <= time.December; m++ {
			first := date(y, m, 1)

			var days int64
			for d := 0; d < slotsPerMonth; d++ {
				days += int64(snap.counters[h.dayIndex(first)+d])
			}

			month := int64(snap.counters[h.monthIndex(first)])
			require.Equal(t, month, days, "%d-%02d", y, m)

			months += month
		}

		require.Equal(t, snap.YearCount(y), months, "%d", y)
	}

	assert.Equal(t, int64(4), snap.Total())
}

func TestStore_CountAfterAdd(t *testing.T) {
	s := newStore(t)
	d := date(1977, 8, 16)

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.Add(d))

		n, err := s.CountInRange(d, d)
		require.NoError(t, err)
		assert.Equal(t, int64(i), n)
	}
}

func TestStore_SnapshotIsPointInTime(t *testing.T) {
	s := newStore(t, date(2001, 2, 5))

	snap1 := s.Snapshot()
	require.NoError(t, s.Add(date(2001, 2, 6)))
	snap2 := s.Snapshot()

	n1, err := snap1.CountInRange(date(2001, 1, 1), date(2001, 12, 31))
	require.NoError(t, err)
	n2, err := snap2.CountInRange(date(2001, 1, 1), date(2001, 12, 31))
	require.NoError(t, err)

	assert.Equal(t, int64(1), n1)
	assert.Equal(t, int64(2), n2)
	assert.Less(t, snap1.Generation(), snap2.Generation())
}

func TestStore_ConcurrentAddsAndSnapshots(t *testing.T) {
	s := newStore(t)
	d := date(1990, 6, 15)

	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)

		go func() {
			defer wg.Done()

			for j := 0; j < 20; j++ {
				assert.NoError(t, s.Add(d))
			}
		}()

		go func() {
			defer wg.Done()

			snap := s.Snapshot()
			// Tiers of a snapshot always agree.
			assert.Equal(t, snap.YearCount(1990), snap.DayCount(d))
		}()
	}

	wg.Wait()

	assert.Equal(t, int64(1000), s.Snapshot().DayCount(d))
	assert.Equal(t, uint64(1000), s.Generation())
}

type countingStarter struct {
	mu    sync.Mutex
	calls int
}

func (c *countingStarter) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++

	return nil
}

func TestStore_LazyStartsPersistenceOnce(t *testing.T) {
	s := newStore(t)
	starter := &countingStarter{}
	s.EnablePersistence(filepath.Join(t.TempDir(), "h.bin"), starter)

	require.Error(t, s.Add(date(1700, 1, 1)))
	assert.Equal(t, 0, starter.calls)

	require.NoError(t, s.Add(date(2000, 1, 1)))
	require.NoError(t, s.Add(date(2000, 1, 2)))
	assert.Equal(t, 1, starter.calls)
}

func TestStore_PersistIfDirty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.bin")
	s := newStore(t)
	s.EnablePersistence(path, nil)

	// Clean store writes nothing.
	n, err := s.PersistIfDirty()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NoFileExists(t, path)

	require.NoError(t, s.Add(date(1999, 2, 5)))
	assert.True(t, s.Dirty())

	n, err = s.PersistIfDirty()
	require.NoError(t, err)
	assert.Equal(t, DefaultHorizon().Len()*codec.RecordSize, n)
	assert.False(t, s.Dirty())

	// Second call is a no-op until the next Add.
	n, err = s.PersistIfDirty()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStore_PersistFailureKeepsDirty(t *testing.T) {
	s := newStore(t)
	s.EnablePersistence(filepath.Join(t.TempDir(), "missing", "h.bin"), nil)

	require.NoError(t, s.Add(date(1999, 2, 5)))

	_, err := s.PersistIfDirty()
	require.Error(t, err)
	assert.ErrorIs(t, err, codec.ErrIO)
	assert.True(t, s.Dirty())
}

func TestLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.bin")

	s := newStore(t)
	s.EnablePersistence(path, nil)
	require.NoError(t, s.Add(date(1995, 7, 20)))
	require.NoError(t, s.Add(date(1995, 7, 20)))
	require.NoError(t, s.Add(date(2010, 1, 31)))
	_, err := s.PersistIfDirty()
	require.NoError(t, err)

	loaded, err := Load(testLog(), DefaultHorizon(), path)
	require.NoError(t, err)

	assert.Equal(t, s.Snapshot().counters, loaded.Snapshot().counters)
	assert.False(t, loaded.Dirty())
}

func TestLoad_MissingFileStartsEmpty(t *testing.T) {
	s, err := Load(testLog(), DefaultHorizon(), filepath.Join(t.TempDir(), "none.bin"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.Snapshot().Total())
}

func TestLoad_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.bin")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3, 4, 5}, 0o644))

	_, err := Load(testLog(), DefaultHorizon(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, codec.ErrCorruptPersistedState)
}

func TestLoad_HorizonMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.bin")
	require.NoError(t, codec.Write(make([]int32, 10), path))

	_, err := Load(testLog(), DefaultHorizon(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, codec.ErrCorruptPersistedState)
}
