package histogram

import (
	"time"

	"cloud.google.com/go/civil"
)

// Reporter answers the two traversal queries. *Store reads live state and
// locks per call; *Snapshot reads one frozen array and never locks, so a
// caller issuing several queries against it sees one consistent state.
type Reporter interface {
	// CountInRange counts recorded dates in [start, end].
	CountInRange(start, end civil.Date) (int64, error)
	// AdvanceUntil finds the earliest date at which the count from start
	// reaches target.
	AdvanceUntil(start civil.Date, target int64) (civil.Date, bool, error)
}

// Snapshot is an immutable point-in-time copy of a store's counters.
type Snapshot struct {
	horizon    Horizon
	counters   []int32
	generation uint64
}

var _ Reporter = (*Snapshot)(nil)

// NewSnapshot wraps counters that were produced elsewhere, e.g. read back
// from disk. The slice must not be modified afterwards.
func NewSnapshot(horizon Horizon, counters []int32) *Snapshot {
	return &Snapshot{
		horizon:  horizon,
		counters: counters,
	}
}

// Generation is the store generation the snapshot was taken at.
func (s *Snapshot) Generation() uint64 {
	return s.generation
}

// Horizon returns the horizon the counters are laid out for.
func (s *Snapshot) Horizon() Horizon {
	return s.horizon
}

func (s *Snapshot) CountInRange(start, end civil.Date) (int64, error) {
	return CountInRange(s.horizon, s.counters, start, end)
}

func (s *Snapshot) AdvanceUntil(start civil.Date, target int64) (civil.Date, bool, error) {
	return AdvanceUntil(s.horizon, s.counters, start, target)
}

// Total is the number of recorded dates.
func (s *Snapshot) Total() int64 {
	var n int64
	for _, c := range s.counters[:s.horizon.Years] {
		n += int64(c)
	}

	return n
}

// YearCount returns the counter for one year, or 0 outside the horizon.
func (s *Snapshot) YearCount(year int) int64 {
	d := civil.Date{Year: year, Month: time.January, Day: 1}
	if s.horizon.Check(d) != nil {
		return 0
	}

	return int64(s.counters[s.horizon.yearIndex(d)])
}

// DayCount returns the counter for one day, or 0 if the date is rejected.
func (s *Snapshot) DayCount(d civil.Date) int64 {
	if s.horizon.Check(d) != nil {
		return 0
	}

	return int64(s.counters[s.horizon.dayIndex(d)])
}
