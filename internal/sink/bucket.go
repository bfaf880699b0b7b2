package sink

import (
	"math"
	"sync/atomic"
	"time"

	"cloud.google.com/go/civil"
)

var unixEpoch = civil.Date{Year: 1970, Month: time.January, Day: 1}

// Bucket aggregates birthdays over a period (window or day).
type Bucket struct {
	StartTime time.Time
	Day       civil.Date

	Count atomic.Int64

	// Birth dates as days since the Unix epoch.
	sumDays  atomic.Int64
	earliest atomic.Int64
	latest   atomic.Int64
}

// NewBucket creates an empty bucket for day.
func NewBucket(day civil.Date, startTime time.Time) *Bucket {
	b := &Bucket{
		StartTime: startTime,
		Day:       day,
	}

	b.earliest.Store(math.MaxInt64)
	b.latest.Store(math.MinInt64)

	return b
}

// Add incorporates one birthday.
func (b *Bucket) Add(bd Birthday) {
	days := int64(bd.Date.DaysSince(unixEpoch))

	b.Count.Add(1)
	b.sumDays.Add(days)

	for {
		cur := b.earliest.Load()
		if days >= cur || b.earliest.CompareAndSwap(cur, days) {
			break
		}
	}

	for {
		cur := b.latest.Load()
		if days <= cur || b.latest.CompareAndSwap(cur, days) {
			break
		}
	}
}

// BucketSnapshot is a point-in-time copy of a bucket. Earliest, Latest and
// Mean are zero dates when Count is 0.
type BucketSnapshot struct {
	StartTime time.Time
	Day       civil.Date
	Count     int64
	Earliest  civil.Date
	Latest    civil.Date
	Mean      civil.Date
}

// Snapshot returns a point-in-time snapshot of the bucket.
func (b *Bucket) Snapshot() BucketSnapshot {
	snap := BucketSnapshot{
		StartTime: b.StartTime,
		Day:       b.Day,
		Count:     b.Count.Load(),
	}

	if snap.Count == 0 {
		return snap
	}

	snap.Earliest = unixEpoch.AddDays(int(b.earliest.Load()))
	snap.Latest = unixEpoch.AddDays(int(b.latest.Load()))
	snap.Mean = unixEpoch.AddDays(int(floorDiv(b.sumDays.Load(), snap.Count)))

	return snap
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}

	return q
}
