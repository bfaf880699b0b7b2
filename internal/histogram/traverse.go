package histogram

import (
	"fmt"

	"cloud.google.com/go/civil"
)

// CountInRange counts the dates in [start, end] recorded in counters.
//
// The walk consumes whole years while the cursor sits on January 1 and the
// year ends inside the window, then whole months while it sits on the 1st
// of a month that ends inside the window, and single days otherwise.
// Entering a new January sends the walk back to the year tier.
func CountInRange(h Horizon, counters []int32, start, end civil.Date) (int64, error) {
	if err := h.Check(start); err != nil {
		return 0, err
	}

	if err := h.Check(end); err != nil {
		return 0, err
	}

	if end.Before(start) {
		return 0, fmt.Errorf("%w: %s > %s", ErrInvalidRange, start, end)
	}

	var (
		total int64
		cur   = start
	)

walk:
	for !cur.After(end) {
		for isFirstOfYear(cur) && !lastOfYear(cur).After(end) {
			total += int64(counters[h.yearIndex(cur)])
			cur = nextYear(cur)
		}

		for cur.Day == 1 && !lastOfMonth(cur).After(end) {
			total += int64(counters[h.monthIndex(cur)])
			cur = nextMonth(cur)

			if isFirstOfYear(cur) {
				continue walk
			}
		}

		month := cur.Month
		for !cur.After(end) && cur.Month == month {
			total += int64(counters[h.dayIndex(cur)])
			cur = cur.AddDays(1)
		}
	}

	return total, nil
}

// AdvanceUntil returns the earliest date d >= start such that the dates
// recorded in [start, d] number at least target. The returned bool is false
// when the horizon runs out first.
//
// Whole years and months are only consumed while they keep the running
// total below target; the day tier then stops on the exact day the target
// is reached, even if that day holds several entries.
func AdvanceUntil(h Horizon, counters []int32, start civil.Date, target int64) (civil.Date, bool, error) {
	if err := h.Check(start); err != nil {
		return civil.Date{}, false, err
	}

	if target <= 0 {
		return start, true, nil
	}

	var (
		count int64
		cur   = start
		limit = h.end()
	)

walk:
	for cur.Before(limit) {
		for cur.Before(limit) && isFirstOfYear(cur) &&
			count+int64(counters[h.yearIndex(cur)]) < target {
			count += int64(counters[h.yearIndex(cur)])
			cur = nextYear(cur)
		}

		for cur.Before(limit) && cur.Day == 1 &&
			count+int64(counters[h.monthIndex(cur)]) < target {
			count += int64(counters[h.monthIndex(cur)])
			cur = nextMonth(cur)

			if isFirstOfYear(cur) {
				continue walk
			}
		}

		month := cur.Month
		for cur.Before(limit) && cur.Month == month {
			count += int64(counters[h.dayIndex(cur)])
			if count >= target {
				return cur, true, nil
			}

			cur = cur.AddDays(1)
		}
	}

	return civil.Date{}, false, nil
}
