package histogram

import (
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

const (
	monthsPerYear   = 12
	slotsPerMonth   = 31
	daySlotsPerYear = monthsPerYear * slotsPerMonth
)

var (
	// ErrOutOfRangeDate is returned for dates outside the configured horizon.
	ErrOutOfRangeDate = errors.New("date outside supported horizon")
	// ErrInvalidDate is returned for dates that do not exist on the calendar.
	ErrInvalidDate = errors.New("invalid calendar date")
	// ErrInvalidRange is returned when a range ends before it starts.
	ErrInvalidRange = errors.New("range end is before range start")
)

// Horizon is the span of calendar years the counters cover.
type Horizon struct {
	// EarliestYear is the first supported year. Defaults to 1850.
	EarliestYear int `yaml:"earliest_year"`

	// Years is the number of supported years. Defaults to 200.
	Years int `yaml:"years"`
}

// DefaultHorizon returns the 1850-2049 horizon.
func DefaultHorizon() Horizon {
	return Horizon{
		EarliestYear: 1850,
		Years:        200,
	}
}

// Validate checks that the horizon describes at least one year.
func (h Horizon) Validate() error {
	if h.Years <= 0 {
		return fmt.Errorf("horizon.years must be positive")
	}

	if h.EarliestYear < 1 {
		return fmt.Errorf("horizon.earliest_year must be positive")
	}

	return nil
}

// MinDate is the first supported date.
func (h Horizon) MinDate() civil.Date {
	return civil.Date{Year: h.EarliestYear, Month: time.January, Day: 1}
}

// MaxDate is the last supported date.
func (h Horizon) MaxDate() civil.Date {
	return civil.Date{Year: h.EarliestYear + h.Years - 1, Month: time.December, Day: 31}
}

// end is the first date past the horizon.
func (h Horizon) end() civil.Date {
	return civil.Date{Year: h.EarliestYear + h.Years, Month: time.January, Day: 1}
}

// Len is the number of counters needed for the horizon.
func (h Horizon) Len() int {
	return h.Years + h.Years*monthsPerYear + h.Years*daySlotsPerYear
}

// Check validates a date against the calendar and the horizon.
func (h Horizon) Check(d civil.Date) error {
	if !d.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidDate, d)
	}

	if d.Before(h.MinDate()) || d.After(h.MaxDate()) {
		return fmt.Errorf(
			"%w: %s not in [%s, %s]",
			ErrOutOfRangeDate, d, h.MinDate(), h.MaxDate(),
		)
	}

	return nil
}

// yearIndex, monthIndex and dayIndex assume the date has passed Check.
func (h Horizon) yearIndex(d civil.Date) int {
	return d.Year - h.EarliestYear
}

func (h Horizon) monthIndex(d civil.Date) int {
	return h.Years + monthsPerYear*(d.Year-h.EarliestYear) + int(d.Month) - 1
}

func (h Horizon) dayIndex(d civil.Date) int {
	return h.Years + monthsPerYear*h.Years +
		daySlotsPerYear*(d.Year-h.EarliestYear) +
		slotsPerMonth*(int(d.Month)-1) + d.Day - 1
}

func isFirstOfYear(d civil.Date) bool {
	return d.Month == time.January && d.Day == 1
}

func lastOfYear(d civil.Date) civil.Date {
	return civil.Date{Year: d.Year, Month: time.December, Day: 31}
}

// lastOfMonth relies on time.Date normalising day 0 of the next month.
func lastOfMonth(d civil.Date) civil.Date {
	return civil.DateOf(time.Date(d.Year, d.Month+1, 0, 0, 0, 0, 0, time.UTC))
}

func nextYear(d civil.Date) civil.Date {
	return civil.Date{Year: d.Year + 1, Month: time.January, Day: 1}
}

func nextMonth(d civil.Date) civil.Date {
	if d.Month == time.December {
		return nextYear(d)
	}

	return civil.Date{Year: d.Year, Month: d.Month + 1, Day: 1}
}
