package clock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/ethpandaops/ethwallclock"
	"github.com/sirupsen/logrus"
)

const day = 24 * time.Hour

// DayChangedFunc is called when the calendar day rolls over.
type DayChangedFunc func(today civil.Date)

// Clock reports the current UTC calendar day.
type Clock interface {
	// Start begins watching for day rollovers.
	Start(ctx context.Context) error
	// Stop terminates the clock.
	Stop() error
	// Today returns the current calendar day.
	Today() civil.Date
	// OnDayChanged registers a callback for day rollovers.
	OnDayChanged(fn DayChangedFunc)
}

// clock treats each day since the Unix epoch as one wallclock slot, so
// slot N is the day origin + N.
type clock struct {
	log       logrus.FieldLogger
	origin    civil.Date
	wallclock *ethwallclock.EthereumBeaconChain
	stopOnce  sync.Once

	mu        sync.RWMutex
	callbacks []DayChangedFunc
}

// New creates a UTC day clock.
func New(log logrus.FieldLogger) (Clock, error) {
	epoch := time.Unix(0, 0).UTC()

	c, err := newClock(log, civil.DateOf(epoch), epoch, day)
	if err != nil {
		return nil, fmt.Errorf("creating day clock: %w", err)
	}

	return c, nil
}

func newClock(
	log logrus.FieldLogger,
	origin civil.Date,
	genesis time.Time,
	period time.Duration,
) (*clock, error) {
	if period <= 0 {
		return nil, fmt.Errorf("period must be > 0")
	}

	// Epochs are unused; seven days keeps them week sized.
	wc := ethwallclock.NewEthereumBeaconChain(genesis, period, 7)

	return &clock{
		log:       log.WithField("component", "clock"),
		origin:    origin,
		wallclock: wc,
		callbacks: make([]DayChangedFunc, 0, 2),
	}, nil
}

func (c *clock) Start(_ context.Context) error {
	// ethwallclock calls this in a new goroutine on each slot change.
	c.wallclock.OnSlotChanged(func(slot ethwallclock.Slot) {
		today := c.dateOf(slot.Number())

		c.log.WithField("today", today.String()).
			Info("Day changed")

		c.mu.RLock()
		callbacks := c.callbacks
		c.mu.RUnlock()

		for _, fn := range callbacks {
			fn(today)
		}
	})

	c.log.WithField("today", c.Today().String()).
		Info("Clock started")

	return nil
}

func (c *clock) Stop() error {
	c.stopOnce.Do(func() { c.wallclock.Stop() })

	return nil
}

func (c *clock) Today() civil.Date {
	slot := c.wallclock.Slots().Current()

	return c.dateOf(slot.Number())
}

func (c *clock) OnDayChanged(fn DayChangedFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.callbacks = append(c.callbacks, fn)
}

func (c *clock) dateOf(slot uint64) civil.Date {
	return c.origin.AddDays(int(slot))
}

// Fixed is a Clock frozen on one day.
type Fixed civil.Date

var _ Clock = Fixed{}

func (f Fixed) Start(_ context.Context) error { return nil }
func (f Fixed) Stop() error                   { return nil }
func (f Fixed) Today() civil.Date             { return civil.Date(f) }
func (f Fixed) OnDayChanged(_ DayChangedFunc) {}
