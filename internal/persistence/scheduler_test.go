package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/medianage/internal/codec"
	"github.com/ethpandaops/medianage/internal/export"
	"github.com/ethpandaops/medianage/internal/histogram"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)

	return log
}

type fakeTarget struct {
	calls atomic.Int64
	fail  atomic.Bool
	block chan struct{}
}

func (f *fakeTarget) PersistIfDirty() (int, error) {
	f.calls.Add(1)

	if f.block != nil {
		<-f.block
	}

	if f.fail.Load() {
		return 0, codec.ErrIO
	}

	return 4, nil
}

func TestScheduler_StartStopIdempotent(t *testing.T) {
	s := New(testLog(), Config{Interval: time.Hour}, &fakeTarget{}, nil)
	assert.Equal(t, Stopped, s.State())

	require.NoError(t, s.Stop())
	assert.Equal(t, Stopped, s.State())

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, Running, s.State())

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.Equal(t, Stopped, s.State())
}

func TestScheduler_DefaultInterval(t *testing.T) {
	s := New(testLog(), Config{}, &fakeTarget{}, nil)
	assert.Equal(t, DefaultInterval, s.interval)
}

func TestScheduler_TicksFlush(t *testing.T) {
	target := &fakeTarget{}
	s := New(testLog(), Config{Interval: 5 * time.Millisecond}, target, nil)

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	assert.Eventually(t, func() bool {
		return target.calls.Load() >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_FailuresDoNotStopSchedule(t *testing.T) {
	health := export.NewHealthMetrics(testLog(), export.HealthConfig{})
	target := &fakeTarget{}
	target.fail.Store(true)

	s := New(testLog(), Config{Interval: 5 * time.Millisecond}, target, health)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	assert.Eventually(t, func() bool {
		return target.calls.Load() >= 3
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, Running, s.State())
	assert.GreaterOrEqual(t, testutil.ToFloat64(health.PersistErrors), float64(3))
}

func TestScheduler_StopWaitsForInFlightFlush(t *testing.T) {
	target := &fakeTarget{block: make(chan struct{})}
	s := New(testLog(), Config{Interval: time.Millisecond}, target, nil)

	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		return target.calls.Load() == 1
	}, time.Second, time.Millisecond)

	stopped := make(chan struct{})

	go func() {
		_ = s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a flush was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(target.block)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the flush finished")
	}

	calls := target.calls.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, calls, target.calls.Load(), "no ticks after stop")
}

func TestScheduler_Restart(t *testing.T) {
	target := &fakeTarget{}
	s := New(testLog(), Config{Interval: 5 * time.Millisecond}, target, nil)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())

	before := target.calls.Load()

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	assert.Eventually(t, func() bool {
		return target.calls.Load() > before
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_FlushRecordsMetrics(t *testing.T) {
	health := export.NewHealthMetrics(testLog(), export.HealthConfig{})
	s := New(testLog(), Config{}, &fakeTarget{}, health)

	require.NoError(t, s.Flush())
	assert.Equal(t, float64(1), testutil.ToFloat64(health.PersistFlushes))
	assert.Equal(t, float64(4), testutil.ToFloat64(health.PersistedBytes))

	failing := &fakeTarget{}
	failing.fail.Store(true)

	s = New(testLog(), Config{}, failing, health)
	assert.True(t, errors.Is(s.Flush(), codec.ErrIO))
	assert.Equal(t, float64(1), testutil.ToFloat64(health.PersistErrors))
}

func TestScheduler_PersistsStoreOnFirstAdd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bdayhistogram.bin")
	horizon := histogram.DefaultHorizon()

	store := histogram.New(testLog(), horizon)
	s := New(testLog(), Config{Interval: 5 * time.Millisecond}, store, nil)
	store.EnablePersistence(path, s)
	t.Cleanup(func() { _ = s.Stop() })

	assert.Equal(t, Stopped, s.State())

	bday := civil.Date{Year: 1984, Month: time.October, Day: 3}
	require.NoError(t, store.Add(bday))
	assert.Equal(t, Running, s.State())

	require.Eventually(t, func() bool {
		loaded, err := histogram.Load(testLog(), horizon, path)

		return err == nil && loaded.Snapshot().DayCount(bday) == 1
	}, time.Second, 5*time.Millisecond)
}
