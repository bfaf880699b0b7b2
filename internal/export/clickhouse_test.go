package export

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClickHouseConfig_Defaults(t *testing.T) {
	w := NewClickHouseWriter(testLog(), ClickHouseConfig{Endpoint: "localhost:9000"})
	cfg := w.Config()

	assert.Equal(t, "default", cfg.Database)
	assert.Equal(t, "birthdays", cfg.Table)
	assert.Equal(t, 10000, cfg.BatchSize)
	assert.Equal(t, time.Second, cfg.FlushInterval)
}

func TestClickHouseWriter_InsertQuery(t *testing.T) {
	w := NewClickHouseWriter(testLog(), ClickHouseConfig{
		Database: "analytics",
		Table:    "bdays",
	})

	assert.Equal(t,
		"INSERT INTO analytics.bdays (added_at, birth_date, birth_year, birth_month, birth_day, instance)",
		w.insertQuery(),
	)
}

func TestClickHouseWriter_InsertBeforeStart(t *testing.T) {
	w := NewClickHouseWriter(testLog(), ClickHouseConfig{})

	require.NoError(t, w.Insert(context.Background(), nil))

	err := w.Insert(context.Background(), []BirthdayRow{{
		AddedAt:   time.Now(),
		BirthDate: civil.Date{Year: 1999, Month: time.February, Day: 5},
	}})
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.NoError(t, w.Stop())
}

func TestBatchError_Unwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := error(&BatchError{Stage: "send", Err: cause})

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "send batch: connection reset", err.Error())

	var be *BatchError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "send", be.Stage)
}
