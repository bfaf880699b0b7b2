// Package migrate applies the embedded ClickHouse schema for recorded
// birthdays.
package migrate

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/clickhouse" // ClickHouse driver.
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/medianage/internal/export"
)

// Table is the table the migrations create.
const Table = "birthdays"

//go:embed sql/*.sql
var migrations embed.FS

// Migrator runs schema migrations against one ClickHouse database.
type Migrator struct {
	log logrus.FieldLogger
	dsn string
}

// New creates a Migrator for a clickhouse:// DSN such as
// "clickhouse://host:9000/database".
func New(log logrus.FieldLogger, dsn string) *Migrator {
	return &Migrator{
		log: log.WithField("component", "migrate"),
		dsn: dsn,
	}
}

// DSN builds a migration DSN from the writer config.
func DSN(cfg export.ClickHouseConfig) string {
	cfg.ApplyDefaults()

	u := url.URL{
		Scheme: "clickhouse",
		Host:   cfg.Endpoint,
		Path:   "/" + cfg.Database,
	}

	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}

	return u.String()
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	m.log.Info("Running migrations")

	err := m.run(ctx, func(mig *migrate.Migrate) error { return mig.Up() })
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}

	version, _, err := m.Status(ctx)
	if err != nil {
		return err
	}

	m.log.WithField("version", version).Info("Migrations complete")

	return nil
}

// Down rolls back the last migration.
func (m *Migrator) Down(ctx context.Context) error {
	m.log.Info("Rolling back last migration")

	err := m.run(ctx, func(mig *migrate.Migrate) error { return mig.Steps(-1) })
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rolling back migration: %w", err)
	}

	m.log.Info("Rollback complete")

	return nil
}

// Status returns the applied version. Version 0 means none applied.
func (m *Migrator) Status(ctx context.Context) (uint, bool, error) {
	var (
		version uint
		dirty   bool
	)

	err := m.run(ctx, func(mig *migrate.Migrate) error {
		var err error
		version, dirty, err = mig.Version()

		return err
	})
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, fmt.Errorf("getting migration version: %w", err)
	}

	return version, dirty, nil
}

// run opens a migrate instance, calls fn and closes it. Cancelling ctx
// asks migrate to stop after the current migration.
func (m *Migrator) run(ctx context.Context, fn func(*migrate.Migrate) error) error {
	source, err := iofs.New(migrations, "sql")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	mig, err := migrate.NewWithSourceInstance("iofs", source, withMultiStatement(m.dsn))
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	defer mig.Close()

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			mig.GracefulStop <- true
		case <-done:
		}
	}()

	return fn(mig)
}

// withMultiStatement enables multi-statement files, which ClickHouse
// needs for the materialized view migration.
func withMultiStatement(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}

	return dsn + sep + "x-multi-statement=true"
}

// Latest returns the highest version among the embedded migrations.
func Latest() (uint, error) {
	entries, err := fs.ReadDir(migrations, "sql")
	if err != nil {
		return 0, fmt.Errorf("reading embedded migrations: %w", err)
	}

	var latest uint

	for _, e := range entries {
		prefix, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			continue
		}

		v, err := strconv.ParseUint(prefix, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("parsing version of %s: %w", e.Name(), err)
		}

		if uint(v) > latest {
			latest = uint(v)
		}
	}

	return latest, nil
}
