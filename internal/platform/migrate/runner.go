// Package migrate applies the embedded SQL schema with golang-migrate.
package migrate

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	// registers the pgx5:// database scheme.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Runner drives schema migrations from an fs.FS holding NNNN_name.{up,down}.sql files.
type Runner struct {
	source fs.FS
	dsn    string
	logger *slog.Logger
}

// NewRunner constructs a Runner.
func NewRunner(source fs.FS, dsn string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{source: source, dsn: toPgx5DSN(dsn), logger: logger}
}

// Up applies all pending migrations. An up-to-date schema is not an error.
func (r *Runner) Up() error {
	return r.run(func(m *migrate.Migrate) error { return m.Up() })
}

// Down rolls back the given number of migrations.
func (r *Runner) Down(steps int) error {
	if steps <= 0 {
		return fmt.Errorf("migrate: steps must be positive")
	}
	return r.run(func(m *migrate.Migrate) error { return m.Steps(-steps) })
}

// Version reports the current schema version and whether it is dirty.
func (r *Runner) Version() (uint, bool, error) {
	m, err := r.open()
	if err != nil {
		return 0, false, err
	}
	defer r.close(m)
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (r *Runner) run(step func(*migrate.Migrate) error) error {
	m, err := r.open()
	if err != nil {
		return err
	}
	defer r.close(m)

	current, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("migrate: read version: %w", err)
	}
	if dirty {
		return fmt.Errorf("migrate: database is dirty at version %d", current)
	}

	if err := step(m); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			r.logger.Info("schema up to date", slog.Uint64("version", uint64(current)))
			return nil
		}
		return fmt.Errorf("migrate: %w", err)
	}

	next, _, _ := m.Version()
	r.logger.Info("schema migrated", slog.Uint64("from", uint64(current)), slog.Uint64("to", uint64(next)))
	return nil
}

func (r *Runner) open() (*migrate.Migrate, error) {
	src, err := iofs.New(r.source, ".")
	if err != nil {
		return nil, fmt.Errorf("migrate: open source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, r.dsn)
	if err != nil {
		return nil, fmt.Errorf("migrate: init: %w", err)
	}
	m.Log = &slogAdapter{logger: r.logger}
	return m, nil
}

func (r *Runner) close(m *migrate.Migrate) {
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		r.logger.Warn("migrate source close", slog.Any("error", srcErr))
	}
	if dbErr != nil {
		r.logger.Warn("migrate database close", slog.Any("error", dbErr))
	}
}

// toPgx5DSN rewrites postgres:// URLs to the scheme the pgx/v5 driver registers.
func toPgx5DSN(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

type slogAdapter struct {
	logger *slog.Logger
}

func (l *slogAdapter) Printf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *slogAdapter) Verbose() bool { return false }
