// Package audit appends one row per sandbox lifecycle event (create,
// delete, execute) to Postgres, giving operators a durable trail
// independent of the in-memory registry, which only ever reflects live
// state. Grounded in the storage/postgres Store pattern: sqlx over
// lib/pq, migrations run through golang-migrate.
package audit

import (
	"context"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// EventType names a sandbox lifecycle event worth recording.
type EventType string

const (
	EventCreated EventType = "created"
	EventDeleted EventType = "deleted"
	EventExecute EventType = "execute"
)

// Config holds the Postgres connection parameters.
type Config struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// Trail appends sandbox lifecycle events to Postgres.
type Trail struct {
	db *sqlx.DB
}

// Open connects to Postgres and returns a Trail.
func Open(cfg Config) (*Trail, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	return &Trail{db: db}, nil
}

// RunMigrations applies every pending migration under migrationsPath.
func (t *Trail) RunMigrations(migrationsPath string) error {
	driver, err := postgres.WithInstance(t.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Record appends one lifecycle event. Failures are returned, not retried;
// callers log-and-continue rather than fail the request over an audit
// write (the registry, not this trail, is the source of truth for "does
// this sandbox exist").
func (t *Trail) Record(ctx context.Context, sandboxID string, event EventType, ip, detail string) error {
	query := `
		INSERT INTO sandbox_events (sandbox_id, event_type, ip, detail)
		VALUES ($1, $2, $3, $4)`

	_, err := t.db.ExecContext(ctx, query, sandboxID, event, ip, detail)
	if err != nil {
		return fmt.Errorf("failed to record %s event for sandbox %s: %w", event, sandboxID, err)
	}
	return nil
}

// ListForSandbox returns every recorded event for sandboxID, oldest first.
func (t *Trail) ListForSandbox(ctx context.Context, sandboxID string) ([]Event, error) {
	var events []Event
	query := `SELECT id, sandbox_id, event_type, ip, detail, created_at
		FROM sandbox_events WHERE sandbox_id = $1 ORDER BY created_at ASC`

	if err := t.db.SelectContext(ctx, &events, query, sandboxID); err != nil {
		return nil, fmt.Errorf("failed to list events for sandbox %s: %w", sandboxID, err)
	}
	return events, nil
}

// Close closes the underlying database connection.
func (t *Trail) Close() error {
	return t.db.Close()
}
