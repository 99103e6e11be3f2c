package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ferrost/warden/internal/crash"
)

// PostgreSQLStore implements Store on PostgreSQL via the pgx stdlib driver.
type PostgreSQLStore struct {
	db *sql.DB
}

const postgresSchema = `CREATE TABLE IF NOT EXISTS crash_events(
	id BIGSERIAL PRIMARY KEY,
	server TEXT NOT NULL,
	kind TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL,
	auto_restart_attempted BOOLEAN NOT NULL,
	auto_restart_succeeded BOOLEAN NOT NULL DEFAULT FALSE,
	restart_attempt_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_crash_events_server ON crash_events(server);`

// NewPostgreSQLStore connects to the configured PostgreSQL database and
// ensures the crash_events schema exists.
func NewPostgreSQLStore(config Config) (*PostgreSQLStore, error) {
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port == 0 {
		config.Port = 5432
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.Username, config.Password, config.Database, config.SSLMode)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgresql database: %w", err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(25)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if config.ConnMaxAge > 0 {
		db.SetConnMaxLifetime(config.ConnMaxAge)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &PostgreSQLStore{db: db}
	if err := s.Ping(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgresql database: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create crash_events schema: %w", err)
	}
	return s, nil
}

func (s *PostgreSQLStore) Close() error { return s.db.Close() }

func (s *PostgreSQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *PostgreSQLStore) RecordCrash(ctx context.Context, e *crash.Event) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO crash_events(server, kind, detail, occurred_at, auto_restart_attempted, auto_restart_succeeded)
		VALUES($1,$2,$3,$4,$5,$6) RETURNING id;`,
		e.Server, string(e.Kind), e.Detail, e.OccurredAt.UTC(), e.AutoRestartAttempted, e.AutoRestartSucceeded).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert crash event: %w", err)
	}
	return nil
}

func (s *PostgreSQLStore) MarkRestartOutcome(ctx context.Context, id int64, attemptAt time.Time, succeeded bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE crash_events SET auto_restart_succeeded = $1, restart_attempt_at = $2
		WHERE id = $3;`, succeeded, attemptAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark restart outcome: %w", err)
	}
	return nil
}

func (s *PostgreSQLStore) ListCrashes(ctx context.Context, server string, limit int) ([]crash.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if server == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, server, kind, detail, occurred_at, auto_restart_attempted, auto_restart_succeeded, restart_attempt_at
			FROM crash_events ORDER BY occurred_at DESC, id DESC LIMIT $1;`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, server, kind, detail, occurred_at, auto_restart_attempted, auto_restart_succeeded, restart_attempt_at
			FROM crash_events WHERE server = $1 ORDER BY occurred_at DESC, id DESC LIMIT $2;`, server, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query crash events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanCrashRows(rows)
}

func (s *PostgreSQLStore) ClearCrashes(ctx context.Context, server string) error {
	var err error
	if server == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM crash_events;`)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM crash_events WHERE server = $1;`, server)
	}
	if err != nil {
		return fmt.Errorf("clear crash events: %w", err)
	}
	return nil
}
