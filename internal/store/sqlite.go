package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ferrost/warden/internal/crash"
)

// SQLiteStore implements Store on SQLite (modernc.org/sqlite, cgo-free).
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `CREATE TABLE IF NOT EXISTS crash_events(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	server TEXT NOT NULL,
	kind TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMP NOT NULL,
	auto_restart_attempted BOOLEAN NOT NULL,
	auto_restart_succeeded BOOLEAN NOT NULL DEFAULT 0,
	restart_attempt_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_crash_events_server ON crash_events(server);`

// NewSQLiteStore opens (or creates) the crash-event database at
// config.Path; an empty path means in-memory.
func NewSQLiteStore(config Config) (*SQLiteStore, error) {
	path := config.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(1) // SQLite works best with a single connection
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxAge > 0 {
		db.SetConnMaxLifetime(config.ConnMaxAge)
	}

	s := &SQLiteStore{db: db}
	if err := s.Ping(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create crash_events schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) RecordCrash(ctx context.Context, e *crash.Event) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO crash_events(server, kind, detail, occurred_at, auto_restart_attempted, auto_restart_succeeded)
		VALUES(?, ?, ?, ?, ?, ?);`,
		e.Server, string(e.Kind), e.Detail, e.OccurredAt.UTC(), e.AutoRestartAttempted, e.AutoRestartSucceeded)
	if err != nil {
		return fmt.Errorf("insert crash event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

func (s *SQLiteStore) MarkRestartOutcome(ctx context.Context, id int64, attemptAt time.Time, succeeded bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE crash_events SET auto_restart_succeeded = ?, restart_attempt_at = ?
		WHERE id = ?;`, succeeded, attemptAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark restart outcome: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListCrashes(ctx context.Context, server string, limit int) ([]crash.Event, error) {
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
			FROM crash_events ORDER BY occurred_at DESC, id DESC LIMIT ?;`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, server, kind, detail, occurred_at, auto_restart_attempted, auto_restart_succeeded, restart_attempt_at
			FROM crash_events WHERE server = ? ORDER BY occurred_at DESC, id DESC LIMIT ?;`, server, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query crash events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanCrashRows(rows)
}

func (s *SQLiteStore) ClearCrashes(ctx context.Context, server string) error {
	var err error
	if server == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM crash_events;`)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM crash_events WHERE server = ?;`, server)
	}
	if err != nil {
		return fmt.Errorf("clear crash events: %w", err)
	}
	return nil
}

func scanCrashRows(rows *sql.Rows) ([]crash.Event, error) {
	var out []crash.Event
	for rows.Next() {
		var e crash.Event
		var kind string
		var attemptAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.Server, &kind, &e.Detail, &e.OccurredAt, &e.AutoRestartAttempted, &e.AutoRestartSucceeded, &attemptAt); err != nil {
			return nil, err
		}
		e.Kind = crash.Kind(kind)
		if attemptAt.Valid {
			e.RestartAttemptAt = attemptAt.Time
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
