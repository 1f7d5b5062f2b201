// Package audit records every dataset fetch in PostgreSQL: which fields were
// requested, which the schema fallback dropped, and how the fetch ended.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/adinsights/internal/pkg/logger"
	"github.com/ignite/adinsights/internal/windsor"
)

const schema = `
CREATE TABLE IF NOT EXISTS windsor_fetch_log (
	id            UUID PRIMARY KEY,
	platform      TEXT NOT NULL,
	dataset       TEXT NOT NULL,
	date_from     DATE NOT NULL,
	date_to       DATE NOT NULL,
	account_name  TEXT NOT NULL DEFAULT '',
	aggregation   TEXT NOT NULL DEFAULT '',
	requested     TEXT[] NOT NULL,
	dropped       TEXT[] NOT NULL DEFAULT '{}',
	snake_case    BOOLEAN NOT NULL DEFAULT FALSE,
	chunks        INTEGER NOT NULL,
	row_count     INTEGER NOT NULL,
	duration_ms   BIGINT NOT NULL,
	error         TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_windsor_fetch_log_created ON windsor_fetch_log (created_at DESC);
`

// Entry is one stored fetch record.
type Entry struct {
	ID          string    `json:"id"`
	Platform    string    `json:"platform"`
	Dataset     string    `json:"dataset"`
	DateFrom    string    `json:"date_from"`
	DateTo      string    `json:"date_to"`
	Account     string    `json:"account,omitempty"`
	Aggregation string    `json:"aggregation,omitempty"`
	Requested   []string  `json:"requested"`
	Dropped     []string  `json:"dropped"`
	SnakeCase   bool      `json:"snake_case"`
	Chunks      int       `json:"chunks"`
	Rows        int       `json:"rows"`
	DurationMs  int64     `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// FetchLog implements windsor.Observer by persisting FetchDone events.
type FetchLog struct {
	windsor.NopObserver
	db      *sql.DB
	timeout time.Duration
}

// NewFetchLog creates a Postgres-backed fetch log.
func NewFetchLog(db *sql.DB) *FetchLog {
	return &FetchLog{db: db, timeout: 5 * time.Second}
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the log table if needed.
func (l *FetchLog) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create fetch log schema: %w", err)
	}
	return nil
}

// Record stores one fetch summary.
func (l *FetchLog) Record(ctx context.Context, s windsor.FetchSummary) error {
	var errText sql.NullString
	if s.Err != nil {
		errText = sql.NullString{String: s.Err.Error(), Valid: true}
	}
	dropped := s.Dropped
	if dropped == nil {
		dropped = []string{}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO windsor_fetch_log
			(id, platform, dataset, date_from, date_to, account_name, aggregation,
			 requested, dropped, snake_case, chunks, row_count, duration_ms, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, s.ID, s.Platform, s.Dataset, s.DateFrom, s.DateTo, s.Account, string(s.Aggregation),
		pq.Array(s.Requested), pq.Array(dropped), s.SnakeCase, s.Chunks, s.Rows,
		s.Duration.Milliseconds(), errText)
	if err != nil {
		return fmt.Errorf("insert fetch log: %w", err)
	}
	return nil
}

// FetchDone persists the summary. Failures are logged, never propagated:
// the audit trail must not fail a report.
func (l *FetchLog) FetchDone(s windsor.FetchSummary) {
	// An invalid range never reached upstream and has no valid DATE values.
	if errors.Is(s.Err, windsor.ErrInvalidRange) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	if err := l.Record(ctx, s); err != nil {
		logger.Warn("audit: failed to record fetch", "fetch_id", s.ID, "error", err)
	}
}

// Recent returns a page of the newest entries, optionally filtered by
// platform.
func (l *FetchLog) Recent(ctx context.Context, platform string, limit, offset int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, platform, dataset, to_char(date_from, 'YYYY-MM-DD'), to_char(date_to, 'YYYY-MM-DD'),
		       account_name, aggregation, requested, dropped, snake_case,
		       chunks, row_count, duration_ms, COALESCE(error, ''), created_at
		FROM windsor_fetch_log`
	args := []interface{}{}
	idx := 1
	if platform != "" {
		q += fmt.Sprintf(" WHERE platform = $%d", idx)
		args = append(args, platform)
		idx++
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, offset)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query fetch log: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID, &e.Platform, &e.Dataset, &e.DateFrom, &e.DateTo,
			&e.Account, &e.Aggregation, pq.Array(&e.Requested), pq.Array(&e.Dropped), &e.SnakeCase,
			&e.Chunks, &e.Rows, &e.DurationMs, &e.Error, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan fetch log: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fetch log: %w", err)
	}
	return entries, nil
}

// Count returns the number of entries, optionally filtered by platform.
func (l *FetchLog) Count(ctx context.Context, platform string) (int64, error) {
	q := `SELECT COUNT(*) FROM windsor_fetch_log`
	args := []interface{}{}
	if platform != "" {
		q += ` WHERE platform = $1`
		args = append(args, platform)
	}
	var n int64
	if err := l.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count fetch log: %w", err)
	}
	return n, nil
}

// Ping checks connectivity.
func (l *FetchLog) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}
