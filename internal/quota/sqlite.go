package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS quota_counters (
	channel_id INTEGER NOT NULL,
	day        TEXT    NOT NULL,
	usage      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (channel_id, day)
);`

// SQLiteCounterStore keeps the daily counters in an SQLite database.
// The conditional UPDATE is the correctness anchor: one statement performs
// read, check and increment, so concurrent requests for the same
// (channel, day) serialize on the database's write lock rather than on a
// process-local mutex, and the service can run as multiple instances.
type SQLiteCounterStore struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed creates) the counter database with
// WAL journaling and a busy timeout. The pragmas ride the DSN so every
// pooled connection gets them, not just the first.
func OpenSQLite(path string) (*SQLiteCounterStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("quota: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("quota: create schema: %w", err)
	}
	return &SQLiteCounterStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteCounterStore) Close() error {
	return s.db.Close()
}

// IncrementIfBelow increments the (channel, day) counter only while it is
// below limit, returning the resulting usage and whether the increment was
// applied.
func (s *SQLiteCounterStore) IncrementIfBelow(ctx context.Context, channelID int, day string, limit int) (int, bool, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quota_counters (channel_id, day, usage) VALUES (?, ?, 0)
		 ON CONFLICT (channel_id, day) DO NOTHING`,
		channelID, day,
	)
	if err != nil {
		return 0, false, fmt.Errorf("quota: ensure counter: %w", err)
	}

	var usage int
	err = s.db.QueryRowContext(ctx,
		`UPDATE quota_counters SET usage = usage + 1
		 WHERE channel_id = ? AND day = ? AND usage < ?
		 RETURNING usage`,
		channelID, day, limit,
	).Scan(&usage)
	if errors.Is(err, sql.ErrNoRows) {
		// At or over the limit: report the current usage without incrementing.
		current, err := s.Usage(ctx, channelID, day)
		if err != nil {
			return 0, false, err
		}
		return current, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("quota: increment: %w", err)
	}
	return usage, true, nil
}

// Usage reads the current counter; a missing row is zero usage.
func (s *SQLiteCounterStore) Usage(ctx context.Context, channelID int, day string) (int, error) {
	var usage int
	err := s.db.QueryRowContext(ctx,
		`SELECT usage FROM quota_counters WHERE channel_id = ? AND day = ?`,
		channelID, day,
	).Scan(&usage)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota: read usage: %w", err)
	}
	return usage, nil
}

// Prune removes counters for days before beforeDay.
func (s *SQLiteCounterStore) Prune(ctx context.Context, beforeDay string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM quota_counters WHERE day < ?`, beforeDay)
	if err != nil {
		return 0, fmt.Errorf("quota: prune: %w", err)
	}
	return res.RowsAffected()
}
