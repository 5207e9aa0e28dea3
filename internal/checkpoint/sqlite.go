package checkpoint

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	closed  bool
	writeMu sync.Mutex
}

// NewSQLiteStore creates a new SQLite checkpoint store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=2000&_foreign_keys=on&_busy_timeout=60000", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS sent_messages (
		key TEXT PRIMARY KEY,
		message_name TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS channel_progress (
		channel TEXT PRIMARY KEY,
		last_timestamp REAL NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sent_messages_created_at ON sent_messages(created_at);
	`

	_, err := s.db.Exec(query)
	return err
}

// MarkSent records an idempotency key with the destination message it produced.
func (s *SQLiteStore) MarkSent(key, messageName string) error {
	if s.closed {
		return fmt.Errorf("checkpoint store is closed")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		query := `
		INSERT INTO sent_messages (key, message_name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			message_name = excluded.message_name,
			created_at = excluded.created_at
		`
		_, err := s.db.Exec(query, key, messageName, time.Now().UTC())
		return err
	})
}

// ListSentKeys returns every persisted idempotency key.
func (s *SQLiteStore) ListSentKeys() ([]string, error) {
	if s.closed {
		return nil, fmt.Errorf("checkpoint store is closed")
	}

	rows, err := s.db.Query(`SELECT key FROM sent_messages ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// SaveProgress upserts the resume watermark for a channel.
func (s *SQLiteStore) SaveProgress(channel string, lastTimestamp float64) error {
	if s.closed {
		return fmt.Errorf("checkpoint store is closed")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		query := `
		INSERT INTO channel_progress (channel, last_timestamp, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(channel) DO UPDATE SET
			last_timestamp = excluded.last_timestamp,
			updated_at = excluded.updated_at
		`
		_, err := s.db.Exec(query, channel, lastTimestamp, time.Now().UTC())
		return err
	})
}

// GetProgress returns the watermark for a channel, or nil when none exists.
func (s *SQLiteStore) GetProgress(channel string) (*ChannelProgress, error) {
	if s.closed {
		return nil, fmt.Errorf("checkpoint store is closed")
	}

	row := s.db.QueryRow(
		`SELECT channel, last_timestamp, updated_at FROM channel_progress WHERE channel = ?`,
		channel,
	)

	var p ChannelProgress
	err := row.Scan(&p.Channel, &p.LastTimestamp, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProgress returns the watermarks for all channels.
func (s *SQLiteStore) ListProgress() ([]*ChannelProgress, error) {
	if s.closed {
		return nil, fmt.Errorf("checkpoint store is closed")
	}

	rows, err := s.db.Query(
		`SELECT channel, last_timestamp, updated_at FROM channel_progress ORDER BY channel ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*ChannelProgress
	for rows.Next() {
		var p ChannelProgress
		if err := rows.Scan(&p.Channel, &p.LastTimestamp, &p.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, &p)
	}
	return records, rows.Err()
}

// retryOnBusy retries the operation if SQLite is busy
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	maxRetries := 10
	baseDelay := 50 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		if isSQLiteBusyError(err) && attempt < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<uint(attempt))
			jitter := time.Duration(attempt*10) * time.Millisecond
			time.Sleep(delay + jitter)
			continue
		}

		return err
	}

	return nil
}

// isSQLiteBusyError checks if the error is a SQLite busy error
func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := err.Error()
	return strings.Contains(errorStr, "database is locked") ||
		strings.Contains(errorStr, "SQLITE_BUSY") ||
		strings.Contains(errorStr, "database is closed")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.closed = true
	return s.db.Close()
}
