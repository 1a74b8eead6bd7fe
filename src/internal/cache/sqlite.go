package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
)

const schema = `CREATE TABLE IF NOT EXISTS entries (
	key     TEXT PRIMARY KEY,
	size    INTEGER NOT NULL,
	data    BLOB NOT NULL,
	updated INTEGER NOT NULL
)`

// SQLite is the persistent Store. maxBytes bounds the total encoded size of
// all entries; zero means unbounded (the disk still is).
type SQLite struct {
	db       *sql.DB
	maxBytes int64
	mu       sync.Mutex
}

func Open(path string, maxBytes int64) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	dsn := "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}
	slog.Info("content cache opened", "path", path, "max_bytes", maxBytes)
	return &SQLite{db: db, maxBytes: maxBytes}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM entries WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}
	env, err := Decode(data)
	if err != nil {
		slog.Warn("corrupt cache entry", "key", key, "error", err)
		return nil, false, nil
	}
	return env.Payload, true, nil
}

func (s *SQLite) Put(ctx context.Context, key string, payload []byte) error {
	now := time.Now()
	data, err := Encode(payload, now)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxBytes > 0 {
		var used int64
		err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size), 0) FROM entries WHERE key != ?`, key).Scan(&used)
		if err != nil {
			return fmt.Errorf("measure cache: %w", err)
		}
		if used+int64(len(data)) > s.maxBytes {
			return ErrQuotaExceeded
		}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entries (key, size, data, updated) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET size = excluded.size, data = excluded.data, updated = excluded.updated`,
		key, len(data), data, now.UnixMilli())
	if err != nil {
		if isFull(err) {
			return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		}
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	st := Stats{MaxBytes: s.maxBytes}
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(size), 0) FROM entries`).Scan(&st.Entries, &st.Bytes)
	if err != nil {
		return st, fmt.Errorf("cache stats: %w", err)
	}
	return st, nil
}

// Clear removes every entry.
func (s *SQLite) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

func isFull(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrFull
}
