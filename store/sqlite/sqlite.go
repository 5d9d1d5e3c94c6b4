// Package sqlite provides a persistent store.Store backed by SQLite.
// Useful when cached entries should survive process restarts without an
// external service.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"

	st "github.com/unkn0wn-root/swrcache/store"
)

type Store struct {
	db *sql.DB
	// SQLite allows one writer at a time; serialize writes instead of
	// bouncing on SQLITE_BUSY.
	writeMu sync.Mutex
}

var _ st.Store = (*Store)(nil)

// Open opens (and if needed initializes) a cache database at path.
// Use ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS cache (key TEXT PRIMARY KEY, expires INTEGER, value BLOB)",
		"CREATE INDEX IF NOT EXISTS expires_idx ON cache (expires)",
		"PRAGMA journal_mode=WAL",
	}
	for _, q := range stmts {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var expires int64
	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT expires, value FROM cache WHERE key = ?", key).Scan(&expires, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if expires > 0 && time.Now().UnixMilli() >= expires {
		// lazy purge; best-effort
		_ = s.Drop(ctx, key)
		return nil, false, nil
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var expires int64
	if ttl > 0 {
		expires = time.Now().Add(ttl).UnixMilli()
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO cache (key, expires, value) VALUES (?, ?, ?)", key, expires, value)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Drop(ctx context.Context, key string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM cache WHERE key = ?", key)
	return err
}

func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

// Vacuum deletes all physically expired rows. Call it on whatever cadence
// suits the deployment; reads never return expired rows either way.
func (s *Store) Vacuum(ctx context.Context) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM cache WHERE expires > 0 AND expires <= ?", time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
