// Package settings stores the app preferences record in an embedded
// sqlite database. The record is read and written whole; there are no
// partial updates.
package settings

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Settings is the whole preferences record.
type Settings struct {
	DarkMode bool
	// LastTokenRefresh is epoch milliseconds, zero when never refreshed.
	LastTokenRefresh int64
}

type Store struct {
	db *sql.DB
}

// Open opens (and if necessary creates) the settings database at path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: couldn't create settings dir", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: couldn't open settings db", err)
	}

	if err := migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func migrate(ctx context.Context, db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS settings (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	dark_mode INTEGER NOT NULL DEFAULT 0,
	last_token_refresh INTEGER NOT NULL DEFAULT 0
);
INSERT OR IGNORE INTO settings (id, dark_mode, last_token_refresh) VALUES (1, 0, 0);`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: couldn't migrate settings db", err)
	}
	return nil
}

// Get returns the whole settings record.
func (s *Store) Get(ctx context.Context) (Settings, error) {
	var (
		darkMode int
		refresh  int64
	)
	row := s.db.QueryRowContext(ctx, `SELECT dark_mode, last_token_refresh FROM settings WHERE id = 1`)
	if err := row.Scan(&darkMode, &refresh); err != nil {
		return Settings{}, fmt.Errorf("%w: couldn't read settings", err)
	}
	return Settings{
		DarkMode:         darkMode != 0,
		LastTokenRefresh: refresh,
	}, nil
}

// Save replaces the whole settings record.
func (s *Store) Save(ctx context.Context, settings Settings) error {
	darkMode := 0
	if settings.DarkMode {
		darkMode = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE settings SET dark_mode = ?, last_token_refresh = ? WHERE id = 1`,
		darkMode, settings.LastTokenRefresh,
	)
	if err != nil {
		return fmt.Errorf("%w: couldn't save settings", err)
	}
	return nil
}

// LastTokenRefresh implements api.RefreshRecorder.
func (s *Store) LastTokenRefresh(ctx context.Context) (time.Time, error) {
	settings, err := s.Get(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if settings.LastTokenRefresh == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(settings.LastTokenRefresh), nil
}

// RecordTokenRefresh implements api.RefreshRecorder.
func (s *Store) RecordTokenRefresh(ctx context.Context, at time.Time) error {
	settings, err := s.Get(ctx)
	if err != nil {
		return err
	}
	settings.LastTokenRefresh = at.UnixMilli()
	return s.Save(ctx, settings)
}
