package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps verdicts in a single-file SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("sqlite store: mkdir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite: single writer
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS verdicts (
		video_id   TEXT PRIMARY KEY,
		final_text TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, videoID string) (string, bool, error) {
	var text string
	err := s.db.QueryRowContext(ctx, `SELECT final_text FROM verdicts WHERE video_id = ?`, videoID).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite store: get: %w", err)
	}
	return text, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, videoID, text string, mode PutMode) (bool, error) {
	q := `INSERT INTO verdicts (video_id, final_text, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(video_id) DO NOTHING`
	if mode == PutReplace {
		q = `INSERT INTO verdicts (video_id, final_text, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(video_id) DO UPDATE SET final_text = excluded.final_text, updated_at = excluded.updated_at`
	}
	res, err := s.db.ExecContext(ctx, q, videoID, text, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("sqlite store: put: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite store: rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
