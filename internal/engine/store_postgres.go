package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps verdicts in a shared Postgres table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgresStore creates a pgx pool and ensures the verdicts table exists.
func OpenPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS verdicts (
		video_id   TEXT PRIMARY KEY,
		final_text TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create verdicts table: %w", err)
	}

	slog.Info("verdict postgres connected", slog.String("addr", config.ConnConfig.Host))
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Get(ctx context.Context, videoID string) (string, bool, error) {
	var text string
	err := s.pool.QueryRow(ctx, `SELECT final_text FROM verdicts WHERE video_id = $1`, videoID).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("postgres store: get: %w", err)
	}
	return text, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, videoID, text string, mode PutMode) (bool, error) {
	q := `INSERT INTO verdicts (video_id, final_text) VALUES ($1, $2) ON CONFLICT (video_id) DO NOTHING`
	if mode == PutReplace {
		q = `INSERT INTO verdicts (video_id, final_text) VALUES ($1, $2)
			ON CONFLICT (video_id) DO UPDATE SET final_text = EXCLUDED.final_text, updated_at = now()`
	}
	tag, err := s.pool.Exec(ctx, q, videoID, text)
	if err != nil {
		return false, fmt.Errorf("postgres store: put: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
