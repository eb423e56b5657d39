package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists committed bookmarks across runs.
type Store interface {
	Load(ctx context.Context) (map[string]any, error)
	Save(ctx context.Context, stream string, bookmark any) error
	Close()
}

// PostgresStore keeps one row per stream in a bookmarks table. Writes are
// upserts, so concurrent runs against the same database last-write-win per
// stream.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

const createBookmarksTable = `
	CREATE TABLE IF NOT EXISTS bookmarks (
		stream VARCHAR(255) PRIMARY KEY,
		bookmark JSONB NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)
`

// NewPostgresStore connects to dsn and ensures the bookmarks table exists.
func NewPostgresStore(ctx context.Context, dsn string, log *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to state store: %w", err)
	}
	if _, err := pool.Exec(ctx, createBookmarksTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize state store: %w", err)
	}
	return &PostgresStore{pool: pool, log: log}, nil
}

func (s *PostgresStore) Load(ctx context.Context) (map[string]any, error) {
	rows, err := s.pool.Query(ctx, `SELECT stream, bookmark FROM bookmarks`)
	if err != nil {
		return nil, fmt.Errorf("load bookmarks query failed: %w", err)
	}
	defer rows.Close()

	bookmarks := make(map[string]any)
	for rows.Next() {
		var stream string
		var raw []byte
		if err := rows.Scan(&stream, &raw); err != nil {
			return nil, fmt.Errorf("scan bookmark row: %w", err)
		}
		var bookmark any
		if err := json.Unmarshal(raw, &bookmark); err != nil {
			return nil, fmt.Errorf("decode bookmark for %s: %w", stream, err)
		}
		bookmarks[stream] = bookmark
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load bookmarks: %w", err)
	}
	return bookmarks, nil
}

func (s *PostgresStore) Save(ctx context.Context, stream string, bookmark any) error {
	raw, err := json.Marshal(bookmark)
	if err != nil {
		return fmt.Errorf("encode bookmark for %s: %w", stream, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO bookmarks (stream, bookmark, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (stream)
		DO UPDATE SET bookmark = EXCLUDED.bookmark, updated_at = NOW()
	`, stream, raw)
	if err != nil {
		return fmt.Errorf("save bookmark for %s: %w", stream, err)
	}
	s.log.Debug("bookmark persisted", "stream", stream)
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
