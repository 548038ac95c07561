// Package postgres keeps the append-only action journal.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/buildwatch/internal/domain"
)

// schema is applied by EnsureSchema. Statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS journal_entries (
	id         UUID PRIMARY KEY,
	session_id UUID        NOT NULL,
	seq        BIGINT      NOT NULL,
	kind       TEXT        NOT NULL,
	payload    JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (session_id, seq)
);
CREATE INDEX IF NOT EXISTS journal_entries_created_at_idx ON journal_entries (created_at);
`

type Store struct {
	pool    *pgxpool.Pool
	journal *JournalRepo
}

func New(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}

	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	return &Store{
		pool:    pool,
		journal: NewJournalRepo(pool),
	}, nil
}

// EnsureSchema creates the journal table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres.Store.EnsureSchema: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Journal() domain.JournalRepository { return s.journal }
