package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/buildwatch/internal/domain"
)

type JournalRepo struct {
	pool *pgxpool.Pool
}

func NewJournalRepo(pool *pgxpool.Pool) *JournalRepo {
	return &JournalRepo{pool: pool}
}

func (r *JournalRepo) Append(ctx context.Context, entry *domain.JournalEntry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO journal_entries (id, session_id, seq, kind, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.SessionID, int64(entry.Seq), string(entry.Kind), entry.Payload, entry.CreatedAt, //nolint:gosec // seq never exceeds int64
	)
	if err != nil {
		return fmt.Errorf("journalRepo.Append: %w", err)
	}

	return nil
}

func (r *JournalRepo) ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*domain.JournalEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, seq, kind, payload, created_at
		 FROM journal_entries WHERE session_id = $1
		 ORDER BY seq ASC
		 LIMIT $2 OFFSET $3`,
		sessionID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("journalRepo.ListBySession: %w", err)
	}
	defer rows.Close()

	var entries []*domain.JournalEntry
	for rows.Next() {
		var (
			e    domain.JournalEntry
			seq  int64
			kind string
		)

		err = rows.Scan(&e.ID, &e.SessionID, &seq, &kind, &e.Payload, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("journalRepo.ListBySession: scan: %w", err)
		}
		e.Seq = uint64(seq) //nolint:gosec // stored from a uint64
		e.Kind = domain.Kind(kind)
		entries = append(entries, &e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("journalRepo.ListBySession: rows: %w", err)
	}

	return entries, nil
}

func (r *JournalRepo) CountBySession(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	var count int64

	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM journal_entries WHERE session_id = $1`,
		sessionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("journalRepo.CountBySession: %w", err)
	}

	return count, nil
}
