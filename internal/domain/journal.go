package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JournalEntry records one applied action of a session, for audit. The
// journal is append-only and never replayed into a live snapshot.
type JournalEntry struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Seq       uint64
	Kind      Kind
	Payload   []byte // EncodeAction output
	CreatedAt time.Time
}

// JournalRepository stores and retrieves ordered journal entries per session.
type JournalRepository interface {
	Append(ctx context.Context, entry *JournalEntry) error
	ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*JournalEntry, error)
	CountBySession(ctx context.Context, sessionID uuid.UUID) (int64, error)
}
