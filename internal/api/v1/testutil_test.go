package v1_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/buildwatch/internal/domain"
	"github.com/gosuda/buildwatch/internal/session"
)

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// runSession starts a session, feeds it the given structured lines and
// waits until wantSeq actions have been applied.
func runSession(t *testing.T, name string, lines []string, wantSeq uint64) *session.Session {
	t.Helper()

	s := session.New(session.WithName(name))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = s.Run(ctx) }()

	for _, line := range lines {
		require.NoError(t, s.Receive([]byte(line)))
	}
	require.Eventually(t, func() bool {
		_, seq := s.Store().Load()
		return seq >= wantSeq
	}, 2*time.Second, 5*time.Millisecond)

	return s
}

func logAction(actionType, payload string) string {
	return fmt.Sprintf(`{"type":"LOG_ACTION","action":{"type":%q,"payload":%s}}`, actionType, payload)
}

const handshake = `{"type":"VERSION","version":"4.0.0"}`

// ---------------------------------------------------------------------------
// Mock SessionRegistry
// ---------------------------------------------------------------------------

type mockRegistry struct {
	sessions   map[uuid.UUID]*session.Session
	removeFunc func(id uuid.UUID) error
}

func newRegistry(sessions ...*session.Session) *mockRegistry {
	r := &mockRegistry{sessions: make(map[uuid.UUID]*session.Session)}
	for _, s := range sessions {
		r.sessions[s.ID()] = s
	}
	return r
}

func (m *mockRegistry) Get(id uuid.UUID) (*session.Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("mock: %w", domain.ErrNotFound)
	}
	return s, nil
}

func (m *mockRegistry) List() []session.Info {
	infos := make([]session.Info, 0, len(m.sessions))
	for _, s := range slices.Collect(maps.Values(m.sessions)) {
		infos = append(infos, s.Info())
	}
	slices.SortFunc(infos, func(a, b session.Info) int { return a.StartedAt.Compare(b.StartedAt) })
	return infos
}

func (m *mockRegistry) Remove(id uuid.UUID) error {
	return m.removeFunc(id)
}

// ---------------------------------------------------------------------------
// Mock JournalRepository
// ---------------------------------------------------------------------------

type mockJournal struct {
	listFunc  func(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*domain.JournalEntry, error)
	countFunc func(ctx context.Context, sessionID uuid.UUID) (int64, error)
}

func (m *mockJournal) Append(context.Context, *domain.JournalEntry) error {
	return errors.New("not implemented")
}

func (m *mockJournal) ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*domain.JournalEntry, error) {
	return m.listFunc(ctx, sessionID, limit, offset)
}

func (m *mockJournal) CountBySession(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	return m.countFunc(ctx, sessionID)
}

// parseErrorBody decodes the RFC 9457 problem detail from the response body.
func parseErrorBody(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}
