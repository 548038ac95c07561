// Package v1 serves read access to live build sessions over HTTP.
package v1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/buildwatch/internal/domain"
	"github.com/gosuda/buildwatch/internal/session"
)

type SessionIDInput struct {
	ID uuid.UUID `path:"id" doc:"Session ID"`
}

type ListSessionsOutput struct {
	Body []session.Info
}

type GetSessionOutput struct {
	Body session.Info
}

type SnapshotBody struct {
	Seq      uint64          `json:"seq" doc:"Sequence number of the last applied action"`
	Snapshot domain.Snapshot `json:"snapshot"`
}

type GetSnapshotOutput struct {
	Body SnapshotBody
}

type ListActivitiesInput struct {
	ID      uuid.UUID `path:"id" doc:"Session ID"`
	Visible bool      `query:"visible" default:"false" doc:"Only in-progress spinner and progress activities"`
}

type ListActivitiesOutput struct {
	Body []domain.Activity
}

type ListMessagesInput struct {
	ID       uuid.UUID `path:"id" doc:"Session ID"`
	Stateful bool      `query:"stateful" default:"false" doc:"Stateful entries instead of the transient log"`
	Group    string    `query:"group" maxLength:"200" doc:"Only stateful entries of this group (implies stateful)"`
}

type ListMessagesOutput struct {
	Body []domain.LogEntry
}

type ListJournalInput struct {
	ID     uuid.UUID `path:"id" doc:"Session ID"`
	Limit  int       `query:"limit" minimum:"1" maximum:"1000" default:"100" doc:"Max results"`
	Offset int       `query:"offset" minimum:"0" default:"0" doc:"Offset for pagination"`
}

// JournalEntry is one recorded action as served by the API.
type JournalEntry struct {
	Seq       uint64          `json:"seq"`
	Kind      domain.Kind     `json:"kind"`
	Action    json.RawMessage `json:"action"`
	CreatedAt time.Time       `json:"created_at"`
}

type JournalPage struct {
	Entries []JournalEntry `json:"entries"`
	Total   int64          `json:"total"`
}

type ListJournalOutput struct {
	Body JournalPage
}

// RegisterSessionRoutes registers the read-only session operations.
// journal may be nil, in which case the journal operation answers 503.
func RegisterSessionRoutes(api huma.API, sessions SessionRegistry, journal domain.JournalRepository) {
	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List build sessions",
		Tags:        []string{"Sessions"},
	}, func(_ context.Context, _ *struct{}) (*ListSessionsOutput, error) {
		return &ListSessionsOutput{Body: sessions.List()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}",
		Summary:     "Get a build session by ID",
		Tags:        []string{"Sessions"},
	}, func(_ context.Context, input *SessionIDInput) (*GetSessionOutput, error) {
		s, err := lookup(sessions, input.ID)
		if err != nil {
			return nil, err
		}
		return &GetSessionOutput{Body: s.Info()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session-snapshot",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/snapshot",
		Summary:     "Get the current snapshot of a build session",
		Tags:        []string{"Sessions"},
	}, func(_ context.Context, input *SessionIDInput) (*GetSnapshotOutput, error) {
		s, err := lookup(sessions, input.ID)
		if err != nil {
			return nil, err
		}
		snap, seq := s.Store().Load()
		return &GetSnapshotOutput{Body: SnapshotBody{Seq: seq, Snapshot: snap}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-session-activities",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/activities",
		Summary:     "List the activities of a build session",
		Tags:        []string{"Sessions"},
	}, func(_ context.Context, input *ListActivitiesInput) (*ListActivitiesOutput, error) {
		s, err := lookup(sessions, input.ID)
		if err != nil {
			return nil, err
		}

		snap := s.Store().Current()
		if input.Visible {
			return &ListActivitiesOutput{Body: snap.VisibleActivities()}, nil
		}
		return &ListActivitiesOutput{Body: snap.SortedActivities()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-session-messages",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/messages",
		Summary:     "List the log entries of a build session",
		Tags:        []string{"Sessions"},
	}, func(_ context.Context, input *ListMessagesInput) (*ListMessagesOutput, error) {
		s, err := lookup(sessions, input.ID)
		if err != nil {
			return nil, err
		}

		snap := s.Store().Current()
		switch {
		case input.Group != "":
			entries := snap.StatefulGroup(input.Group)
			if entries == nil {
				entries = []domain.LogEntry{}
			}
			return &ListMessagesOutput{Body: entries}, nil
		case input.Stateful:
			return &ListMessagesOutput{Body: snap.StatefulMessages}, nil
		default:
			return &ListMessagesOutput{Body: snap.Messages}, nil
		}
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-session-journal",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/journal",
		Summary:     "List the recorded actions of a build session",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *ListJournalInput) (*ListJournalOutput, error) {
		if journal == nil {
			return nil, huma.Error503ServiceUnavailable("journal is not configured")
		}

		entries, err := journal.ListBySession(ctx, input.ID, input.Limit, input.Offset)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list journal entries", err)
		}

		total, err := journal.CountBySession(ctx, input.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to count journal entries", err)
		}

		page := JournalPage{Entries: make([]JournalEntry, 0, len(entries)), Total: total}
		for _, e := range entries {
			page.Entries = append(page.Entries, JournalEntry{
				Seq:       e.Seq,
				Kind:      e.Kind,
				Action:    json.RawMessage(e.Payload),
				CreatedAt: e.CreatedAt,
			})
		}

		return &ListJournalOutput{Body: page}, nil
	})
}

// RegisterAdminRoutes registers the operations that change the registry.
func RegisterAdminRoutes(api huma.API, sessions SessionRegistry) {
	huma.Register(api, huma.Operation{
		OperationID:   "delete-session",
		Method:        http.MethodDelete,
		Path:          "/sessions/{id}",
		Summary:       "Forget an ended build session",
		Tags:          []string{"Sessions"},
		DefaultStatus: http.StatusNoContent,
	}, func(_ context.Context, input *SessionIDInput) (*struct{}, error) {
		err := sessions.Remove(input.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			if errors.Is(err, session.ErrAlreadyRunning) {
				return nil, huma.Error409Conflict("session is still running")
			}
			return nil, huma.Error500InternalServerError("failed to remove session", err)
		}
		return nil, nil
	})
}

func lookup(sessions SessionRegistry, id uuid.UUID) (*session.Session, error) {
	s, err := sessions.Get(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, huma.Error404NotFound("session not found")
		}
		return nil, huma.Error500InternalServerError("failed to get session", err)
	}
	return s, nil
}
