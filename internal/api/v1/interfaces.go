package v1

import (
	"github.com/google/uuid"

	"github.com/gosuda/buildwatch/internal/session"
)

// SessionRegistry abstracts the live session registry for handler testing.
// *session.Manager satisfies this interface.
type SessionRegistry interface {
	Get(id uuid.UUID) (*session.Session, error)
	List() []session.Info
	Remove(id uuid.UUID) error
}
