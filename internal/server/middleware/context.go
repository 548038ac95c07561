package middleware

import (
	"context"
)

type contextKey string

const (
	ContextKeySubject  contextKey = "subject"
	ContextKeyUserRole contextKey = "role"
)

func SubjectFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeySubject).(string)
	return v, ok
}

func RoleFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyUserRole).(string)
	return v, ok
}
