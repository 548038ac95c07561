package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/buildwatch/internal/auth"
)

// AnonymousSubject is the subject of every request when auth is disabled.
const AnonymousSubject = "anonymous"

// tokenQueryParam carries the token for clients that cannot set headers,
// such as browser WebSockets.
const tokenQueryParam = "access_token"

// Auth requires a valid bearer token signed with jwtSecret. With an empty
// secret auth is disabled and every request acts as an anonymous admin.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if jwtSecret == "" {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctx := withIdentity(r.Context(), AnonymousSubject, auth.RoleAdmin)
				next.ServeHTTP(w, r.WithContext(ctx))
			})
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := extractBearer(r)
			if tok == "" {
				tok = r.URL.Query().Get(tokenQueryParam)
			}

			if tok != "" {
				claims, err := auth.ValidateToken(jwtSecret, tok)
				if err == nil {
					next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), claims.Subject, claims.Role)))
					return
				}
				log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("auth: token rejected")
			}

			http.Error(w, `{"title":"Unauthorized","status":401,"detail":"missing or invalid credentials"}`, http.StatusUnauthorized)
		})
	}
}

func withIdentity(ctx context.Context, subject, role string) context.Context {
	ctx = context.WithValue(ctx, ContextKeySubject, subject)
	ctx = context.WithValue(ctx, ContextKeyUserRole, role)
	return ctx
}

func extractBearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return auth[7:]
	}
	return ""
}
