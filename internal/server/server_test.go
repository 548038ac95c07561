package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/buildwatch/internal/auth"
	"github.com/gosuda/buildwatch/internal/config"
	"github.com/gosuda/buildwatch/internal/server"
	"github.com/gosuda/buildwatch/internal/session"
	"github.com/gosuda/buildwatch/internal/store/memory"
)

const testSecret = "server-test-secret-at-least-32-chars"

type fakeHandle struct {
	stdout string
}

func (h *fakeHandle) Stdout() io.Reader { return strings.NewReader(h.stdout) }
func (h *fakeHandle) Stderr() io.Reader { return strings.NewReader("") }
func (h *fakeHandle) IPC() io.Reader    { return nil }

func (h *fakeHandle) Wait(context.Context) (int, error) { return 0, nil }

func newTestServer(t *testing.T, secret string) (*server.Server, *session.Manager) {
	t.Helper()

	cfg := config.Default()
	cfg.Auth.JWTSecret = secret

	pubsub := memory.New()
	t.Cleanup(func() { _ = pubsub.Close() })

	manager := session.NewManager(session.Config{}, pubsub, nil, nil)
	return server.New(t.Context(), cfg, manager, pubsub, nil), manager
}

func token(t *testing.T, role string) string {
	t.Helper()
	tok, err := auth.IssueToken(testSecret, "ci", role, time.Hour)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, srv *server.Server, method, path, tok string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// Routing and access control
// ---------------------------------------------------------------------------

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, testSecret)
	rec := do(t, srv, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_AccessControl(t *testing.T) {
	t.Parallel()

	missing := "/api/v1/sessions/" + uuid.NewString()

	tests := []struct {
		name   string
		method string
		path   string
		role   string // "" = no token
		want   int
	}{
		{name: "list without token", method: http.MethodGet, path: "/api/v1/sessions", want: http.StatusUnauthorized},
		{name: "list as viewer", method: http.MethodGet, path: "/api/v1/sessions", role: auth.RoleViewer, want: http.StatusOK},
		{name: "get unknown as viewer", method: http.MethodGet, path: missing, role: auth.RoleViewer, want: http.StatusNotFound},
		{name: "delete as viewer", method: http.MethodDelete, path: missing, role: auth.RoleViewer, want: http.StatusForbidden},
		{name: "delete without token", method: http.MethodDelete, path: missing, want: http.StatusUnauthorized},
		{name: "delete unknown as admin", method: http.MethodDelete, path: missing, role: auth.RoleAdmin, want: http.StatusNotFound},
		{name: "websocket without token", method: http.MethodGet, path: "/ws/sessions/" + uuid.NewString(), want: http.StatusUnauthorized},
		{name: "websocket bad id", method: http.MethodGet, path: "/ws/sessions/not-a-uuid", role: auth.RoleViewer, want: http.StatusBadRequest},
		{name: "openapi document", method: http.MethodGet, path: "/api/v1/openapi.json", role: auth.RoleViewer, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv, _ := newTestServer(t, testSecret)

			var tok string
			if tt.role != "" {
				tok = token(t, tt.role)
			}
			rec := do(t, srv, tt.method, tt.path, tok)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestServer_AuthDisabled(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, "")

	rec := do(t, srv, http.MethodGet, "/api/v1/sessions", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodDelete, "/api/v1/sessions/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "anonymous callers reach admin routes")
}

// ---------------------------------------------------------------------------
// End to end
// ---------------------------------------------------------------------------

func TestServer_ServesFinishedSession(t *testing.T) {
	t.Parallel()

	srv, manager := newTestServer(t, testSecret)

	s, err := manager.Start(t.Context(), &fakeHandle{stdout: "info hello from the build\n"}, "npm run build")
	require.NoError(t, err)
	manager.Wait()

	rec := do(t, srv, http.MethodGet, "/api/v1/sessions/"+s.ID().String()+"/snapshot", token(t, auth.RoleViewer))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Seq      uint64 `json:"seq"`
		Snapshot struct {
			Messages []struct {
				Text string `json:"text"`
			} `json:"messages"`
		} `json:"snapshot"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Snapshot.Messages, 1)
	assert.Equal(t, "info hello from the build", body.Snapshot.Messages[0].Text)
	assert.Equal(t, uint64(1), body.Seq)

	rec = do(t, srv, http.MethodDelete, "/api/v1/sessions/"+s.ID().String(), token(t, auth.RoleAdmin))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, manager.List())
}
