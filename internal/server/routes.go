package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/buildwatch/internal/api/v1"
	"github.com/gosuda/buildwatch/internal/api/ws"
	"github.com/gosuda/buildwatch/internal/domain"
)

func registerAPIRoutes(api huma.API, sessions v1.SessionRegistry, journal domain.JournalRepository) {
	v1.RegisterSessionRoutes(api, sessions, journal)
}

func registerAdminRoutes(api huma.API, sessions v1.SessionRegistry) {
	v1.RegisterAdminRoutes(api, sessions)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/sessions/{sessionID}", hub.ServeSession)
}
