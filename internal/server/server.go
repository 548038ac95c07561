package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	v1 "github.com/gosuda/buildwatch/internal/api/v1"
	"github.com/gosuda/buildwatch/internal/api/ws"
	"github.com/gosuda/buildwatch/internal/config"
	"github.com/gosuda/buildwatch/internal/domain"
	"github.com/gosuda/buildwatch/internal/server/middleware"
)

const apiVersion = "1.0.0"

// Server is the HTTP server that wires all application routes and middleware.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	wsHub      *ws.Hub
}

// New creates a Server with all routes wired. journal may be nil when no
// database is configured. ctx bounds the rate limiters' background sweeps.
func New(ctx context.Context, cfg *config.Config, sessions v1.SessionRegistry, pubsub ws.Subscriber, journal domain.JournalRepository) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Logger)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}).Handler)
	router.Use(middleware.RateLimitByIP(ctx, cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst))

	hub := ws.NewHub(pubsub, sessions)

	s := &Server{
		router: router,
		wsHub:  hub,
		httpServer: &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           router,
			ReadHeaderTimeout: cfg.Server.ReadTimeout,
			WriteTimeout:      cfg.Server.WriteTimeout,
		},
	}

	// Mount API routes on /api/v1 with two sub-groups:
	// 1. Read-only routes open to every authenticated caller.
	// 2. Admin routes that change the session registry.
	router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.Auth.JWTSecret))
			r.Use(middleware.RateLimit(ctx, cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst))

			api := humachi.New(r, apiConfig("buildwatch API"))
			registerAPIRoutes(api, sessions, journal)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.Auth.JWTSecret))
			r.Use(middleware.RequireAdmin())

			adminConfig := apiConfig("buildwatch admin API")
			// The read API already serves the documentation routes.
			adminConfig.OpenAPIPath = ""
			adminConfig.DocsPath = ""
			api := humachi.New(r, adminConfig)
			registerAdminRoutes(api, sessions)
		})
	})

	// WebSocket routes.
	router.Route("/ws", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Auth.JWTSecret))
		registerWSRoutes(r, hub)
	})

	// Health check (unauthenticated).
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("server: authentication disabled, every caller is admin")
	}

	return s
}

func apiConfig(title string) huma.Config {
	c := huma.DefaultConfig(title, apiVersion)
	c.Servers = []*huma.Server{
		{URL: "/api/v1"},
	}
	return c
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
