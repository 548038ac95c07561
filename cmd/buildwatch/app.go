package main

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/buildwatch/internal/api/ws"
	"github.com/gosuda/buildwatch/internal/config"
	"github.com/gosuda/buildwatch/internal/domain"
	"github.com/gosuda/buildwatch/internal/messenger/slack"
	"github.com/gosuda/buildwatch/internal/notify"
	"github.com/gosuda/buildwatch/internal/server"
	"github.com/gosuda/buildwatch/internal/session"
	"github.com/gosuda/buildwatch/internal/store/memory"
	"github.com/gosuda/buildwatch/internal/store/postgres"
	redisstore "github.com/gosuda/buildwatch/internal/store/redis"
)

const shutdownTimeout = 10 * time.Second

// broker is the pub/sub the manager publishes to and the WebSocket hub
// subscribes to.
type broker interface {
	session.Publisher
	ws.Subscriber
	Close() error
}

// app holds the infrastructure shared by the watch commands.
type app struct {
	broker  broker
	store   *postgres.Store // nil without a database
	manager *session.Manager
	server  *server.Server // nil when serving is disabled
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	if cfg.Redis.Addr != "" {
		pubsub, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		a.broker = pubsub
	} else {
		a.broker = memory.New()
	}

	var journal domain.JournalRepository
	if cfg.Database.DSN != "" {
		if cfg.Database.MaxConns > math.MaxInt32 {
			a.close()
			return nil, fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
		}
		store, err := postgres.New(ctx, cfg.Database.DSN, int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
		if err != nil {
			a.close()
			return nil, err
		}
		a.store = store
		if err := store.EnsureSchema(ctx); err != nil {
			a.close()
			return nil, err
		}
		journal = store.Journal()
	}

	var notifier session.Notifier
	if cfg.Slack.BotToken != "" {
		messengers := notify.NewRegistry(slack.New(cfg.Slack.BotToken))
		notifier = notify.New(messengers, slack.Platform, cfg.Slack.Channel)
	}

	a.manager = session.NewManager(session.Config{
		HandshakeTimeout: cfg.Session.HandshakeTimeout,
		StripANSI:        cfg.Session.StripANSI,
		MaxLineBytes:     cfg.Session.MaxLineBytes,
		SubscriberBuffer: cfg.Session.SubscriberBuffer,
	}, a.broker, journal, notifier)

	if cfg.Server.Addr != "" {
		a.server = server.New(ctx, cfg, a.manager, a.broker, journal)
	}

	log.Debug().
		Bool("redis", cfg.Redis.Addr != "").
		Bool("journal", journal != nil).
		Bool("slack", notifier != nil).
		Str("addr", cfg.Server.Addr).
		Msg("buildwatch: infrastructure ready")

	return a, nil
}

// serve starts the HTTP server in the background, if one is configured.
func (a *app) serve() {
	if a.server == nil {
		return
	}
	go func() {
		log.Info().Str("addr", a.server.Addr()).Msg("starting server")
		if err := a.server.Start(context.Background()); err != nil {
			log.Error().Err(err).Msg("server error")
		}
	}()
}

func (a *app) close() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.server.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("server shutdown")
		}
		cancel()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			log.Warn().Err(err).Msg("pubsub close")
		}
	}
}
