// Package ws streams a session's applied actions to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gosuda/buildwatch/internal/domain"
	"github.com/gosuda/buildwatch/internal/session"
)

const writeTimeout = 10 * time.Second

// Subscriber abstracts the pub/sub subscribe operation.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// SessionSource looks up live sessions. *session.Manager satisfies it.
type SessionSource interface {
	Get(id uuid.UUID) (*session.Session, error)
}

// Hub manages WebSocket connections backed by pub/sub.
type Hub struct {
	pubsub   Subscriber
	sessions SessionSource
}

// NewHub creates a new WebSocket hub.
func NewHub(pubsub Subscriber, sessions SessionSource) *Hub {
	return &Hub{pubsub: pubsub, sessions: sessions}
}

// header is the part of a published envelope the hub inspects.
type header struct {
	Type domain.MessageType `json:"type"`
	Seq  uint64             `json:"seq"`
}

// ServeSession handles WebSocket connections for one session. The first
// frame is a SET_LOGS envelope holding the current snapshot; every later
// frame is an applied action with a greater seq. The connection closes
// after the END envelope.
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	s, err := h.sessions.Get(sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "session lookup failed", http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	// The client never sends; reading only handles control frames.
	ctx := conn.CloseRead(r.Context())
	logger := log.With().Str("session_id", sessionID.String()).Logger()

	// Subscribe before seeding so nothing applied in between is missed.
	messages, cleanup, err := h.pubsub.Subscribe(ctx, session.Channel(sessionID))
	if err != nil {
		logger.Error().Err(err).Msg("websocket subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cleanup()

	var ended bool
	select {
	case <-s.Done():
		ended = true
	default:
	}

	snap, seeded := s.Store().Load()
	if err := writeEnvelope(ctx, conn, domain.ActionEnvelope(domain.SetLogs{Snapshot: snap}, time.Now(), seeded)); err != nil {
		logger.Debug().Err(err).Msg("websocket write")
		return
	}

	// The END envelope may have been published before we subscribed; the
	// seeded snapshot is already final.
	if ended {
		if err := writeEnvelope(ctx, conn, domain.EndEnvelope(time.Now(), seeded)); err != nil {
			logger.Debug().Err(err).Msg("websocket write")
			return
		}
		_ = conn.Close(websocket.StatusNormalClosure, "session ended")
		return
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case msg, msgOK := <-messages:
			if !msgOK {
				_ = conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}

			var hdr header
			if err := json.Unmarshal(msg, &hdr); err != nil {
				logger.Warn().Err(err).Msg("websocket: undecodable envelope")
				continue
			}
			if hdr.Type == domain.MessageLogAction && hdr.Seq <= seeded {
				continue
			}

			if err := write(ctx, conn, msg); err != nil {
				logger.Debug().Err(err).Msg("websocket write")
				return
			}
			if hdr.Type == domain.MessageEnd {
				_ = conn.Close(websocket.StatusNormalClosure, "session ended")
				return
			}
		}
	}
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env domain.Envelope) error {
	payload, err := domain.EncodeEnvelope(env)
	if err != nil {
		return fmt.Errorf("ws.writeEnvelope: %w", err)
	}
	return write(ctx, conn, payload)
}

func write(ctx context.Context, conn *websocket.Conn, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("ws.write: %w", err)
	}
	return nil
}
