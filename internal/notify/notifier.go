// Package notify posts a message to a chat channel when a build session
// starts and replaces it with a summary when the session ends.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/buildwatch/internal/domain"
	"github.com/gosuda/buildwatch/internal/messenger"
	"github.com/gosuda/buildwatch/internal/session"
)

// ErrPlatformNotFound is returned when a messenger platform is not registered.
var ErrPlatformNotFound = errors.New("notify: platform not found") //nolint:gochecknoglobals // sentinel error

// MessengerRegistry maps platform names to Messenger implementations.
type MessengerRegistry interface {
	Get(platform string) (messenger.Messenger, bool)
}

// Notifier implements session.Notifier on top of one messenger channel.
type Notifier struct {
	messengers MessengerRegistry
	platform   string
	channelID  string

	mu     sync.Mutex
	posted map[uuid.UUID]messenger.MessageID
}

// Compile-time interface check.
var _ session.Notifier = (*Notifier)(nil) //nolint:gochecknoglobals // compile-time check

// New creates a Notifier posting to channelID through the messenger
// registered for platform.
func New(messengers MessengerRegistry, platform, channelID string) *Notifier {
	return &Notifier{
		messengers: messengers,
		platform:   platform,
		channelID:  channelID,
		posted:     make(map[uuid.UUID]messenger.MessageID),
	}
}

func (n *Notifier) lookup() (messenger.Messenger, error) {
	msg, ok := n.messengers.Get(n.platform)
	if !ok {
		return nil, fmt.Errorf("platform %q: %w", n.platform, ErrPlatformNotFound)
	}
	return msg, nil
}

// SessionStarted posts the start message and remembers it for SessionEnded.
func (n *Notifier) SessionStarted(ctx context.Context, info session.Info) error {
	msg, err := n.lookup()
	if err != nil {
		return fmt.Errorf("notify.Notifier.SessionStarted: %w", err)
	}

	id, err := msg.SendMessage(ctx, n.channelID, StartText(info))
	if err != nil {
		return fmt.Errorf("notify.Notifier.SessionStarted: send: %w", err)
	}

	n.mu.Lock()
	n.posted[info.ID] = id
	n.mu.Unlock()
	return nil
}

// SessionEnded replaces the start message with the summary, or posts the
// summary if no start message exists. Error texts go to a thread under it.
func (n *Notifier) SessionEnded(ctx context.Context, info session.Info, snap domain.Snapshot) error {
	msg, err := n.lookup()
	if err != nil {
		return fmt.Errorf("notify.Notifier.SessionEnded: %w", err)
	}

	summary := Summarize(info, snap)

	n.mu.Lock()
	id, ok := n.posted[info.ID]
	delete(n.posted, info.ID)
	n.mu.Unlock()

	if ok {
		if err := msg.UpdateMessage(ctx, n.channelID, id, summary.Text()); err != nil {
			log.Warn().Err(err).Str("session_id", info.ID.String()).Msg("notify: update failed, posting instead")
			ok = false
		}
	}
	if !ok {
		id, err = msg.SendMessage(ctx, n.channelID, summary.Text())
		if err != nil {
			return fmt.Errorf("notify.Notifier.SessionEnded: send: %w", err)
		}
	}

	if details := summary.ErrorDetails(); details != "" {
		if _, err := msg.CreateThread(ctx, n.channelID, id, details); err != nil {
			return fmt.Errorf("notify.Notifier.SessionEnded: thread: %w", err)
		}
	}

	return nil
}
