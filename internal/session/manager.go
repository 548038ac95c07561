package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/buildwatch/internal/clock"
	"github.com/gosuda/buildwatch/internal/domain"
	"github.com/gosuda/buildwatch/internal/snapshot"
	"github.com/gosuda/buildwatch/internal/transport"
)

// ErrInvalidHandle is returned when a handle lacks its raw channels.
var ErrInvalidHandle = errors.New("session: handle has no stdout or stderr") //nolint:gochecknoglobals // sentinel error

const (
	sinkTimeout = 5 * time.Second
	// relayBuffer is the minimum subscription buffer of the relay, which
	// waits on the network for every update.
	relayBuffer = 1024
)

// Publisher abstracts the pub/sub publish operation.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Notifier is told about sessions when they start and when they end.
type Notifier interface {
	SessionStarted(ctx context.Context, info Info) error
	SessionEnded(ctx context.Context, info Info, snap domain.Snapshot) error
}

// Config holds the per-session settings applied by a Manager.
type Config struct {
	HandshakeTimeout time.Duration
	StripANSI        bool
	MaxLineBytes     int
	SubscriberBuffer int
}

// Channel returns the pub/sub channel a session's actions are published on.
func Channel(id uuid.UUID) string {
	return "session:" + id.String()
}

// Manager runs sessions for launcher handles and relays their actions to
// the publisher, the journal and the notifier. Any of the three may be nil.
type Manager struct {
	cfg       Config
	clock     clock.Clock
	publisher Publisher
	journal   domain.JournalRepository
	notifier  Notifier

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session

	wg sync.WaitGroup
}

func NewManager(cfg Config, publisher Publisher, journal domain.JournalRepository, notifier Notifier) *Manager {
	return &Manager{
		cfg:       cfg,
		clock:     clock.Real(),
		publisher: publisher,
		journal:   journal,
		notifier:  notifier,
		sessions:  make(map[uuid.UUID]*Session),
	}
}

// Start creates a session for h and runs it until the child exits or ctx
// is cancelled. The returned session is already registered.
func (m *Manager) Start(ctx context.Context, h Handle, name string) (*Session, error) {
	if h == nil || h.Stdout() == nil || h.Stderr() == nil {
		return nil, fmt.Errorf("session.Manager.Start: %w", ErrInvalidHandle)
	}

	s := New(
		WithName(name),
		WithClock(m.clock),
		WithHandshakeTimeout(m.cfg.HandshakeTimeout),
		WithNegotiatorOptions(
			transport.WithStripANSI(m.cfg.StripANSI),
			transport.WithMaxLineBytes(m.cfg.MaxLineBytes),
		),
	)

	updates, cancel := s.Store().Subscribe(max(m.cfg.SubscriberBuffer, relayBuffer))

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	relayDone := make(chan struct{})

	m.wg.Add(3)
	go func() {
		defer m.wg.Done()
		if err := s.Run(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("session.Manager: session stopped")
		}
	}()
	go func() {
		defer m.wg.Done()
		defer close(relayDone)
		defer cancel()
		m.relay(s, updates)
	}()
	go func() {
		defer m.wg.Done()
		m.supervise(ctx, s, h, relayDone)
	}()

	return s, nil
}

// Get returns a registered session.
func (m *Manager) Get(id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session.Manager.Get(%s): %w", id, domain.ErrNotFound)
	}
	return s, nil
}

// List returns every registered session, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := slices.Collect(maps.Values(m.sessions))
	m.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	slices.SortFunc(infos, func(a, b Info) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return infos
}

// Remove forgets an ended session. Running sessions are kept.
func (m *Manager) Remove(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session.Manager.Remove(%s): %w", id, domain.ErrNotFound)
	}
	select {
	case <-s.Done():
		delete(m.sessions, id)
		return nil
	default:
		return fmt.Errorf("session.Manager.Remove(%s): %w", id, ErrAlreadyRunning)
	}
}

// Wait blocks until every started session has ended and its relay has
// drained.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// supervise pumps the handle into the session, waits for the child and
// reports its exit. When ctx ends first the child is stopped through Wait
// and its readers are closed, so a silent child cannot hold the pumps.
func (m *Manager) supervise(ctx context.Context, s *Session, h Handle, relayDone <-chan struct{}) {
	m.notifyStarted(s)

	var pumps sync.WaitGroup

	pump := func(name string, fn func() error) {
		pumps.Add(1)
		go func() {
			defer pumps.Done()
			err := fn()
			switch {
			case err == nil, errors.Is(err, ErrSessionEnded):
			case ctx.Err() != nil:
				s.logger.Debug().Err(err).Str("stream", name).Msg("session.Manager: read stopped")
			default:
				s.logger.Warn().Err(err).Str("stream", name).Msg("session.Manager: read failed")
			}
		}()
	}

	readers := []io.Reader{h.Stdout(), h.Stderr()}
	pump(transport.Stdout.String(), func() error { return PumpRaw(s, transport.Stdout, h.Stdout()) })
	pump(transport.Stderr.String(), func() error { return PumpRaw(s, transport.Stderr, h.Stderr()) })
	if ipc := h.IPC(); ipc != nil {
		readers = append(readers, ipc)
		pump("ipc", func() error { return PumpIPC(s, ipc) })
	}

	pumped := make(chan struct{})
	go func() {
		pumps.Wait()
		close(pumped)
	}()

	select {
	case <-pumped:
	case <-ctx.Done():
	}

	code, err := h.Wait(ctx)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		s.logger.Info().Err(err).Msg("session.Manager: child stopped")
		code = -1
	default:
		s.logger.Error().Err(err).Msg("session.Manager: wait for child")
		code = -1
	}

	select {
	case <-pumped:
	default:
		for _, r := range readers {
			if c, ok := r.(io.Closer); ok {
				_ = c.Close()
			}
		}
		<-pumped
	}

	if err := s.Exit(code); err != nil && !errors.Is(err, ErrSessionEnded) {
		s.logger.Error().Err(err).Msg("session.Manager: report exit")
	}

	<-s.Done()
	<-relayDone
	m.notifyEnded(s)
}

// relay forwards every applied action until the store closes, then
// publishes the end marker.
func (m *Manager) relay(s *Session, updates <-chan snapshot.Update) {
	channel := Channel(s.ID())
	var last uint64

	for u := range updates {
		last = u.Seq
		m.publish(s, channel, domain.ActionEnvelope(u.Action, u.At, u.Seq))
		m.record(s, u)
	}

	// The subscription may have dropped updates; the store has the last word.
	if _, seq := s.Store().Load(); seq > last {
		s.logger.Warn().Uint64("relayed", last).Uint64("applied", seq).Msg("session.Manager: relay fell behind")
		last = seq
	}
	m.publish(s, channel, domain.EndEnvelope(m.clock.Now(), last))
}

func (m *Manager) publish(s *Session, channel string, env domain.Envelope) {
	if m.publisher == nil {
		return
	}

	payload, err := domain.EncodeEnvelope(env)
	if err != nil {
		s.logger.Error().Err(err).Msg("session.Manager: encode envelope")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := m.publisher.Publish(ctx, channel, payload); err != nil {
		s.logger.Error().Err(err).Str("channel", channel).Msg("session.Manager: publish")
	}
}

func (m *Manager) record(s *Session, u snapshot.Update) {
	if m.journal == nil {
		return
	}

	payload, err := domain.EncodeAction(u.Action)
	if err != nil {
		s.logger.Error().Err(err).Msg("session.Manager: encode action")
		return
	}

	entry := &domain.JournalEntry{
		ID:        uuid.New(),
		SessionID: s.ID(),
		Seq:       u.Seq,
		Kind:      u.Action.Kind(),
		Payload:   payload,
		CreatedAt: u.At,
	}

	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := m.journal.Append(ctx, entry); err != nil {
		s.logger.Error().Err(err).Uint64("seq", u.Seq).Msg("session.Manager: journal append")
	}
}

func (m *Manager) notifyStarted(s *Session) {
	if m.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := m.notifier.SessionStarted(ctx, s.Info()); err != nil {
		s.logger.Error().Err(err).Msg("session.Manager: notify start")
	}
}

func (m *Manager) notifyEnded(s *Session) {
	if m.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := m.notifier.SessionEnded(ctx, s.Info(), s.Store().Current()); err != nil {
		s.logger.Error().Err(err).Msg("session.Manager: notify end")
	}
}
