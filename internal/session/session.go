// Package session runs the ingestion pipeline of one child process: raw
// text chunks, structured messages, the handshake timer and the exit
// notification are serialized onto one event loop that drives the
// negotiator and the snapshot store.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/buildwatch/internal/clock"
	"github.com/gosuda/buildwatch/internal/domain"
	"github.com/gosuda/buildwatch/internal/snapshot"
	"github.com/gosuda/buildwatch/internal/transport"
)

// ErrSessionEnded is returned when input is pushed into a session whose
// event loop has already finished.
var ErrSessionEnded = errors.New("session: ended") //nolint:gochecknoglobals // sentinel error

// ErrAlreadyRunning is returned when Run is called twice.
var ErrAlreadyRunning = errors.New("session: already running") //nolint:gochecknoglobals // sentinel error

// Status is the lifecycle state of a session.
type Status string

const (
	StatusRunning   Status = "running"
	StatusExited    Status = "exited"
	StatusCancelled Status = "cancelled"
)

// Info describes a session for listings.
type Info struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name,omitempty"`
	Mode      transport.Mode `json:"mode"`
	Version   string         `json:"version,omitempty"`
	Status    Status         `json:"status"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	ExitCode  *int           `json:"exit_code,omitempty"`
	Anomalies int64          `json:"anomalies"`
}

// Option configures a Session.
type Option func(*Session)

// WithID sets the session id. A random one is used otherwise.
func WithID(id uuid.UUID) Option {
	return func(s *Session) { s.id = id }
}

// WithName sets a human label, typically the command or container name.
func WithName(name string) Option {
	return func(s *Session) { s.name = name }
}

// WithClock sets the clock driving the handshake timer and timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithHandshakeTimeout sets the handshake window.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithNegotiatorOptions forwards options to the transport negotiator.
func WithNegotiatorOptions(opts ...transport.Option) Option {
	return func(s *Session) { s.negotiatorOpts = append(s.negotiatorOpts, opts...) }
}

// WithQueueSize sets the capacity of the event queue.
func WithQueueSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// Session is one ingestion pipeline. Push methods may be called from any
// goroutine; the negotiator and the store are only driven from Run.
type Session struct {
	id             uuid.UUID
	name           string
	clock          clock.Clock
	timeout        time.Duration
	queueSize      int
	negotiatorOpts []transport.Option
	logger         zerolog.Logger

	negotiator *transport.Negotiator
	store      *snapshot.Store
	timer      clock.Timer

	events  chan event
	backlog []event // drained from events, handled before it
	done    chan struct{}
	running sync.Once

	mu        sync.RWMutex
	info      Info
	anomalies int64
}

// New creates a session and opens its handshake window. Events are queued
// until Run is called.
func New(opts ...Option) *Session {
	s := &Session{
		id:        uuid.New(),
		clock:     clock.Real(),
		timeout:   transport.DefaultHandshakeTimeout,
		queueSize: 256,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger = log.With().Str("session_id", s.id.String()).Logger()
	s.negotiator = transport.NewNegotiator(s.negotiatorOpts...)
	s.store = snapshot.New(snapshot.WithClock(s.clock), snapshot.WithLogger(s.logger))
	s.events = make(chan event, s.queueSize)
	s.info = Info{
		ID:        s.id,
		Name:      s.name,
		Mode:      transport.ModeUndecided,
		Status:    StatusRunning,
		StartedAt: s.clock.Now(),
	}

	s.timer = s.clock.AfterFunc(s.timeout, func() {
		s.enqueue(timeoutEvent{at: s.clock.Now()})
	})
	return s
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID { return s.id }

// Store returns the snapshot store fed by the session.
func (s *Session) Store() *snapshot.Store { return s.store }

// Done is closed once the session has torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Info returns a copy of the session description.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := s.info
	info.Anomalies = s.anomalies + s.store.Anomalies()
	return info
}

// ---------------------------------------------------------------------------
// Inputs
// ---------------------------------------------------------------------------

// WriteRaw pushes a chunk read from a raw text channel.
func (s *Session) WriteRaw(ch transport.Channel, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	ev := rawEvent{ch: ch, data: append([]byte(nil), data...), at: s.clock.Now()}
	if !s.enqueue(ev) {
		return fmt.Errorf("session.Session.WriteRaw: %w", ErrSessionEnded)
	}
	return nil
}

// Receive pushes one line read from the structured channel. Lines that do
// not decode are counted as anomalies by the event loop.
func (s *Session) Receive(line []byte) error {
	at := s.clock.Now()

	var ev event
	env, err := domain.DecodeEnvelope(line)
	if err != nil {
		ev = malformedEvent{err: err}
	} else {
		ev = structuredEvent{env: env, at: at}
	}

	if !s.enqueue(ev) {
		return fmt.Errorf("session.Session.Receive: %w", ErrSessionEnded)
	}
	return nil
}

// Send pushes an already decoded structured message.
func (s *Session) Send(env domain.Envelope) error {
	if !s.enqueue(structuredEvent{env: env, at: s.clock.Now()}) {
		return fmt.Errorf("session.Session.Send: %w", ErrSessionEnded)
	}
	return nil
}

// Exit reports that the child terminated with code. The event loop flushes
// the raw channels, interrupts open activities and ends.
func (s *Session) Exit(code int) error {
	if !s.enqueue(exitEvent{code: code, at: s.clock.Now()}) {
		return fmt.Errorf("session.Session.Exit: %w", ErrSessionEnded)
	}
	return nil
}

func (s *Session) enqueue(ev event) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// ---------------------------------------------------------------------------
// Event loop
// ---------------------------------------------------------------------------

// Run processes events until Exit is handled or ctx is cancelled. A
// cancelled session is torn down as if the child had failed.
func (s *Session) Run(ctx context.Context) error {
	first := false
	s.running.Do(func() { first = true })
	if !first {
		return fmt.Errorf("session.Session.Run: %w", ErrAlreadyRunning)
	}

	s.logger.Info().Dur("handshake_timeout", s.timeout).Msg("session: started")

	for {
		if len(s.backlog) > 0 {
			ev := s.backlog[0]
			s.backlog = s.backlog[1:]
			if s.dispatch(ev) {
				return nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			s.teardown(-1, s.clock.Now(), StatusCancelled)
			return fmt.Errorf("session.Session.Run: %w", ctx.Err())

		case ev := <-s.events:
			if s.dispatch(ev) {
				return nil
			}
		}
	}
}

// dispatch handles ev and reports whether the session has ended.
func (s *Session) dispatch(ev event) bool {
	if exit, ok := ev.(exitEvent); ok {
		s.teardown(exit.code, exit.at, StatusExited)
		return true
	}
	s.handle(ev)
	return false
}

func (s *Session) handle(ev event) {
	switch e := ev.(type) {
	case rawEvent:
		if s.negotiator.Mode() == transport.ModeStructured {
			s.logger.Debug().Str("stream", e.ch.String()).Bytes("data", e.data).Msg("session: raw output")
			return
		}
		s.apply(s.negotiator.Raw(e.ch, e.data, e.at))

	case structuredEvent:
		s.handleStructured(e)

	case malformedEvent:
		s.anomaly(e.err, "session: structured message ignored")

	case timeoutEvent:
		if s.negotiator.Mode() != transport.ModeUndecided {
			return
		}
		if s.handshakeQueued(e.at) {
			s.logger.Debug().Msg("session: handshake raced the timeout and wins")
			return
		}
		pending := s.negotiator.PendingBytes()
		actions := s.negotiator.Timeout(e.at)
		s.logger.Info().Int("pending_bytes", pending).Msg("session: no handshake, falling back to stream mode")
		if dropped := s.negotiator.Dropped(); dropped > 0 {
			s.countAnomalies(int64(dropped))
			s.logger.Warn().Int("dropped", dropped).Msg("session: structured actions received before fallback dropped")
		}
		s.setMode()
		s.apply(actions)

	case syncEvent:
		close(e.ack)
	}
}

func (s *Session) handleStructured(e structuredEvent) {
	undecided := s.negotiator.Mode() == transport.ModeUndecided
	pending := s.negotiator.PendingBytes()

	env := e.env
	if env.Type == domain.MessageLogAction {
		at := env.Timestamp
		if at.IsZero() {
			at = e.at
		}
		env.Action = stamp(env.Action, at)
	}

	actions, err := s.negotiator.Structured(env)
	if err != nil {
		s.anomaly(err, "session: structured message ignored")
		return
	}

	if undecided && s.negotiator.Mode() == transport.ModeStructured {
		s.timer.Stop()
		s.setMode()
		s.logger.Info().Str("version", s.negotiator.Version()).Msg("session: structured mode")
		if pending > 0 {
			s.logger.Debug().Int("bytes", pending).Msg("session: raw output before handshake discarded")
		}
	}
	s.apply(actions)
}

// handshakeQueued moves every queued event to the backlog and reports
// whether one of them is a handshake received no later than at.
func (s *Session) handshakeQueued(at time.Time) bool {
	for drained := false; !drained; {
		select {
		case ev := <-s.events:
			s.backlog = append(s.backlog, ev)
		default:
			drained = true
		}
	}

	for _, ev := range s.backlog {
		e, ok := ev.(structuredEvent)
		if ok && e.env.Type == domain.MessageVersion && e.env.Version != "" && !e.at.After(at) {
			return true
		}
	}
	return false
}

// stamp fills in the receipt time of log entries the producer sent
// without one.
func stamp(a domain.Action, at time.Time) domain.Action {
	switch v := a.(type) {
	case domain.Log:
		if v.Entry.Timestamp.IsZero() {
			v.Entry.Timestamp = at
		}
		return v
	case domain.StatefulLog:
		if v.Entry.Timestamp.IsZero() {
			v.Entry.Timestamp = at
		}
		return v
	default:
		return a
	}
}

func (s *Session) apply(actions []domain.Action) {
	for _, a := range actions {
		// Anomalies are counted and logged by the store.
		_ = s.store.Apply(a)
	}
}

func (s *Session) teardown(code int, at time.Time, status Status) {
	s.timer.Stop()

	actions := s.negotiator.Close(at)
	s.setMode()
	s.apply(actions)

	if err := s.store.Interrupt(code); err != nil {
		s.logger.Error().Err(err).Msg("session: interrupt open activities")
	}
	s.store.Close()

	s.mu.Lock()
	s.info.Status = status
	s.info.EndedAt = &at
	s.info.ExitCode = &code
	s.mu.Unlock()

	close(s.done)
	s.logger.Info().Int("exit_code", code).Str("status", string(status)).Msg("session: ended")
}

func (s *Session) setMode() {
	s.mu.Lock()
	s.info.Mode = s.negotiator.Mode()
	s.info.Version = s.negotiator.Version()
	s.mu.Unlock()
}

func (s *Session) anomaly(err error, msg string) {
	s.countAnomalies(1)
	s.logger.Warn().Err(err).Msg(msg)
}

func (s *Session) countAnomalies(n int64) {
	s.mu.Lock()
	s.anomalies += n
	s.mu.Unlock()
}

// sync blocks until every event queued before it has been handled.
func (s *Session) sync() bool {
	ack := make(chan struct{})
	if !s.enqueue(syncEvent{ack: ack}) {
		return false
	}
	select {
	case <-ack:
		return true
	case <-s.done:
		return false
	}
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

type event interface{ isEvent() }

type rawEvent struct {
	ch   transport.Channel
	data []byte
	at   time.Time
}

type structuredEvent struct {
	env domain.Envelope
	at  time.Time
}

type malformedEvent struct {
	err error
}

type timeoutEvent struct {
	at time.Time
}

type exitEvent struct {
	code int
	at   time.Time
}

type syncEvent struct {
	ack chan struct{}
}

func (rawEvent) isEvent()        {}
func (structuredEvent) isEvent() {}
func (malformedEvent) isEvent()  {}
func (timeoutEvent) isEvent()    {}
func (exitEvent) isEvent()       {}
func (syncEvent) isEvent()       {}
