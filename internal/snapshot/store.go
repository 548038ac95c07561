// Package snapshot holds the live snapshot of one session.
package snapshot

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/buildwatch/internal/clock"
	"github.com/gosuda/buildwatch/internal/domain"
	"github.com/gosuda/buildwatch/internal/reducer"
)

// DefaultSubscriberBuffer is used when Subscribe is called with a
// non-positive buffer.
const DefaultSubscriberBuffer = 64

// Update is pushed to subscribers once per applied action.
type Update struct {
	Seq      uint64
	Action   domain.Action
	Snapshot domain.Snapshot
	At       time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for update times and activity durations.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger anomalies are reported to.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store holds the current snapshot of a session. Apply is expected to be
// called from a single goroutine; readers may call Current, Load and
// Subscribe concurrently.
type Store struct {
	clock  clock.Clock
	logger zerolog.Logger

	mu        sync.RWMutex
	snap      domain.Snapshot
	seq       uint64
	closed    bool
	anomalies int64
	started   map[string]time.Time
	subs      map[uint64]chan Update
	nextSub   uint64
}

// New returns a store seeded with the initial snapshot.
func New(opts ...Option) *Store {
	s := &Store{
		clock:   clock.Real(),
		logger:  log.Logger,
		snap:    domain.Initial(),
		started: make(map[string]time.Time),
		subs:    make(map[uint64]chan Update),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply reduces a into the current snapshot. Anomalies leave the snapshot
// unchanged, are counted and logged, and are returned to the caller.
func (s *Store) Apply(a domain.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("snapshot.Store.Apply: %w", domain.ErrStoreClosed)
	}
	return s.applyLocked(a)
}

func (s *Store) applyLocked(a domain.Action) error {
	next, err := reducer.Reduce(s.snap, a)
	if err != nil {
		s.anomalies++
		s.logger.Warn().Err(err).Str("action", kindOf(a)).Msg("snapshot: action ignored")
		return fmt.Errorf("snapshot.Store.Apply: %w", err)
	}

	now := s.clock.Now()
	switch act := a.(type) {
	case domain.ActivityStart:
		s.started[act.Activity.ID] = now
	case domain.SetLogs:
		clear(s.started)
		for id, activity := range next.Activities {
			if activity.Running() {
				s.started[id] = now
			}
		}
	}

	s.seq++
	s.snap = next
	s.publishLocked(Update{Seq: s.seq, Action: a, Snapshot: next, At: now})
	return nil
}

func (s *Store) publishLocked(u Update) {
	for id, ch := range s.subs {
		select {
		case ch <- u:
		default:
			s.logger.Warn().Uint64("subscriber", id).Uint64("seq", u.Seq).Msg("snapshot: subscriber too slow, update dropped")
		}
	}
}

// Current returns the latest snapshot. The value is shared and must not be
// modified; Clone it first.
func (s *Store) Current() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Load returns the latest snapshot together with the sequence number of
// the last applied action (0 before any).
func (s *Store) Load() (domain.Snapshot, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap, s.seq
}

// Anomalies returns the number of actions rejected by the reducer.
func (s *Store) Anomalies() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.anomalies
}

// Subscribe returns a channel receiving every subsequent update and a
// function that cancels the subscription. Updates are dropped for a
// subscriber whose buffer is full; it can resynchronize with Load. The
// channel is closed on cancel or when the store closes.
func (s *Store) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan Update, buffer)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Interrupt ends every activity still IN_PROGRESS with INTERRUPTED and a
// duration measured from its start, in id order. NOT_STARTED activities
// are left as they are. If the build never reported a final status and
// exitCode is non-zero, the status becomes FAILED.
func (s *Store) Interrupt(exitCode int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("snapshot.Store.Interrupt: %w", domain.ErrStoreClosed)
	}

	now := s.clock.Now()
	for _, activity := range s.snap.SortedActivities() {
		if !activity.Running() {
			continue
		}
		var seconds float64
		if at, ok := s.started[activity.ID]; ok {
			seconds = now.Sub(at).Seconds()
		}
		end := domain.ActivityEnd{
			ID:       activity.ID,
			UUID:     activity.UUID,
			Status:   domain.ActivityInterrupted,
			Duration: seconds,
		}
		if err := s.applyLocked(end); err != nil {
			return fmt.Errorf("snapshot.Store.Interrupt: %w", err)
		}
	}

	if s.snap.Status == domain.StatusInProgress && exitCode != 0 {
		if err := s.applyLocked(domain.SetStatus{Status: domain.StatusFailed}); err != nil {
			return fmt.Errorf("snapshot.Store.Interrupt: %w", err)
		}
	}
	return nil
}

// Close closes every subscriber channel. Later calls to Apply fail with
// domain.ErrStoreClosed; the last snapshot stays readable.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

func kindOf(a domain.Action) string {
	if a == nil {
		return "<nil>"
	}
	return string(a.Kind())
}
