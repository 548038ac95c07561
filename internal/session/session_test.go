package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/buildwatch/internal/clock"
	"github.com/gosuda/buildwatch/internal/domain"
	"github.com/gosuda/buildwatch/internal/transport"
)

var t0 = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// startSession runs a session on a fake clock at t0 with the default
// 5000 ms handshake window.
func startSession(t *testing.T, opts ...Option) (*Session, *clock.FakeClock, <-chan error) {
	t.Helper()

	fake := clock.Fake(t0)
	s := New(append([]Option{WithClock(fake)}, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	errs := make(chan error, 1)
	go func() { errs <- s.Run(ctx) }()
	return s, fake, errs
}

// advance moves the fake clock and waits until the loop has handled
// whatever the move queued.
func advance(t *testing.T, s *Session, fake *clock.FakeClock, d time.Duration) {
	t.Helper()
	fake.Advance(d)
	require.True(t, s.sync(), "session ended")
}

func texts(entries []domain.LogEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Text)
	}
	return out
}

// ---------------------------------------------------------------------------
// Negotiation
// ---------------------------------------------------------------------------

func TestSession_FallsBackToStreamAfterTimeout(t *testing.T) {
	t.Parallel()

	s, fake, _ := startSession(t)

	advance(t, s, fake, ms(2000))
	require.NoError(t, s.WriteRaw(transport.Stdout, []byte("first line\nsecond ")))
	require.NoError(t, s.WriteRaw(transport.Stdout, []byte("line\n")))
	require.True(t, s.sync())

	assert.Empty(t, s.Store().Current().Messages, "nothing is applied while undecided")
	assert.Equal(t, transport.ModeUndecided, s.Info().Mode)

	advance(t, s, fake, ms(3000))

	snap := s.Store().Current()
	assert.Equal(t, transport.ModeStream, s.Info().Mode)
	require.Equal(t, []string{"first line", "second line"}, texts(snap.Messages))
	for _, m := range snap.Messages {
		assert.Equal(t, domain.LevelLog, m.Level)
		assert.Equal(t, t0.Add(ms(2000)), m.Timestamp)
	}

	// Stream mode keeps parsing live input.
	require.NoError(t, s.WriteRaw(transport.Stderr, []byte("boom\n")))
	require.True(t, s.sync())
	snap = s.Store().Current()
	require.Len(t, snap.Messages, 3)
	assert.Equal(t, domain.LevelError, snap.Messages[2].Level)
}

func TestSession_HandshakeBeforeTimeoutWins(t *testing.T) {
	t.Parallel()

	s, fake, errs := startSession(t)

	advance(t, s, fake, ms(2000))
	require.NoError(t, s.WriteRaw(transport.Stdout, []byte("buffered text\n")))
	advance(t, s, fake, ms(2999))

	require.NoError(t, s.Receive([]byte(`{"type":"VERSION","version":"4.0.0"}`)))
	require.True(t, s.sync())

	info := s.Info()
	assert.Equal(t, transport.ModeStructured, info.Mode)
	assert.Equal(t, "4.0.0", info.Version)
	assert.Zero(t, fake.Pending(), "handshake timer is stopped")

	advance(t, s, fake, ms(10_000))
	require.NoError(t, s.WriteRaw(transport.Stdout, []byte("after handshake\n")))
	require.NoError(t, s.Exit(0))
	require.NoError(t, <-errs)

	snap := s.Store().Current()
	assert.Empty(t, snap.Messages, "no stream-mode LOG is ever synthesized")
	assert.Equal(t, transport.ModeStructured, s.Info().Mode)
}

func TestSession_HandshakeAtTimeoutInstantWins(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(t0)
	s := New(WithClock(fake))
	require.NoError(t, s.WriteRaw(transport.Stdout, []byte("early\n")))

	// The timer event is queued ahead of the handshake, but both carry
	// t=5000ms. Nothing is handled until Run starts.
	fake.Advance(ms(5000))
	require.NoError(t, s.Receive([]byte(`{"type":"VERSION","version":"4.0.0"}`)))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = s.Run(ctx) }()
	require.True(t, s.sync())

	assert.Equal(t, transport.ModeStructured, s.Info().Mode)
	assert.Empty(t, s.Store().Current().Messages)
}

func TestSession_LateHandshakeIsIgnored(t *testing.T) {
	t.Parallel()

	s, fake, _ := startSession(t)
	advance(t, s, fake, ms(5000))
	advance(t, s, fake, ms(1))

	require.NoError(t, s.Receive([]byte(`{"type":"VERSION","version":"4.0.0"}`)))
	require.True(t, s.sync())

	info := s.Info()
	assert.Equal(t, transport.ModeStream, info.Mode)
	assert.Equal(t, int64(1), info.Anomalies)
}

func TestSession_MalformedHandshakeKeepsTimer(t *testing.T) {
	t.Parallel()

	s, fake, _ := startSession(t)

	require.NoError(t, s.Receive([]byte(`{"type":"VERSION"}`)))
	require.NoError(t, s.Receive([]byte(`not json at all`)))
	require.True(t, s.sync())

	assert.Equal(t, transport.ModeUndecided, s.Info().Mode)
	assert.Equal(t, 1, fake.Pending())
	assert.Equal(t, int64(2), s.Info().Anomalies)

	advance(t, s, fake, ms(5000))
	assert.Equal(t, transport.ModeStream, s.Info().Mode)
}

func TestSession_ActionsBeforeHandshakeAreReleased(t *testing.T) {
	t.Parallel()

	s, fake, _ := startSession(t)

	advance(t, s, fake, ms(100))
	require.NoError(t, s.Receive([]byte(`{"type":"LOG_ACTION","action":{"type":"LOG","payload":{"text":"stamped by producer","timestamp":"2026-10-18T09:00:00.050Z","level":"INFO"}}}`)))
	require.NoError(t, s.Receive([]byte(`{"type":"LOG_ACTION","timestamp":"2026-10-18T09:00:00.090Z","action":{"type":"STATEFUL_LOG","payload":{"text":"stamped by envelope","level":"INFO","group":"g"}}}`)))
	require.True(t, s.sync())
	assert.Empty(t, s.Store().Current().Messages)

	require.NoError(t, s.Receive([]byte(`{"type":"VERSION","gatsby":"2.13.0"}`)))
	require.True(t, s.sync())

	snap := s.Store().Current()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, t0.Add(ms(50)), snap.Messages[0].Timestamp)
	require.Len(t, snap.StatefulMessages, 1)
	assert.Equal(t, t0.Add(ms(90)), snap.StatefulMessages[0].Timestamp)
}

func TestSession_StructuredFlow(t *testing.T) {
	t.Parallel()

	s, fake, errs := startSession(t)

	lines := []string{
		`{"type":"VERSION","version":"4.0.0"}`,
		`{"type":"LOG_ACTION","action":{"type":"ACTIVITY_START","payload":{"id":"schema","uuid":"1","type":"spinner","text":"building schema"}}}`,
		`{"type":"LOG_ACTION","action":{"type":"ACTIVITY_START","payload":{"id":"queries","uuid":"2","type":"progress","text":"running queries"}}}`,
		`{"type":"LOG_ACTION","action":{"type":"ACTIVITY_END","payload":{"id":"schema","status":"SUCCESS","duration":0.3}}}`,
		`{"type":"LOG_ACTION","action":{"type":"ACTIVITY_UPDATE","payload":{"id":"ghost","text":"nobody"}}}`,
	}
	for _, line := range lines {
		require.NoError(t, s.Receive([]byte(line)))
	}
	require.True(t, s.sync())
	advance(t, s, fake, ms(1500))

	require.NoError(t, s.Exit(1))
	require.NoError(t, <-errs)
	<-s.Done()

	snap := s.Store().Current()
	assert.Equal(t, domain.ActivitySucceeded, snap.Activities["schema"].Status)
	assert.Equal(t, domain.ActivityInterrupted, snap.Activities["queries"].Status)
	assert.InDelta(t, 1.5, *snap.Activities["queries"].Duration, 1e-9)
	assert.Equal(t, domain.StatusFailed, snap.Status)

	info := s.Info()
	assert.Equal(t, StatusExited, info.Status)
	require.NotNil(t, info.ExitCode)
	assert.Equal(t, 1, *info.ExitCode)
	require.NotNil(t, info.EndedAt)
	assert.Equal(t, t0.Add(ms(1500)), *info.EndedAt)
	assert.Equal(t, int64(1), info.Anomalies)
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestSession_ExitFlushesUndecidedInput(t *testing.T) {
	t.Parallel()

	s, _, errs := startSession(t)
	require.NoError(t, s.WriteRaw(transport.Stdout, []byte("no newline at the end")))
	require.NoError(t, s.Exit(0))
	require.NoError(t, <-errs)

	snap := s.Store().Current()
	assert.Equal(t, []string{"no newline at the end"}, texts(snap.Messages))
	assert.Equal(t, domain.StatusInProgress, snap.Status, "a clean exit does not invent a status")
	assert.Equal(t, transport.ModeStream, s.Info().Mode)
}

func TestSession_InputAfterExitIsRejected(t *testing.T) {
	t.Parallel()

	s, fake, errs := startSession(t)
	require.NoError(t, s.Exit(0))
	require.NoError(t, <-errs)

	require.ErrorIs(t, s.WriteRaw(transport.Stdout, []byte("late\n")), ErrSessionEnded)
	require.ErrorIs(t, s.Receive([]byte(`{"type":"VERSION","version":"1"}`)), ErrSessionEnded)
	require.ErrorIs(t, s.Exit(0), ErrSessionEnded)
	assert.False(t, s.sync())

	// The stopped timer never fires into a finished session.
	fake.Advance(ms(10_000))
	assert.Empty(t, s.Store().Current().Messages)
}

func TestSession_CancelTearsDown(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(t0)
	s := New(WithClock(fake))

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- s.Run(ctx) }()

	require.NoError(t, s.Receive([]byte(`{"type":"VERSION","version":"4.0.0"}`)))
	require.NoError(t, s.Receive([]byte(`{"type":"LOG_ACTION","action":{"type":"ACTIVITY_START","payload":{"id":"a","uuid":"1","type":"spinner","text":"a"}}}`)))
	require.True(t, s.sync())

	cancel()
	require.ErrorIs(t, <-errs, context.Canceled)

	info := s.Info()
	assert.Equal(t, StatusCancelled, info.Status)
	assert.Equal(t, domain.ActivityInterrupted, s.Store().Current().Activities["a"].Status)
	assert.Equal(t, domain.StatusFailed, s.Store().Current().Status)
}

func TestSession_RunTwice(t *testing.T) {
	t.Parallel()

	s, _, _ := startSession(t)
	require.True(t, s.sync())

	err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestSession_CustomHandshakeTimeout(t *testing.T) {
	t.Parallel()

	s, fake, _ := startSession(t, WithHandshakeTimeout(ms(100)))
	require.NoError(t, s.WriteRaw(transport.Stdout, []byte("x\n")))
	advance(t, s, fake, ms(100))

	assert.Equal(t, transport.ModeStream, s.Info().Mode)
	assert.Len(t, s.Store().Current().Messages, 1)
}
