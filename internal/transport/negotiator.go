package transport

import (
	"fmt"
	"time"

	"github.com/gosuda/buildwatch/internal/domain"
)

// DefaultHandshakeTimeout is how long a session waits for the structured
// handshake before falling back to the raw text channels.
const DefaultHandshakeTimeout = 5 * time.Second

type chunk struct {
	ch   Channel
	data []byte
	at   time.Time
}

// Option configures a Negotiator.
type Option func(*Negotiator)

// WithStripANSI controls whether escape sequences are removed from raw
// lines in stream mode. Enabled by default.
func WithStripANSI(strip bool) Option {
	return func(n *Negotiator) { n.stripANSI = strip }
}

// WithMaxLineBytes sets the length at which raw lines are split.
func WithMaxLineBytes(limit int) Option {
	return func(n *Negotiator) {
		if limit > 0 {
			n.maxLine = limit
		}
	}
}

// Negotiator owns the mode of one session. It is not safe for concurrent
// use; the session calls it from its event loop only.
type Negotiator struct {
	mode      Mode
	version   string
	stripANSI bool
	maxLine   int

	pending  []chunk
	buffered []domain.Action
	lines    [2]*lineBuffer
	dropped  int
}

// NewNegotiator returns an undecided negotiator.
func NewNegotiator(opts ...Option) *Negotiator {
	n := &Negotiator{
		stripANSI: true,
		maxLine:   DefaultMaxLineBytes,
	}
	for _, opt := range opts {
		opt(n)
	}
	for i := range n.lines {
		n.lines[i] = &lineBuffer{max: n.maxLine}
	}
	return n
}

// Mode returns the current mode.
func (n *Negotiator) Mode() Mode { return n.mode }

// Version returns the protocol version announced by the handshake, or ""
// when structured mode was never entered.
func (n *Negotiator) Version() string { return n.version }

// Dropped returns how many structured actions were discarded because the
// session had fallen back to stream mode.
func (n *Negotiator) Dropped() int { return n.dropped }

// PendingBytes returns the number of raw bytes held while undecided.
func (n *Negotiator) PendingBytes() int {
	total := 0
	for _, c := range n.pending {
		total += len(c.data)
	}
	return total
}

// Structured handles one message from the structured channel.
//
// A valid handshake while undecided commits to structured mode, drops the
// raw bytes held so far and releases the actions buffered before it. The
// caller must cancel its handshake timer in the same step. A handshake
// without a version is rejected and changes nothing.
func (n *Negotiator) Structured(env domain.Envelope) ([]domain.Action, error) {
	switch env.Type {
	case domain.MessageVersion:
		if n.mode != ModeUndecided {
			return nil, fmt.Errorf("transport.Negotiator.Structured: %s mode: %w", n.mode, domain.ErrModeCommitted)
		}
		if env.Version == "" {
			return nil, fmt.Errorf("transport.Negotiator.Structured: %w", domain.ErrMalformedHandshake)
		}

		n.mode = ModeStructured
		n.version = env.Version
		n.pending = nil
		released := n.buffered
		n.buffered = nil
		return released, nil

	case domain.MessageLogAction:
		if env.Action == nil {
			return nil, fmt.Errorf("transport.Negotiator.Structured: empty action: %w", domain.ErrMalformedMessage)
		}
		switch n.mode {
		case ModeStructured:
			return []domain.Action{env.Action}, nil
		case ModeUndecided:
			n.buffered = append(n.buffered, env.Action)
			return nil, nil
		default:
			n.dropped++
			return nil, fmt.Errorf("transport.Negotiator.Structured: %s in %s mode: %w", env.Action.Kind(), n.mode, domain.ErrUnexpectedMessage)
		}

	default:
		return nil, fmt.Errorf("transport.Negotiator.Structured: type %q: %w", env.Type, domain.ErrMalformedMessage)
	}
}

// Raw handles a chunk read from a raw text channel at time at. In stream
// mode it returns one LOG action per complete line; while undecided the
// chunk is held; in structured mode it is ignored.
func (n *Negotiator) Raw(ch Channel, data []byte, at time.Time) []domain.Action {
	if len(data) == 0 {
		return nil
	}

	switch n.mode {
	case ModeUndecided:
		n.pending = append(n.pending, chunk{ch: ch, data: append([]byte(nil), data...), at: at})
		return nil
	case ModeStream:
		return n.parse(ch, data, at)
	default:
		return nil
	}
}

// Timeout is called when the handshake window elapses. While undecided it
// commits to stream mode and returns the actions for every held chunk, in
// receipt order. Once decided it does nothing.
func (n *Negotiator) Timeout(at time.Time) []domain.Action {
	if n.mode != ModeUndecided {
		return nil
	}
	return n.fallback()
}

// Close is called when the raw channels have ended. It commits an
// undecided session to stream mode and returns the actions for any bytes
// not yet turned into lines, including unterminated trailing lines.
func (n *Negotiator) Close(at time.Time) []domain.Action {
	var out []domain.Action
	switch n.mode {
	case ModeUndecided:
		out = n.fallback()
	case ModeStructured:
		return nil
	case ModeStream:
	}

	for ch, buf := range n.lines {
		if line, ok := buf.flush(); ok {
			out = append(out, lineAction(Channel(ch), line, at, n.stripANSI))
		}
	}
	return out
}

func (n *Negotiator) fallback() []domain.Action {
	n.mode = ModeStream
	n.dropped += len(n.buffered)
	n.buffered = nil

	var out []domain.Action
	for _, c := range n.pending {
		out = append(out, n.parse(c.ch, c.data, c.at)...)
	}
	n.pending = nil
	return out
}

func (n *Negotiator) parse(ch Channel, data []byte, at time.Time) []domain.Action {
	if ch != Stderr {
		ch = Stdout
	}
	lines := n.lines[ch].feed(data)
	out := make([]domain.Action, 0, len(lines))
	for _, line := range lines {
		out = append(out, lineAction(ch, line, at, n.stripANSI))
	}
	return out
}
