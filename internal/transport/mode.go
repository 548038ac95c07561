// Package transport decides, once per session, whether the structured
// channel or the raw text channels are authoritative, and turns the
// authoritative input into actions.
package transport

// Mode is the ingestion mode of a session. It only moves away from
// ModeUndecided, and only once.
type Mode int

const (
	ModeUndecided Mode = iota
	ModeStructured
	ModeStream
)

func (m Mode) String() string {
	switch m {
	case ModeUndecided:
		return "undecided"
	case ModeStructured:
		return "structured"
	case ModeStream:
		return "stream"
	default:
		return "unknown"
	}
}

// MarshalText lets modes appear as strings in JSON and logs.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Channel identifies one of the raw text channels of the child.
type Channel int

const (
	Stdout Channel = iota
	Stderr
)

func (c Channel) String() string {
	if c == Stderr {
		return "stderr"
	}
	return "stdout"
}
