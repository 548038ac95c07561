package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType tags a structured-channel message.
type MessageType string

const (
	MessageVersion   MessageType = "VERSION"
	MessageLogAction MessageType = "LOG_ACTION"
	// MessageEnd is only published to consumers, after the last action of
	// a session. Seq is the sequence number of that action.
	MessageEnd MessageType = "END"
)

// Envelope is one message on the structured channel: either the handshake
// (Version) or a log action (Action, Timestamp). Seq is set only on
// envelopes republished to consumers.
type Envelope struct {
	Type      MessageType
	Version   string
	Action    Action
	Timestamp time.Time
	Seq       uint64
}

type envelopeJSON struct {
	Type      MessageType     `json:"type"`
	Version   string          `json:"version,omitempty"`
	Gatsby    string          `json:"gatsby,omitempty"`
	Action    json.RawMessage `json:"action,omitempty"`
	Timestamp *wireTime       `json:"timestamp,omitempty"`
	Seq       uint64          `json:"seq,omitempty"`
}

// DecodeEnvelope parses a structured-channel message. A VERSION message
// without a version decodes successfully with an empty Version; deciding
// what that means is the negotiator's job.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var w envelopeJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("domain.DecodeEnvelope: %w: %w", ErrMalformedMessage, err)
	}

	env := Envelope{Type: w.Type, Seq: w.Seq}
	if w.Timestamp != nil {
		env.Timestamp = time.Time(*w.Timestamp)
	}

	switch w.Type {
	case MessageVersion:
		env.Version = w.Version
		if env.Version == "" {
			env.Version = w.Gatsby
		}
	case MessageLogAction:
		if len(w.Action) == 0 {
			return Envelope{}, fmt.Errorf("domain.DecodeEnvelope: missing action: %w", ErrMalformedMessage)
		}
		a, err := DecodeAction(w.Action)
		if err != nil {
			return Envelope{}, fmt.Errorf("domain.DecodeEnvelope: %w", err)
		}
		env.Action = a
	case MessageEnd:
	default:
		return Envelope{}, fmt.Errorf("domain.DecodeEnvelope: type %q: %w", w.Type, ErrMalformedMessage)
	}

	return env, nil
}

// EncodeEnvelope renders env in the structured-channel format.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	w := envelopeJSON{Type: env.Type, Version: env.Version, Seq: env.Seq}
	if !env.Timestamp.IsZero() {
		ts := wireTime(env.Timestamp)
		w.Timestamp = &ts
	}

	if env.Type == MessageLogAction {
		raw, err := EncodeAction(env.Action)
		if err != nil {
			return nil, fmt.Errorf("domain.EncodeEnvelope: %w", err)
		}
		w.Action = raw
	}

	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("domain.EncodeEnvelope: %w", err)
	}
	return data, nil
}

// ActionEnvelope wraps a for publication to consumers.
func ActionEnvelope(a Action, at time.Time, seq uint64) Envelope {
	return Envelope{Type: MessageLogAction, Action: a, Timestamp: at, Seq: seq}
}

// EndEnvelope tells consumers that no action follows seq.
func EndEnvelope(at time.Time, seq uint64) Envelope {
	return Envelope{Type: MessageEnd, Timestamp: at, Seq: seq}
}
