package domain

import (
	"encoding/json"
	"fmt"
)

// Kind is the wire tag of an action.
type Kind string

const (
	KindLog              Kind = "LOG"
	KindStatefulLog      Kind = "STATEFUL_LOG"
	KindClearStatefulLog Kind = "CLEAR_STATEFUL_LOG"
	KindActivityStart    Kind = "ACTIVITY_START"
	KindActivityUpdate   Kind = "ACTIVITY_UPDATE"
	KindActivityEnd      Kind = "ACTIVITY_END"
	KindSetStatus        Kind = "SET_STATUS"
	KindSetLogs          Kind = "SET_LOGS"
)

// Action is one event of the closed action set. It is pure data; the
// reducer decides what it means.
type Action interface {
	Kind() Kind
	action()
}

// Log appends a transient message.
type Log struct {
	Entry LogEntry
}

// StatefulLog appends a message that its producer may later clear.
type StatefulLog struct {
	Entry LogEntry
}

// ClearStatefulLog removes every stateful message of a producer group.
type ClearStatefulLog struct {
	Group string
}

// ActivityStart registers (or restarts) an activity.
type ActivityStart struct {
	Activity Activity
}

// ActivityUpdate merges the non-nil fields into an existing activity.
// UUID, when set, addresses a single instance of the activity.
type ActivityUpdate struct {
	ID         string          `json:"id"`
	UUID       string          `json:"uuid,omitempty"`
	Text       *string         `json:"text,omitempty"`
	Status     *ActivityStatus `json:"status,omitempty"`
	Type       *ActivityType   `json:"type,omitempty"`
	StatusText *string         `json:"statusText,omitempty"`
	Current    *int64          `json:"current,omitempty"`
	Total      *int64          `json:"total,omitempty"`
}

// ActivityEnd is the last mutation of an activity instance.
type ActivityEnd struct {
	ID       string         `json:"id"`
	UUID     string         `json:"uuid,omitempty"`
	Status   ActivityStatus `json:"status"`
	Duration float64        `json:"duration"`
}

// SetStatus replaces the global status.
type SetStatus struct {
	Status GlobalStatus
}

// SetLogs replaces the whole snapshot, used to seed late consumers.
type SetLogs struct {
	Snapshot Snapshot
}

func (Log) Kind() Kind              { return KindLog }
func (StatefulLog) Kind() Kind      { return KindStatefulLog }
func (ClearStatefulLog) Kind() Kind { return KindClearStatefulLog }
func (ActivityStart) Kind() Kind    { return KindActivityStart }
func (ActivityUpdate) Kind() Kind   { return KindActivityUpdate }
func (ActivityEnd) Kind() Kind      { return KindActivityEnd }
func (SetStatus) Kind() Kind        { return KindSetStatus }
func (SetLogs) Kind() Kind          { return KindSetLogs }

func (Log) action()              {}
func (StatefulLog) action()      {}
func (ClearStatefulLog) action() {}
func (ActivityStart) action()    {}
func (ActivityUpdate) action()   {}
func (ActivityEnd) action()      {}
func (SetStatus) action()        {}
func (SetLogs) action()          {}

// ApplyTo merges the update into a and returns the result.
func (u ActivityUpdate) ApplyTo(a Activity) Activity {
	if u.Text != nil {
		a.Text = *u.Text
	}
	if u.Status != nil {
		a.Status = *u.Status
	}
	if u.Type != nil {
		a.Type = *u.Type
	}
	if u.StatusText != nil {
		a.StatusText = *u.StatusText
	}
	if u.Current != nil {
		v := *u.Current
		a.Current = &v
	}
	if u.Total != nil {
		v := *u.Total
		a.Total = &v
	}
	return a
}

type actionJSON struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeAction renders a as {"type": ..., "payload": ...}.
func EncodeAction(a Action) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("domain.EncodeAction: %w", ErrUnknownAction)
	}

	var payload any
	switch v := a.(type) {
	case Log:
		payload = v.Entry
	case StatefulLog:
		payload = v.Entry
	case ClearStatefulLog:
		payload = v.Group
	case ActivityStart:
		payload = v.Activity
	case ActivityUpdate:
		payload = v
	case ActivityEnd:
		payload = v
	case SetStatus:
		payload = v.Status
	case SetLogs:
		payload = v.Snapshot
	default:
		return nil, fmt.Errorf("domain.EncodeAction: %T: %w", a, ErrUnknownAction)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("domain.EncodeAction: %w", err)
	}

	data, err := json.Marshal(actionJSON{Type: a.Kind(), Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("domain.EncodeAction: %w", err)
	}
	return data, nil
}

// DecodeAction parses the wire form of an action. Only the payload shape
// is checked.
func DecodeAction(data []byte) (Action, error) {
	var w actionJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("domain.DecodeAction: %w: %w", ErrMalformedMessage, err)
	}
	if len(w.Payload) == 0 {
		return nil, fmt.Errorf("domain.DecodeAction(%s): missing payload: %w", w.Type, ErrMalformedMessage)
	}

	var (
		a   Action
		err error
	)
	switch w.Type {
	case KindLog:
		var v Log
		err = json.Unmarshal(w.Payload, &v.Entry)
		a = v
	case KindStatefulLog:
		var v StatefulLog
		err = json.Unmarshal(w.Payload, &v.Entry)
		a = v
	case KindClearStatefulLog:
		var v ClearStatefulLog
		err = json.Unmarshal(w.Payload, &v.Group)
		a = v
	case KindActivityStart:
		var v ActivityStart
		err = json.Unmarshal(w.Payload, &v.Activity)
		a = v
	case KindActivityUpdate:
		var v ActivityUpdate
		err = json.Unmarshal(w.Payload, &v)
		a = v
	case KindActivityEnd:
		var v ActivityEnd
		err = json.Unmarshal(w.Payload, &v)
		a = v
	case KindSetStatus:
		var v SetStatus
		err = json.Unmarshal(w.Payload, &v.Status)
		a = v
	case KindSetLogs:
		var v SetLogs
		err = json.Unmarshal(w.Payload, &v.Snapshot)
		a = v
	default:
		return nil, fmt.Errorf("domain.DecodeAction(%q): %w", w.Type, ErrUnknownAction)
	}
	if err != nil {
		return nil, fmt.Errorf("domain.DecodeAction(%s): %w: %w", w.Type, ErrMalformedMessage, err)
	}

	return a, nil
}
