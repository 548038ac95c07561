package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimestampFormat is the wire format of every timestamp exchanged with the
// producer: ISO 8601, millisecond precision, UTC.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Level tags a LogEntry and decides which extra fields it carries.
type Level string

const (
	LevelLog     Level = "LOG"
	LevelWarning Level = "WARNING"
	LevelInfo    Level = "INFO"
	LevelSuccess Level = "SUCCESS"
	LevelDebug   Level = "DEBUG"

	LevelActivitySuccess     Level = "ACTIVITY_SUCCESS"
	LevelActivityFailed      Level = "ACTIVITY_FAILED"
	LevelActivityInterrupted Level = "ACTIVITY_INTERRUPTED"

	LevelError Level = "ERROR"
)

// LevelClass groups levels by the extra fields they imply.
type LevelClass int

const (
	ClassGeneric LevelClass = iota
	ClassActivity
	ClassError
)

// Class returns the field family implied by the level. Unrecognized
// levels are treated as generic.
func (l Level) Class() LevelClass {
	switch l {
	case LevelActivitySuccess, LevelActivityFailed, LevelActivityInterrupted:
		return ClassActivity
	case LevelError:
		return ClassError
	default:
		return ClassGeneric
	}
}

// Position is a line/column pair inside a source file.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column,omitempty"`
}

// Location is the span of an error inside FilePath.
type Location struct {
	Start Position  `json:"start"`
	End   *Position `json:"end,omitempty"`
}

// LogEntry is a transient or stateful log message. Which of the optional
// fields are meaningful depends on Level; see Normalized.
type LogEntry struct {
	Text      string
	Timestamp time.Time
	Level     Level
	Group     string // producer of a stateful entry, used for clearing

	// Activity result fields (ClassActivity).
	StatusText      string
	Duration        float64
	ActivityUUID    string
	ActivityType    ActivityType
	ActivityCurrent *int64
	ActivityTotal   *int64

	// Error fields (ClassError).
	Code     string
	Category string
	FilePath string
	Location *Location
	DocsURL  string
	Context  map[string]any
}

// Normalized returns a copy holding only the fields implied by the level.
// Error entries always get a non-nil Context.
func (e LogEntry) Normalized() LogEntry {
	out := LogEntry{
		Text:      e.Text,
		Timestamp: e.Timestamp.UTC(),
		Level:     e.Level,
		Group:     e.Group,
	}

	switch e.Level.Class() {
	case ClassActivity:
		out.StatusText = e.StatusText
		out.Duration = e.Duration
		out.ActivityUUID = e.ActivityUUID
		out.ActivityType = e.ActivityType
		out.ActivityCurrent = e.ActivityCurrent
		out.ActivityTotal = e.ActivityTotal
	case ClassError:
		out.Code = e.Code
		out.Category = e.Category
		out.FilePath = e.FilePath
		out.Location = e.Location
		out.DocsURL = e.DocsURL
		out.Context = e.Context
		if out.Context == nil {
			out.Context = map[string]any{}
		}
	case ClassGeneric:
	}

	return out
}

type logEntryJSON struct {
	Text      string          `json:"text"`
	Timestamp wireTime        `json:"timestamp"`
	Level     Level           `json:"level"`
	Group     string          `json:"group,omitempty"`
	StatusTxt string          `json:"statusText,omitempty"`
	Duration  *float64        `json:"duration,omitempty"`
	ActUUID   string          `json:"activity_uuid,omitempty"`
	ActType   string          `json:"activity_type,omitempty"`
	ActCur    *int64          `json:"activity_current,omitempty"`
	ActTotal  *int64          `json:"activity_total,omitempty"`
	Code      string          `json:"code,omitempty"`
	Category  string          `json:"type,omitempty"`
	FilePath  string          `json:"filePath,omitempty"`
	Location  *Location       `json:"location,omitempty"`
	DocsURL   string          `json:"docsUrl,omitempty"`
	Context   *map[string]any `json:"context,omitempty"`
}

// MarshalJSON encodes the normalized entry using the producer's keys.
func (e LogEntry) MarshalJSON() ([]byte, error) {
	n := e.Normalized()
	w := logEntryJSON{
		Text:      n.Text,
		Timestamp: wireTime(n.Timestamp),
		Level:     n.Level,
		Group:     n.Group,
	}

	switch n.Level.Class() {
	case ClassActivity:
		d := n.Duration
		w.StatusTxt = n.StatusText
		w.Duration = &d
		w.ActUUID = n.ActivityUUID
		w.ActType = string(n.ActivityType)
		w.ActCur = n.ActivityCurrent
		w.ActTotal = n.ActivityTotal
	case ClassError:
		w.Code = n.Code
		w.Category = n.Category
		w.FilePath = n.FilePath
		w.Location = n.Location
		w.DocsURL = n.DocsURL
		w.Context = &n.Context
	case ClassGeneric:
	}

	return json.Marshal(w)
}

// UnmarshalJSON decodes an entry as sent by the producer. Fields are taken
// as-is; interpretation is left to the reducer.
func (e *LogEntry) UnmarshalJSON(data []byte) error {
	var w logEntryJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("domain.LogEntry.UnmarshalJSON: %w", err)
	}

	*e = LogEntry{
		Text:            w.Text,
		Timestamp:       time.Time(w.Timestamp),
		Level:           w.Level,
		Group:           w.Group,
		StatusText:      w.StatusTxt,
		ActivityUUID:    w.ActUUID,
		ActivityType:    ActivityType(w.ActType),
		ActivityCurrent: w.ActCur,
		ActivityTotal:   w.ActTotal,
		Code:            w.Code,
		Category:        w.Category,
		FilePath:        w.FilePath,
		Location:        w.Location,
		DocsURL:         w.DocsURL,
	}
	if w.Duration != nil {
		e.Duration = *w.Duration
	}
	if w.Context != nil {
		e.Context = *w.Context
	}

	return nil
}

// wireTime reads any RFC 3339 timestamp and writes TimestampFormat.
type wireTime time.Time

func (t wireTime) MarshalJSON() ([]byte, error) {
	tt := time.Time(t)
	if tt.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(tt.UTC().Format(TimestampFormat))
}

func (t *wireTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*t = wireTime{}
		return nil
	}

	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	*t = wireTime(parsed.UTC())
	return nil
}
