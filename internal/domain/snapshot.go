package domain

import (
	"maps"
	"slices"
	"strings"
)

// GlobalStatus is the overall state of the build.
type GlobalStatus string

const (
	StatusInProgress GlobalStatus = "IN_PROGRESS"
	StatusFailed     GlobalStatus = "FAILED"
	StatusSuccess    GlobalStatus = "SUCCESS"
)

// Valid reports whether s is a known global status.
func (s GlobalStatus) Valid() bool {
	return s == StatusInProgress || s == StatusFailed || s == StatusSuccess
}

// Snapshot is the aggregate state folded from the action stream.
//
// Snapshots handed out by the store are shared, never mutated in place;
// callers that need to modify one must Clone it first.
type Snapshot struct {
	Messages         []LogEntry          `json:"messages"`
	StatefulMessages []LogEntry          `json:"statefulMessages"`
	Activities       map[string]Activity `json:"activities"`
	Status           GlobalStatus        `json:"status"`
}

// Initial returns the snapshot a session starts from. The producer never
// announces the initial IN_PROGRESS status, so it is seeded here.
func Initial() Snapshot {
	return Snapshot{
		Messages:         []LogEntry{},
		StatefulMessages: []LogEntry{},
		Activities:       map[string]Activity{},
		Status:           StatusInProgress,
	}
}

// Normalized fills nil containers and a missing status with their initial
// values.
func (s Snapshot) Normalized() Snapshot {
	if s.Messages == nil {
		s.Messages = []LogEntry{}
	}
	if s.StatefulMessages == nil {
		s.StatefulMessages = []LogEntry{}
	}
	if s.Activities == nil {
		s.Activities = map[string]Activity{}
	}
	if s.Status == "" {
		s.Status = StatusInProgress
	}
	return s
}

// Clone returns a copy whose containers can be modified freely.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		Messages:         slices.Clone(s.Messages),
		StatefulMessages: slices.Clone(s.StatefulMessages),
		Activities:       maps.Clone(s.Activities),
		Status:           s.Status,
	}.Normalized()
}

// VisibleActivities returns the in-progress, human-facing activities
// ordered by id.
func (s Snapshot) VisibleActivities() []Activity {
	out := make([]Activity, 0, len(s.Activities))
	for _, a := range s.Activities {
		if a.Visible() {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b Activity) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// SortedActivities returns every activity ordered by id.
func (s Snapshot) SortedActivities() []Activity {
	ids := slices.Sorted(maps.Keys(s.Activities))
	out := make([]Activity, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.Activities[id])
	}
	return out
}

// StatefulGroup returns the stateful entries produced by group, in order.
func (s Snapshot) StatefulGroup(group string) []LogEntry {
	var out []LogEntry
	for _, e := range s.StatefulMessages {
		if e.Group == group {
			out = append(out, e)
		}
	}
	return out
}
