// Package reducer folds log actions into a snapshot.
package reducer

import (
	"fmt"
	"maps"

	"github.com/gosuda/buildwatch/internal/domain"
)

// Reduce returns the snapshot that results from applying a to s. s is
// never modified; containers that change are copied first, unchanged ones
// are shared with the result.
//
// Anomalies (unknown or finished activity, stale instance, bad payload)
// return s unchanged together with an error wrapping the domain sentinel.
func Reduce(s domain.Snapshot, a domain.Action) (domain.Snapshot, error) {
	switch act := a.(type) {
	case domain.Log:
		s.Messages = appendEntry(s.Messages, act.Entry)
		return s, nil

	case domain.StatefulLog:
		s.StatefulMessages = appendEntry(s.StatefulMessages, act.Entry)
		return s, nil

	case domain.ClearStatefulLog:
		return clearGroup(s, act.Group), nil

	case domain.ActivityStart:
		return startActivity(s, act.Activity), nil

	case domain.ActivityUpdate:
		current, err := lookup(s, act.ID, act.UUID)
		if err != nil {
			return s, fmt.Errorf("reducer.Reduce(%s %q): %w", act.Kind(), act.ID, err)
		}
		if act.Status != nil && !act.Status.Valid() {
			return s, fmt.Errorf("reducer.Reduce(%s %q): status %q: %w", act.Kind(), act.ID, *act.Status, domain.ErrInvalidPayload)
		}
		return putActivity(s, act.ApplyTo(current)), nil

	case domain.ActivityEnd:
		current, err := lookup(s, act.ID, act.UUID)
		if err != nil {
			return s, fmt.Errorf("reducer.Reduce(%s %q): %w", act.Kind(), act.ID, err)
		}
		if !act.Status.Valid() {
			return s, fmt.Errorf("reducer.Reduce(%s %q): status %q: %w", act.Kind(), act.ID, act.Status, domain.ErrInvalidPayload)
		}
		d := act.Duration
		current.Status = act.Status
		current.Duration = &d
		current.Ended = true
		return putActivity(s, current), nil

	case domain.SetStatus:
		if !act.Status.Valid() {
			return s, fmt.Errorf("reducer.Reduce(%s): status %q: %w", act.Kind(), act.Status, domain.ErrInvalidPayload)
		}
		s.Status = act.Status
		return s, nil

	case domain.SetLogs:
		return act.Snapshot.Normalized(), nil

	default:
		return s, fmt.Errorf("reducer.Reduce(%T): %w", a, domain.ErrUnknownAction)
	}
}

// Replay folds actions into the initial snapshot, skipping anomalies.
// It returns the final snapshot and the number of skipped actions.
func Replay(actions []domain.Action) (domain.Snapshot, int) {
	s := domain.Initial()
	skipped := 0
	for _, a := range actions {
		next, err := Reduce(s, a)
		if err != nil {
			skipped++
			continue
		}
		s = next
	}
	return s, skipped
}

// appendEntry never writes into the backing array of entries, which may be
// shared with older snapshots.
func appendEntry(entries []domain.LogEntry, e domain.LogEntry) []domain.LogEntry {
	return append(entries[:len(entries):len(entries)], e.Normalized())
}

func clearGroup(s domain.Snapshot, group string) domain.Snapshot {
	kept := make([]domain.LogEntry, 0, len(s.StatefulMessages))
	for _, e := range s.StatefulMessages {
		if e.Group != group {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(s.StatefulMessages) {
		return s
	}
	s.StatefulMessages = kept
	return s
}

func startActivity(s domain.Snapshot, a domain.Activity) domain.Snapshot {
	a.Ended = false
	if a.Status == "" {
		a.Status = domain.ActivityInProgress
	}
	return putActivity(s, a)
}

func putActivity(s domain.Snapshot, a domain.Activity) domain.Snapshot {
	activities := maps.Clone(s.Activities)
	if activities == nil {
		activities = make(map[string]domain.Activity, 1)
	}
	activities[a.ID] = a
	s.Activities = activities
	return s
}

func lookup(s domain.Snapshot, id, uuid string) (domain.Activity, error) {
	current, ok := s.Activities[id]
	switch {
	case !ok:
		return domain.Activity{}, domain.ErrUnknownActivity
	case uuid != "" && current.UUID != "" && uuid != current.UUID:
		return domain.Activity{}, fmt.Errorf("instance %s, current %s: %w", uuid, current.UUID, domain.ErrStaleActivity)
	case current.Ended:
		return domain.Activity{}, domain.ErrActivityEnded
	default:
		return current, nil
	}
}
