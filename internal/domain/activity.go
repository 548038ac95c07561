package domain

// ActivityType decides how an activity is surfaced.
type ActivityType string

const (
	ActivityProgress ActivityType = "progress"
	ActivitySpinner  ActivityType = "spinner"
	ActivityPending  ActivityType = "pending"
	ActivityHidden   ActivityType = "hidden"
)

// ActivityStatus is the lifecycle state of one activity instance.
type ActivityStatus string

const (
	ActivityNotStarted  ActivityStatus = "NOT_STARTED"
	ActivityInProgress  ActivityStatus = "IN_PROGRESS"
	ActivitySucceeded   ActivityStatus = "SUCCESS"
	ActivityFailed      ActivityStatus = "FAILED"
	ActivityInterrupted ActivityStatus = "INTERRUPTED"
)

// Valid reports whether s is one of the known statuses.
func (s ActivityStatus) Valid() bool {
	switch s {
	case ActivityNotStarted, ActivityInProgress, ActivitySucceeded, ActivityFailed, ActivityInterrupted:
		return true
	default:
		return false
	}
}

// Activity is a tracked unit of work. ID is the stable human key the
// producer reuses across restarts; UUID identifies one instance.
type Activity struct {
	ID         string         `json:"id"`
	UUID       string         `json:"uuid"`
	Type       ActivityType   `json:"type"`
	Text       string         `json:"text"`
	Status     ActivityStatus `json:"status"`
	StatusText string         `json:"statusText,omitempty"`
	Duration   *float64       `json:"duration,omitempty"`
	Current    *int64         `json:"current,omitempty"`
	Total      *int64         `json:"total,omitempty"`
	// Ended is set by ACTIVITY_END and only by it. An updated status, even
	// a terminal one, leaves the instance open for its END.
	Ended bool `json:"ended,omitempty"`
}

// Running reports whether the instance is in progress and has not ended.
func (a Activity) Running() bool {
	return !a.Ended && a.Status == ActivityInProgress
}

// Category is the human-facing classification derived from Type.
type Category string

const (
	CategoryHidden   Category = "hidden"
	CategorySpinner  Category = "spinner"
	CategoryProgress Category = "progress"
)

// Category classifies the activity for a human-facing view. Pending and
// hidden activities are internal bookkeeping and never shown.
func (a Activity) Category() Category {
	switch a.Type {
	case ActivityProgress:
		return CategoryProgress
	case ActivitySpinner:
		return CategorySpinner
	default:
		return CategoryHidden
	}
}

// Visible reports whether a human-facing view should show the activity now.
func (a Activity) Visible() bool {
	return a.Category() != CategoryHidden && a.Running()
}
