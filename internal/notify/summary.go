package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/gosuda/buildwatch/internal/domain"
	"github.com/gosuda/buildwatch/internal/session"
)

// maxListedErrors caps the error texts carried by a Summary.
const maxListedErrors = 5

// Summary condenses a finished session for a chat message.
type Summary struct {
	Name     string
	Outcome  session.Status
	Status   domain.GlobalStatus
	ExitCode *int
	Duration time.Duration

	Succeeded   int
	Failed      int
	Interrupted int

	Errors   int
	Warnings int
	// FirstErrors holds the texts of the first error entries, oldest first.
	FirstErrors []string
}

// Summarize builds the summary of a session from its info and final
// snapshot. Hidden activities are not counted.
func Summarize(info session.Info, snap domain.Snapshot) Summary {
	s := Summary{
		Name:     displayName(info),
		Outcome:  info.Status,
		Status:   snap.Status,
		ExitCode: info.ExitCode,
	}
	if info.EndedAt != nil {
		s.Duration = info.EndedAt.Sub(info.StartedAt)
	}

	for _, a := range snap.Activities {
		if a.Category() == domain.CategoryHidden {
			continue
		}
		switch a.Status {
		case domain.ActivitySucceeded:
			s.Succeeded++
		case domain.ActivityFailed:
			s.Failed++
		case domain.ActivityInterrupted:
			s.Interrupted++
		case domain.ActivityNotStarted, domain.ActivityInProgress:
		}
	}

	count := func(entries []domain.LogEntry) {
		for _, e := range entries {
			switch e.Level {
			case domain.LevelError:
				s.Errors++
				if len(s.FirstErrors) < maxListedErrors {
					s.FirstErrors = append(s.FirstErrors, e.Text)
				}
			case domain.LevelWarning:
				s.Warnings++
			default:
			}
		}
	}
	count(snap.Messages)
	count(snap.StatefulMessages)

	return s
}

func displayName(info session.Info) string {
	if info.Name != "" {
		return info.Name
	}
	return "session " + info.ID.String()[:8]
}

// Verdict is the one-word outcome shown in the headline.
func (s Summary) Verdict() string {
	switch {
	case s.Outcome == session.StatusCancelled:
		return "cancelled"
	case s.Status == domain.StatusFailed:
		return "failed"
	case s.Status == domain.StatusSuccess:
		return "succeeded"
	case s.ExitCode != nil && *s.ExitCode != 0:
		return "failed"
	default:
		return "finished"
	}
}

func (s Summary) icon() string {
	switch s.Verdict() {
	case "succeeded":
		return ":white_check_mark:"
	case "failed":
		return ":x:"
	default:
		return ":warning:"
	}
}

// Text renders the summary as Slack-flavoured markdown.
func (s Summary) Text() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s *%s* %s", s.icon(), s.Name, s.Verdict())
	if s.ExitCode != nil {
		fmt.Fprintf(&b, " (exit %d)", *s.ExitCode)
	}
	if s.Duration > 0 {
		fmt.Fprintf(&b, " in %s", s.Duration.Round(100*time.Millisecond))
	}

	fmt.Fprintf(&b, "\nActivities: %d succeeded, %d failed, %d interrupted", s.Succeeded, s.Failed, s.Interrupted)
	fmt.Fprintf(&b, "\nMessages: %d %s, %d %s",
		s.Errors, plural(s.Errors, "error", "errors"),
		s.Warnings, plural(s.Warnings, "warning", "warnings"))

	return b.String()
}

// ErrorDetails renders the listed error texts, or "" when there are none.
func (s Summary) ErrorDetails() string {
	if len(s.FirstErrors) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("*Errors*")
	for _, text := range s.FirstErrors {
		b.WriteString("\n• ")
		b.WriteString(firstLine(text))
	}
	if more := s.Errors - len(s.FirstErrors); more > 0 {
		fmt.Fprintf(&b, "\n_…and %d more_", more)
	}
	return b.String()
}

// StartText is posted when a session starts and replaced by the summary
// when it ends.
func StartText(info session.Info) string {
	return fmt.Sprintf(":hourglass_flowing_sand: *%s* started", displayName(info))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
