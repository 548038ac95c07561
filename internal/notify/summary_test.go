package notify_test

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/gosuda/buildwatch/internal/domain"
	"github.com/gosuda/buildwatch/internal/notify"
	"github.com/gosuda/buildwatch/internal/session"
)

func TestSummarize_Counts(t *testing.T) {
	t.Parallel()

	snap := failedSnapshot()
	snap.Activities = map[string]domain.Activity{
		"a": {ID: "a", Type: domain.ActivitySpinner, Status: domain.ActivitySucceeded},
		"b": {ID: "b", Type: domain.ActivityProgress, Status: domain.ActivitySucceeded},
		"c": {ID: "c", Type: domain.ActivitySpinner, Status: domain.ActivityFailed},
		"d": {ID: "d", Type: domain.ActivityProgress, Status: domain.ActivityInterrupted},
		"e": {ID: "e", Type: domain.ActivityHidden, Status: domain.ActivityFailed},
	}
	snap.StatefulMessages = []domain.LogEntry{
		{Text: "page error", Level: domain.LevelError, Group: "pages"},
		{Text: "page warning", Level: domain.LevelWarning, Group: "pages"},
	}

	s := notify.Summarize(endedInfo(1), snap)

	assert.Equal(t, "gatsby build", s.Name)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 1, s.Failed, "hidden activities are not counted")
	assert.Equal(t, 1, s.Interrupted)
	assert.Equal(t, 2, s.Errors)
	assert.Equal(t, 2, s.Warnings)
	assert.Equal(t, []string{"Cannot query field \"foo\"\n  at line 3", "page error"}, s.FirstErrors)
	assert.Equal(t, endedAt.Sub(startedAt), s.Duration)

	assert.Equal(t,
		":x: *gatsby build* failed (exit 1) in 12.3s\n"+
			"Activities: 2 succeeded, 1 failed, 1 interrupted\n"+
			"Messages: 2 errors, 2 warnings",
		s.Text())
}

func TestSummary_Verdict(t *testing.T) {
	t.Parallel()

	code := func(n int) *int { return &n }

	tests := []struct {
		name    string
		summary notify.Summary
		want    string
	}{
		{name: "cancelled wins", summary: notify.Summary{Outcome: session.StatusCancelled, Status: domain.StatusFailed}, want: "cancelled"},
		{name: "failed status", summary: notify.Summary{Status: domain.StatusFailed, ExitCode: code(0)}, want: "failed"},
		{name: "success status", summary: notify.Summary{Status: domain.StatusSuccess, ExitCode: code(0)}, want: "succeeded"},
		{name: "nonzero exit", summary: notify.Summary{Status: domain.StatusInProgress, ExitCode: code(2)}, want: "failed"},
		{name: "clean exit without status", summary: notify.Summary{Status: domain.StatusInProgress, ExitCode: code(0)}, want: "finished"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.summary.Verdict())
		})
	}
}

func TestSummary_ErrorDetails(t *testing.T) {
	t.Parallel()

	snap := domain.Initial()
	for i := range 7 {
		snap.Messages = append(snap.Messages, domain.LogEntry{Text: fmt.Sprintf("error %d", i), Level: domain.LevelError})
	}

	s := notify.Summarize(endedInfo(1), snap)
	assert.Len(t, s.FirstErrors, 5)
	assert.Equal(t,
		"*Errors*\n• error 0\n• error 1\n• error 2\n• error 3\n• error 4\n_…and 2 more_",
		s.ErrorDetails())

	assert.Empty(t, notify.Summarize(endedInfo(0), domain.Initial()).ErrorDetails())
}

func TestSummarize_UnnamedSession(t *testing.T) {
	t.Parallel()

	info := session.Info{ID: uuid.MustParse("12345678-0000-0000-0000-000000000000"), StartedAt: startedAt}
	s := notify.Summarize(info, domain.Initial())

	assert.Equal(t, "session 12345678", s.Name)
	assert.Zero(t, s.Duration)
	assert.Equal(t, ":warning: *session 12345678* finished\nActivities: 0 succeeded, 0 failed, 0 interrupted\nMessages: 0 errors, 0 warnings", s.Text())
	assert.Equal(t, ":hourglass_flowing_sand: *session 12345678* started", notify.StartText(info))
}
