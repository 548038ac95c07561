package notify_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/buildwatch/internal/notify"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	t.Run("keyed by platform", func(t *testing.T) {
		t.Parallel()

		slackMsg := &mockMessenger{platform: "slack"}
		reg := notify.NewRegistry(slackMsg, &mockMessenger{platform: "mattermost"})

		got, ok := reg.Get("slack")
		require.True(t, ok)
		assert.Same(t, slackMsg, got)
		assert.Equal(t, []string{"mattermost", "slack"}, reg.Platforms())
	})

	t.Run("unknown platform", func(t *testing.T) {
		t.Parallel()

		_, ok := notify.NewRegistry().Get("slack")
		assert.False(t, ok)
		assert.Empty(t, notify.NewRegistry().Platforms())
	})

	t.Run("later registration wins", func(t *testing.T) {
		t.Parallel()

		first := &mockMessenger{platform: "slack"}
		second := &mockMessenger{platform: "slack"}
		reg := notify.NewRegistry(first)
		reg.Register(second)

		got, ok := reg.Get("slack")
		require.True(t, ok)
		assert.Same(t, second, got)
		assert.Len(t, reg.Platforms(), 1)
	})
}
