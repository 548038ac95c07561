// Package slack posts session notifications to Slack.
package slack

import (
	"context"
	"fmt"

	slacklib "github.com/slack-go/slack"

	"github.com/gosuda/buildwatch/internal/messenger"
)

// Platform is the registry name of the Slack messenger.
const Platform = "slack"

// SlackAPI abstracts the subset of the Slack client used by SlackMessenger.
// This allows testing without real HTTP calls.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slacklib.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slacklib.MsgOption) (string, string, string, error)
}

// SlackMessenger implements messenger.Messenger for Slack.
type SlackMessenger struct {
	api SlackAPI
}

// Compile-time interface check.
var _ messenger.Messenger = (*SlackMessenger)(nil) //nolint:gochecknoglobals // compile-time check

// NewSlackMessenger creates a SlackMessenger with the given API client.
func NewSlackMessenger(api SlackAPI) *SlackMessenger {
	return &SlackMessenger{api: api}
}

// New creates a SlackMessenger backed by a real client for botToken.
func New(botToken string) *SlackMessenger {
	return NewSlackMessenger(slacklib.New(botToken))
}

func textOptions(text string) []slacklib.MsgOption {
	return []slacklib.MsgOption{
		slacklib.MsgOptionText(text, false),
		slacklib.MsgOptionBlocks(BuildTextBlocks(text)...),
	}
}

// SendMessage posts a text message to a Slack channel and returns the message timestamp as MessageID.
func (m *SlackMessenger) SendMessage(ctx context.Context, channelID, text string) (messenger.MessageID, error) {
	_, ts, err := m.api.PostMessageContext(ctx, channelID, textOptions(text)...)
	if err != nil {
		return "", fmt.Errorf("slack.SlackMessenger.SendMessage: %w", err)
	}

	return messenger.MessageID(ts), nil
}

// CreateThread starts a threaded reply under a parent message.
func (m *SlackMessenger) CreateThread(ctx context.Context, channelID string, parentID messenger.MessageID, text string) (messenger.ThreadID, error) {
	opts := append([]slacklib.MsgOption{slacklib.MsgOptionTS(string(parentID))}, textOptions(text)...)

	_, ts, err := m.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return "", fmt.Errorf("slack.SlackMessenger.CreateThread: %w", err)
	}

	return messenger.ThreadID(ts), nil
}

// UpdateMessage edits an existing Slack message.
func (m *SlackMessenger) UpdateMessage(ctx context.Context, channelID string, messageID messenger.MessageID, text string) error {
	_, _, _, err := m.api.UpdateMessageContext(ctx, channelID, string(messageID), textOptions(text)...)
	if err != nil {
		return fmt.Errorf("slack.SlackMessenger.UpdateMessage: %w", err)
	}

	return nil
}

// Platform returns the messenger platform identifier.
func (m *SlackMessenger) Platform() string {
	return Platform
}
