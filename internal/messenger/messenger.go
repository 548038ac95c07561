// Package messenger abstracts the chat platforms session notifications are
// posted to.
package messenger

import "context"

// MessageID is a platform message reference, a timestamp on Slack.
type MessageID string

// ThreadID is the reference of a reply posted under a message.
type ThreadID string

// Messenger posts build notifications to one chat platform.
type Messenger interface {
	// SendMessage posts text to channelID and returns the new message.
	SendMessage(ctx context.Context, channelID, text string) (MessageID, error)

	// CreateThread replies to parentID.
	CreateThread(ctx context.Context, channelID string, parentID MessageID, text string) (ThreadID, error)

	// UpdateMessage replaces the text of a posted message.
	UpdateMessage(ctx context.Context, channelID string, messageID MessageID, text string) error

	// Platform is the registry key, for example "slack".
	Platform() string
}
