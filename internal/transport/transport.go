package transport

import (
	"context"
)

// Event is one normalized inbound message delivered by the transport.
type Event struct {
	ChatID        string
	MessageID     int64
	UserID        string
	Username      string
	Text          string
	ReplyToID     int64
	ReplyToUserID string
	Raw           map[string]any
}

// Transport is the messaging-platform boundary. Start returns an error when
// the session is invalid; that is the only condition that halts a worker.
type Transport interface {
	// Start connects and validates the session. Events are delivered on
	// Events() until Stop or ctx cancellation.
	Start(ctx context.Context) error
	Events() <-chan Event
	// Send delivers text to a chat and returns the platform message id.
	Send(ctx context.Context, chatID string, text string) (int64, error)
	// Me returns the username of the connected account (for mention detection).
	Me() string
	Stop() error
}
