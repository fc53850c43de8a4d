package channel

import (
	"context"
	"errors"

	"github.com/taskhive/messaging/internal/domain"
)

// ErrChannelClosed is returned by Publish after the broker shuts down.
var ErrChannelClosed = errors.New("event channel closed")

// Handle is a live push session bound to one identity. Events delivers every
// messageCreated where the identity is sender or recipient — the sender's
// own channel also receives its own confirmed messages, which the session
// engine relies on for pending reconciliation.
//
// Delivery is at-most-once while connected: events raised while disconnected
// are not replayed, and the engine's page fetch is the sole catch-up path.
type Handle interface {
	Events() <-chan *domain.Message
	Close() error
}

// EventChannel establishes push sessions. At most one active handle per
// identity per process: a second Connect for the same identity supersedes
// the first.
type EventChannel interface {
	Connect(ctx context.Context, identity string) (Handle, error)
}

// Publisher fans a confirmed message out to the live handles of both
// participants.
type Publisher interface {
	Publish(ctx context.Context, msg *domain.Message) error
}

// Broker is the full broker side of the event channel.
type Broker interface {
	EventChannel
	Publisher
	Close() error
}
