package store

import (
	"context"

	"github.com/taskhive/messaging/internal/domain"
)

// Page is one slice of a conversation transcript. Messages are ordered
// ascending by the authoritative ordering (created-at, then id) and hold at
// most the requested limit; HasMore reports whether strictly older messages
// exist beyond the slice. A short page with HasMore=true is impossible by
// construction, so HasMore=false is the only end-of-history signal callers
// need.
type Page struct {
	Messages []domain.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// MessageStore is the durable, ordered persistence contract for direct
// messages.
type MessageStore interface {
	// Append validates and persists a message, assigning its id and
	// authoritative created-at timestamp.
	Append(ctx context.Context, sender, recipient, text, contextID string) (*domain.Message, error)

	// Page returns messages strictly older than cursor (the newest page when
	// cursor is empty) for the conversation between the two identities.
	Page(ctx context.Context, identityA, identityB, contextID, cursor string, limit int) (*Page, error)

	// MarkRead flips the read flag of one message. Idempotent; a no-op when
	// the message is already read or forIdentity is not its recipient.
	MarkRead(ctx context.Context, messageID, forIdentity string) error

	// MarkAllRead flips the read flag of every unread message forIdentity has
	// received from counterparty in the (optionally context-scoped)
	// conversation. Idempotent.
	MarkAllRead(ctx context.Context, counterparty, forIdentity, contextID string) error

	// ListConversations returns the most recent message per counterparty for
	// identity, newest first.
	ListConversations(ctx context.Context, identity string) ([]domain.ConversationSummary, error)

	Close() error
}
