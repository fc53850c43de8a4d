package service

import (
	"context"

	"github.com/taskhive/messaging/internal/domain"
	"github.com/taskhive/messaging/internal/store"
)

// MessageService is the server-side application layer behind the REST and
// websocket surfaces.
type MessageService interface {
	// Send validates, persists, and fans out one message from sender.
	Send(ctx context.Context, sender, recipient, text, contextID string) (*domain.Message, error)

	// History returns one transcript page, newest page when cursor is empty.
	History(ctx context.Context, self, counterparty, contextID, cursor string, limit int) (*store.Page, error)

	// MarkRead acknowledges one message for forIdentity.
	MarkRead(ctx context.Context, messageID, forIdentity string) error

	// MarkAllRead acknowledges every unread message from counterparty.
	MarkAllRead(ctx context.Context, counterparty, forIdentity, contextID string) error

	// Inbox lists the most recent conversation per counterparty, enriched
	// with display info from the profile directory.
	Inbox(ctx context.Context, identity string) ([]domain.ConversationSummary, error)

	Close() error
}
