package domain

import (
	"fmt"
	"strings"
	"time"
)

// MaxTextLen bounds message text. Longer input is rejected, never truncated.
const MaxTextLen = 4096

// Message is a direct message between two identities. IDs are assigned by
// the message store on persist; before that a client may hold a local
// pending id (see session.PendingIDPrefix) which never collides with a
// store-assigned id.
type Message struct {
	ID              string    `json:"id"`
	ConversationKey string    `json:"conversation_key"`
	Sender          string    `json:"sender_id"`
	Recipient       string    `json:"recipient_id"`
	Text            string    `json:"text"`
	Read            bool      `json:"read"`
	ContextID       string    `json:"context_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Participant reports whether identity is the sender or the recipient.
func (m *Message) Participant(identity string) bool {
	return identity == m.Sender || identity == m.Recipient
}

// Counterparty returns the other participant relative to identity.
func (m *Message) Counterparty(identity string) string {
	if identity == m.Sender {
		return m.Recipient
	}
	return m.Sender
}

// Before reports whether m precedes other in the authoritative ordering:
// created-at ascending, ties broken by store-assigned id.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// ConversationKey derives the deterministic key for the unordered identity
// pair, optionally scoped to a context entity (e.g. a posted listing).
func ConversationKey(identityA, identityB, contextID string) string {
	lo, hi := identityA, identityB
	if lo > hi {
		lo, hi = hi, lo
	}
	if contextID != "" {
		return fmt.Sprintf("ctx:%s:%s|%s", contextID, lo, hi)
	}
	return fmt.Sprintf("%s|%s", lo, hi)
}

// ValidateText checks message text before any network or storage call.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if len(text) > MaxTextLen {
		return ErrTextTooLong
	}
	return nil
}

// ConversationSummary is one inbox entry: the most recent message exchanged
// with a counterparty, plus display info resolved from the profile directory.
type ConversationSummary struct {
	Counterparty  string    `json:"counterparty_id"`
	DisplayName   string    `json:"display_name,omitempty"`
	AvatarURL     string    `json:"avatar_url,omitempty"`
	ContextID     string    `json:"context_id,omitempty"`
	LastMessage   string    `json:"last_message"`
	LastSender    string    `json:"last_sender_id"`
	LastMessageAt time.Time `json:"last_message_at"`
}
