package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestConversationKeyIsSymmetric(t *testing.T) {
	if ConversationKey("alice", "bob", "") != ConversationKey("bob", "alice", "") {
		t.Fatal("key must not depend on argument order")
	}
	if got := ConversationKey("bob", "alice", ""); got != "alice|bob" {
		t.Fatalf("key = %q, want alice|bob", got)
	}
}

func TestConversationKeyContextScope(t *testing.T) {
	plain := ConversationKey("alice", "bob", "")
	scoped := ConversationKey("alice", "bob", "task-42")
	if plain == scoped {
		t.Fatal("context-scoped conversation must be distinct from the unscoped one")
	}
	if got := ConversationKey("bob", "alice", "task-42"); got != scoped {
		t.Fatalf("scoped key not symmetric: %q vs %q", got, scoped)
	}
}

func TestValidateText(t *testing.T) {
	cases := []struct {
		name string
		text string
		want error
	}{
		{"ok", "hello", nil},
		{"empty", "", ErrEmptyText},
		{"whitespace only", "  \t\n ", ErrEmptyText},
		{"at limit", strings.Repeat("a", MaxTextLen), nil},
		{"over limit", strings.Repeat("a", MaxTextLen+1), ErrTextTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateText(tc.text)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("ValidateText(%q) = %v, want nil", tc.text, err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("ValidateText = %v, want %v", err, tc.want)
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatal("validation errors must wrap ErrValidation")
			}
		})
	}
}

func TestMessageBefore(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a := Message{ID: "a", CreatedAt: t0}
	b := Message{ID: "b", CreatedAt: t0.Add(time.Second)}
	if !a.Before(&b) || b.Before(&a) {
		t.Fatal("creation time must dominate ordering")
	}

	// Same instant falls back to id order.
	c := Message{ID: "c", CreatedAt: t0}
	if !a.Before(&c) || c.Before(&a) {
		t.Fatal("id must break creation-time ties")
	}
}

func TestCounterparty(t *testing.T) {
	m := Message{Sender: "alice", Recipient: "bob"}
	if got := m.Counterparty("alice"); got != "bob" {
		t.Fatalf("counterparty for sender = %q, want bob", got)
	}
	if got := m.Counterparty("bob"); got != "alice" {
		t.Fatalf("counterparty for recipient = %q, want alice", got)
	}
	if !m.Participant("alice") || !m.Participant("bob") || m.Participant("carol") {
		t.Fatal("participant check wrong")
	}
}
