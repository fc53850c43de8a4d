package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/taskhive/messaging/internal/domain"
)

// Memory is an in-process MessageStore. It backs the test suite and
// single-binary deployments; the Cassandra store is the production driver.
type Memory struct {
	mu            sync.Mutex
	conversations map[string][]*domain.Message // conversation key -> ascending transcript
	seq           uint64
	now           func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string][]*domain.Message),
		now:           time.Now,
	}
}

func (s *Memory) Append(ctx context.Context, sender, recipient, text, contextID string) (*domain.Message, error) {
	if err := domain.ValidateText(text); err != nil {
		return nil, err
	}
	if sender == recipient {
		return nil, domain.ErrSelfMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	msg := &domain.Message{
		// Zero-padded so lexicographic id order matches assignment order,
		// mirroring the timeuuid ordering of the Cassandra store.
		ID:              fmt.Sprintf("%024d", s.seq),
		ConversationKey: domain.ConversationKey(sender, recipient, contextID),
		Sender:          sender,
		Recipient:       recipient,
		Text:            text,
		ContextID:       contextID,
		CreatedAt:       s.now().UTC(),
	}

	s.conversations[msg.ConversationKey] = append(s.conversations[msg.ConversationKey], msg)
	out := *msg
	return &out, nil
}

func (s *Memory) Page(ctx context.Context, identityA, identityB, contextID, cursor string, limit int) (*Page, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	transcript := s.conversations[domain.ConversationKey(identityA, identityB, contextID)]

	// Slice strictly older than the cursor.
	end := len(transcript)
	if cursor != "" {
		end = sort.Search(len(transcript), func(i int) bool {
			return transcript[i].ID >= cursor
		})
	}

	start := end - limit
	if start < 0 {
		start = 0
	}

	page := &Page{HasMore: start > 0}
	for _, m := range transcript[start:end] {
		page.Messages = append(page.Messages, *m)
	}
	return page, nil
}

func (s *Memory) MarkRead(ctx context.Context, messageID, forIdentity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, transcript := range s.conversations {
		for _, m := range transcript {
			if m.ID == messageID {
				if m.Recipient == forIdentity {
					m.Read = true
				}
				return nil
			}
		}
	}
	return nil
}

func (s *Memory) MarkAllRead(ctx context.Context, counterparty, forIdentity, contextID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.conversations[domain.ConversationKey(counterparty, forIdentity, contextID)] {
		if m.Recipient == forIdentity {
			m.Read = true
		}
	}
	return nil
}

func (s *Memory) ListConversations(ctx context.Context, identity string) ([]domain.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var summaries []domain.ConversationSummary
	for _, transcript := range s.conversations {
		if len(transcript) == 0 {
			continue
		}
		last := transcript[len(transcript)-1]
		if !last.Participant(identity) {
			continue
		}
		summaries = append(summaries, domain.ConversationSummary{
			Counterparty:  last.Counterparty(identity),
			ContextID:     last.ContextID,
			LastMessage:   last.Text,
			LastSender:    last.Sender,
			LastMessageAt: last.CreatedAt,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastMessageAt.After(summaries[j].LastMessageAt)
	})
	return summaries, nil
}

func (s *Memory) Close() error {
	return nil
}
