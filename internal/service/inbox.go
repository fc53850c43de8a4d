package service

import (
	"context"

	"github.com/taskhive/messaging/internal/domain"
	"github.com/taskhive/messaging/pkg/log"
)

func (s *messageService) Inbox(ctx context.Context, identity string) ([]domain.ConversationSummary, error) {
	summaries, err := s.store.ListConversations(ctx, identity)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 || s.directory == nil {
		return summaries, nil
	}

	ids := make([]string, 0, len(summaries))
	for _, c := range summaries {
		ids = append(ids, c.Counterparty)
	}

	profiles, err := s.directory.GetBatch(ctx, ids)
	if err != nil {
		// Display info is decoration; the inbox stays usable without it.
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("failed to resolve counterparty profiles")
		return summaries, nil
	}

	for i := range summaries {
		if p, ok := profiles[summaries[i].Counterparty]; ok {
			summaries[i].DisplayName = p.DisplayName
			summaries[i].AvatarURL = p.AvatarURL
		}
	}
	return summaries, nil
}
