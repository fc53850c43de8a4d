package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taskhive/messaging/internal/cache"
	"github.com/taskhive/messaging/internal/domain"
	"github.com/taskhive/messaging/internal/store"
	"github.com/taskhive/messaging/pkg/log"
)

func (s *messageService) History(ctx context.Context, self, counterparty, contextID, cursor string, limit int) (*store.Page, error) {
	// The newest page changes on every send and carries live read flags;
	// fetch it directly to avoid caching volatile results.
	if cursor == "" || s.cache == nil {
		return s.store.Page(ctx, self, counterparty, contextID, cursor, limit)
	}

	conversationKey := domain.ConversationKey(self, counterparty, contextID)
	cacheKey := s.cache.BuildKey(conversationKey, cursor, limit)

	// Coalesce concurrent requests for the same settled page.
	result, err, _ := s.sf.Do(cacheKey, func() (interface{}, error) {
		return s.fetchWithCache(ctx, self, counterparty, contextID, cursor, limit, cacheKey)
	})
	if err != nil {
		return nil, err
	}

	page, ok := result.(*store.Page)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}
	return page, nil
}

func (s *messageService) fetchWithCache(ctx context.Context, self, counterparty, contextID, cursor string, limit int, cacheKey string) (*store.Page, error) {
	cached, err := s.cache.Get(ctx, cacheKey)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("page cache get error")
	}

	page, err := s.store.Page(ctx, self, counterparty, contextID, cursor, limit)
	if err != nil {
		return nil, err
	}

	// Store in cache without blocking the response.
	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.cache.Set(cacheCtx, cacheKey, page, s.cacheTTL); err != nil {
			l := log.L()
			l.Warn().Err(err).Msg("page cache set error")
		}
	}()

	return page, nil
}
