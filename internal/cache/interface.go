package cache

import (
	"context"
	"errors"
	"time"

	"github.com/taskhive/messaging/internal/store"
)

var ErrCacheMiss = errors.New("cache miss")

// PageCache caches settled (non-newest) transcript pages.
type PageCache interface {
	Get(ctx context.Context, key string) (*store.Page, error)
	Set(ctx context.Context, key string, page *store.Page, ttl time.Duration) error
	BuildKey(conversationKey, cursor string, limit int) string
	Close() error
}
