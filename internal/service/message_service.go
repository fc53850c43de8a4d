package service

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/taskhive/messaging/internal/cache"
	"github.com/taskhive/messaging/internal/channel"
	"github.com/taskhive/messaging/internal/directory"
	"github.com/taskhive/messaging/internal/domain"
	"github.com/taskhive/messaging/internal/kafka"
	"github.com/taskhive/messaging/internal/store"
	"github.com/taskhive/messaging/pkg/log"
)

type messageService struct {
	store     store.MessageStore
	publisher channel.Publisher
	producer  kafka.MessageProducer
	directory ProfileResolver
	cache     cache.PageCache
	cacheTTL  time.Duration
	sf        singleflight.Group
}

// ProfileResolver is the slice of the profile directory the service needs.
type ProfileResolver interface {
	GetBatch(ctx context.Context, ids []string) (map[string]directory.Profile, error)
}

// NewMessageService wires the application layer.
func NewMessageService(
	st store.MessageStore,
	publisher channel.Publisher,
	producer kafka.MessageProducer,
	dir ProfileResolver,
	pageCache cache.PageCache,
	cacheTTL time.Duration,
) MessageService {
	return &messageService{
		store:     st,
		publisher: publisher,
		producer:  producer,
		directory: dir,
		cache:     pageCache,
		cacheTTL:  cacheTTL,
	}
}

func (s *messageService) Send(ctx context.Context, sender, recipient, text, contextID string) (*domain.Message, error) {
	msg, err := s.store.Append(ctx, sender, recipient, text, contextID)
	if err != nil {
		return nil, err
	}

	// Live fan-out is at-most-once; a failed publish only means the
	// participants catch up on their next page fetch.
	if err := s.publisher.Publish(ctx, msg); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldMessageID, msg.ID).Msg("failed to publish message event")
	}

	// Downstream event stream, fire-and-forget.
	if err := s.producer.ProduceMessage(ctx, msg); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldMessageID, msg.ID).Msg("failed to produce message to event stream")
	}

	return msg, nil
}

func (s *messageService) MarkRead(ctx context.Context, messageID, forIdentity string) error {
	return s.store.MarkRead(ctx, messageID, forIdentity)
}

func (s *messageService) MarkAllRead(ctx context.Context, counterparty, forIdentity, contextID string) error {
	return s.store.MarkAllRead(ctx, counterparty, forIdentity, contextID)
}

func (s *messageService) Close() error {
	return nil
}
