package kafka

import (
	"context"

	"github.com/taskhive/messaging/internal/domain"
)

// MessageProducer publishes persisted messages to the event stream consumed
// by downstream pipelines (notifications, archival).
type MessageProducer interface {
	ProduceMessage(ctx context.Context, msg *domain.Message) error
	Close() error
}

// NoopProducer is wired when the kafka stream is disabled.
type NoopProducer struct{}

func (NoopProducer) ProduceMessage(ctx context.Context, msg *domain.Message) error { return nil }

func (NoopProducer) Close() error { return nil }
