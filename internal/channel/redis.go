package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskhive/messaging/internal/config"
	"github.com/taskhive/messaging/internal/domain"
	"github.com/taskhive/messaging/pkg/log"
)

const redisConnectTimeout = 5 * time.Second

// RedisBroker fans messageCreated events out across service instances via
// redis pub/sub, one channel per identity. Delivery keeps the at-most-once
// contract: nothing is retained for disconnected identities.
type RedisBroker struct {
	client *redis.Client
	prefix string
	buffer int

	mu      sync.Mutex
	handles map[string]*redisHandle
	closed  bool
}

// NewRedisBroker connects to redis and returns a broker.
func NewRedisBroker(cfg config.RedisConfig, prefix string, buffer int) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if buffer <= 0 {
		buffer = 64
	}
	return &RedisBroker{
		client:  client,
		prefix:  prefix,
		buffer:  buffer,
		handles: make(map[string]*redisHandle),
	}, nil
}

func (b *RedisBroker) channelFor(identity string) string {
	return fmt.Sprintf("%s:%s", b.prefix, identity)
}

func (b *RedisBroker) Publish(ctx context.Context, msg *domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message event: %w", err)
	}

	if err := b.client.Publish(ctx, b.channelFor(msg.Sender), data).Err(); err != nil {
		return fmt.Errorf("failed to publish message event: %w", err)
	}
	if msg.Recipient != msg.Sender {
		if err := b.client.Publish(ctx, b.channelFor(msg.Recipient), data).Err(); err != nil {
			return fmt.Errorf("failed to publish message event: %w", err)
		}
	}
	return nil
}

func (b *RedisBroker) Connect(ctx context.Context, identity string) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrChannelClosed
	}
	if prev, ok := b.handles[identity]; ok {
		prev.stop()
	}

	sub := b.client.Subscribe(context.Background(), b.channelFor(identity))
	h := &redisHandle{
		broker:   b,
		identity: identity,
		sub:      sub,
		events:   make(chan *domain.Message, b.buffer),
	}
	b.handles[identity] = h

	go h.pump()
	return h, nil
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, h := range b.handles {
		h.stop()
	}
	b.handles = make(map[string]*redisHandle)
	return b.client.Close()
}

func (b *RedisBroker) remove(h *redisHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.handles[h.identity]; ok && cur == h {
		delete(b.handles, h.identity)
	}
}

type redisHandle struct {
	broker   *RedisBroker
	identity string
	sub      *redis.PubSub
	events   chan *domain.Message
	once     sync.Once
}

func (h *redisHandle) Events() <-chan *domain.Message {
	return h.events
}

func (h *redisHandle) Close() error {
	h.broker.remove(h)
	h.stop()
	return nil
}

func (h *redisHandle) stop() {
	h.once.Do(func() {
		h.sub.Close()
	})
}

// pump decodes pub/sub payloads onto the event stream. It exits when the
// subscription closes, which also closes Events.
func (h *redisHandle) pump() {
	defer close(h.events)

	for msg := range h.sub.Channel() {
		var m domain.Message
		if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
			l := log.L()
			l.Warn().Err(err).Str(log.FieldUserID, h.identity).Msg("dropping malformed message event")
			continue
		}
		select {
		case h.events <- &m:
		default:
			l := log.L()
			l.Warn().Str(log.FieldUserID, h.identity).Str(log.FieldMessageID, m.ID).Msg("event buffer full, dropping delivery")
		}
	}
}
