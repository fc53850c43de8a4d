package channel

import (
	"context"
	"sync"

	"github.com/taskhive/messaging/internal/domain"
	"github.com/taskhive/messaging/pkg/log"
)

// LocalBroker is the in-process event channel: single-node deployments and
// the test suite run on it, the redis broker covers multi-node fan-out.
type LocalBroker struct {
	mu      sync.Mutex
	handles map[string]*localHandle // identity -> active handle
	buffer  int
	closed  bool
}

// NewLocalBroker creates a broker whose handles buffer up to buffer events.
func NewLocalBroker(buffer int) *LocalBroker {
	if buffer <= 0 {
		buffer = 64
	}
	return &LocalBroker{
		handles: make(map[string]*localHandle),
		buffer:  buffer,
	}
}

func (b *LocalBroker) Connect(ctx context.Context, identity string) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrChannelClosed
	}

	// One active handle per identity per process.
	if prev, ok := b.handles[identity]; ok {
		prev.detach()
	}

	h := &localHandle{
		broker:   b,
		identity: identity,
		events:   make(chan *domain.Message, b.buffer),
	}
	b.handles[identity] = h
	return h, nil
}

func (b *LocalBroker) Publish(ctx context.Context, msg *domain.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrChannelClosed
	}

	b.deliver(msg.Sender, msg)
	if msg.Recipient != msg.Sender {
		b.deliver(msg.Recipient, msg)
	}
	return nil
}

// deliver is non-blocking: a full handle buffer drops the event, which the
// at-most-once contract permits.
func (b *LocalBroker) deliver(identity string, msg *domain.Message) {
	h, ok := b.handles[identity]
	if !ok {
		return
	}
	select {
	case h.events <- msg:
	default:
		l := log.L()
		l.Warn().Str(log.FieldUserID, identity).Str(log.FieldMessageID, msg.ID).Msg("event buffer full, dropping delivery")
	}
}

func (b *LocalBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, h := range b.handles {
		h.detach()
	}
	b.handles = make(map[string]*localHandle)
	return nil
}

func (b *LocalBroker) remove(h *localHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.handles[h.identity]; ok && cur == h {
		delete(b.handles, h.identity)
	}
}

type localHandle struct {
	broker   *LocalBroker
	identity string
	events   chan *domain.Message
	once     sync.Once
}

func (h *localHandle) Events() <-chan *domain.Message {
	return h.events
}

func (h *localHandle) Close() error {
	h.broker.remove(h)
	h.detach()
	return nil
}

// detach closes the event stream. Guarded so a superseded handle closed by
// its owner does not panic.
func (h *localHandle) detach() {
	h.once.Do(func() { close(h.events) })
}
