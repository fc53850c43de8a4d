package channel

import (
	"context"
	"sync"

	"github.com/taskhive/messaging/internal/config"
	"github.com/taskhive/messaging/pkg/log"
)

// Hub bridges websocket clients to the event channel. Each connected
// identity owns one broker handle; its events are forwarded to the socket
// as message_created frames. A new connection for an identity supersedes
// the previous one on this node.
type Hub struct {
	broker     EventChannel
	clients    map[string]*Client // identity -> active client
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	config     config.WebSocketConfig
}

// NewHub creates a hub on top of the given event channel.
func NewHub(broker EventChannel, cfg config.WebSocketConfig) *Hub {
	return &Hub{
		broker:     broker,
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		config:     cfg,
	}
}

// Run processes register/unregister events. Call in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if prev, ok := h.clients[client.Identity]; ok {
				prev.shutdown()
			}
			h.clients[client.Identity] = client
			h.mu.Unlock()
			l := log.L()
			l.Debug().Str(log.FieldUserID, client.Identity).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if cur, ok := h.clients[client.Identity]; ok && cur == client {
				delete(h.clients, client.Identity)
			}
			h.mu.Unlock()
			client.shutdown()
			l := log.L()
			l.Debug().Str(log.FieldUserID, client.Identity).Msg("client unregistered")
		}
	}
}

// Register attaches a client: obtains its broker handle and starts the
// event forwarding loop.
func (h *Hub) Register(ctx context.Context, client *Client) error {
	handle, err := h.broker.Connect(ctx, client.Identity)
	if err != nil {
		return err
	}
	client.handle = handle

	h.register <- client
	go client.forwardEvents()
	return nil
}

// Unregister detaches a client and releases its broker handle.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// ClientCount reports the number of connected identities on this node.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
