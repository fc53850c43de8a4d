package channel

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/taskhive/messaging/internal/config"
	"github.com/taskhive/messaging/internal/domain"
	"github.com/taskhive/messaging/pkg/log"
)

// Client is one websocket connection bound to an authenticated identity.
type Client struct {
	Identity string
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte

	handle Handle
	config config.WebSocketConfig

	mu     sync.Mutex
	closed bool
}

// NewClient wraps an upgraded websocket connection.
func NewClient(identity string, hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	return &Client{
		Identity: identity,
		Hub:      hub,
		Conn:     conn,
		Send:     make(chan []byte, 256),
		config:   cfg,
	}
}

// ReadPump consumes inbound frames. Sends happen over REST; the socket is
// push-only apart from keepalive pings.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				l := log.L()
				l.Debug().Err(err).Str(log.FieldUserID, c.Identity).Msg("websocket read error")
			}
			break
		}

		var base domain.BaseMessage
		if err := json.Unmarshal(message, &base); err != nil {
			c.SendEvent(domain.NewErrorEvent("BAD_REQUEST", "Invalid message format"))
			continue
		}

		switch base.Type {
		case domain.MsgTypePing:
			c.SendEvent(map[string]string{"type": domain.MsgTypePong})
		default:
			c.SendEvent(domain.NewErrorEvent("BAD_REQUEST", "Unknown message type"))
		}
	}
}

// WritePump flushes the send queue and keeps the connection alive.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// forwardEvents turns broker deliveries into message_created frames.
func (c *Client) forwardEvents() {
	for msg := range c.handle.Events() {
		c.SendEvent(domain.NewMessageCreatedEvent(*msg))
	}
}

// SendEvent queues a JSON frame, dropping it if the client is backed up.
// Serialized against shutdown: a superseded client's pumps may still try to
// queue frames after the hub replaced it.
func (c *Client) SendEvent(event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}

// shutdown releases the broker handle and closes the send queue exactly once.
func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.handle != nil {
		c.handle.Close()
	}
	close(c.Send)
}
