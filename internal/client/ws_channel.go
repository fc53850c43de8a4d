package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/taskhive/messaging/internal/channel"
	"github.com/taskhive/messaging/internal/domain"
	"github.com/taskhive/messaging/pkg/log"
)

// WSChannel implements the engine's EventChannel port over the service's
// websocket endpoint. Reconnect is caller-driven: when the handle's event
// stream closes, the caller decides whether to Connect again.
type WSChannel struct {
	wsURL string // e.g. "ws://host:8092/chat/ws"
	token string
}

// NewWSChannel creates a channel client.
func NewWSChannel(wsURL, token string) *WSChannel {
	return &WSChannel{wsURL: wsURL, token: token}
}

func (c *WSChannel) Connect(ctx context.Context, identity string) (channel.Handle, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket url: %w", err)
	}
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	h := &wsHandle{
		conn:   conn,
		events: make(chan *domain.Message, 64),
	}
	go h.pump()
	return h, nil
}

type wsHandle struct {
	conn   *websocket.Conn
	events chan *domain.Message
}

func (h *wsHandle) Events() <-chan *domain.Message {
	return h.events
}

func (h *wsHandle) Close() error {
	return h.conn.Close()
}

// pump decodes message_created frames onto the event stream until the
// connection drops, then closes Events. Keepalive pings from the server are
// answered by the connection's default ping handler.
func (h *wsHandle) pump() {
	defer close(h.events)

	for {
		_, data, err := h.conn.ReadMessage()
		if err != nil {
			return
		}

		var base domain.BaseMessage
		if err := json.Unmarshal(data, &base); err != nil {
			continue
		}
		if base.Type != domain.MsgTypeMessageCreated {
			continue
		}

		var evt domain.MessageCreatedEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			l := log.L()
			l.Warn().Err(err).Msg("dropping malformed message_created frame")
			continue
		}
		h.events <- &evt.Message
	}
}
