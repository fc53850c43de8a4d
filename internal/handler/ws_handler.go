package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/taskhive/messaging/internal/channel"
	"github.com/taskhive/messaging/internal/config"
	"github.com/taskhive/messaging/pkg/auth"
	"github.com/taskhive/messaging/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSHandler struct {
	hub   *channel.Hub
	wsCfg config.WebSocketConfig
}

func NewWSHandler(hub *channel.Hub, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:   hub,
		wsCfg: wsCfg,
	}
}

func (h *WSHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/chat/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades the connection and binds it to the authenticated
// identity. Reconnect is client-driven; a reconnect supersedes the previous
// connection for the identity on this node.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	identity := c.GetString(auth.ContextUserID)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := channel.NewClient(identity, h.hub, conn, h.wsCfg)
	if err := h.hub.Register(c.Request.Context(), client); err != nil {
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Str(log.FieldUserID, identity).Msg("failed to attach event channel")
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
