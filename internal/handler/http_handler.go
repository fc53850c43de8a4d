package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/taskhive/messaging/internal/config"
	"github.com/taskhive/messaging/internal/domain"
	"github.com/taskhive/messaging/internal/service"
	"github.com/taskhive/messaging/pkg/auth"
	"github.com/taskhive/messaging/pkg/response"
)

type HTTPHandler struct {
	service service.MessageService
	history config.HistoryConfig
}

func NewHTTPHandler(svc service.MessageService, historyCfg config.HistoryConfig) *HTTPHandler {
	return &HTTPHandler{
		service: svc,
		history: historyCfg,
	}
}

func (h *HTTPHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/api/v1/conversations", h.ListConversations)
	r.GET("/api/v1/conversations/:counterparty/messages", h.GetMessages)
	r.POST("/api/v1/conversations/:counterparty/messages", h.SendMessage)
	r.POST("/api/v1/conversations/:counterparty/read", h.MarkAllRead)
	r.POST("/api/v1/messages/:id/read", h.MarkRead)
}

type sendRequest struct {
	Text      string `json:"text"`
	ContextID string `json:"context_id"`
}

func (h *HTTPHandler) SendMessage(c *gin.Context) {
	self := c.GetString(auth.ContextUserID)
	counterparty := c.Param("counterparty")

	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	msg, err := h.service.Send(c.Request.Context(), self, counterparty, req.Text, req.ContextID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, msg)
}

func (h *HTTPHandler) GetMessages(c *gin.Context) {
	self := c.GetString(auth.ContextUserID)
	counterparty := c.Param("counterparty")
	cursor := c.Query("cursor")
	contextID := c.Query("context_id")

	limit := h.history.DefaultLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			response.BadRequest(c, "limit must be a positive integer")
			return
		}
		limit = parsed
		if limit > h.history.MaxLimit {
			limit = h.history.MaxLimit
		}
	}

	page, err := h.service.History(c.Request.Context(), self, counterparty, contextID, cursor, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, page)
}

func (h *HTTPHandler) MarkRead(c *gin.Context) {
	self := c.GetString(auth.ContextUserID)
	messageID := c.Param("id")

	if err := h.service.MarkRead(c.Request.Context(), messageID, self); err != nil {
		h.writeError(c, err)
		return
	}
	response.NoContent(c)
}

func (h *HTTPHandler) MarkAllRead(c *gin.Context) {
	self := c.GetString(auth.ContextUserID)
	counterparty := c.Param("counterparty")
	contextID := c.Query("context_id")

	if err := h.service.MarkAllRead(c.Request.Context(), counterparty, self, contextID); err != nil {
		h.writeError(c, err)
		return
	}
	response.NoContent(c)
}

func (h *HTTPHandler) ListConversations(c *gin.Context) {
	self := c.GetString(auth.ContextUserID)

	summaries, err := h.service.Inbox(c.Request.Context(), self)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if summaries == nil {
		summaries = []domain.ConversationSummary{}
	}
	response.Success(c, summaries)
}

func (h *HTTPHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		response.BadRequest(c, err.Error())
	case errors.Is(err, domain.ErrAuthorization):
		response.Forbidden(c, err.Error())
	case errors.Is(err, domain.ErrUnavailable):
		response.Unavailable(c, "messaging backend unavailable")
	default:
		response.InternalError(c, "internal error")
	}
}
