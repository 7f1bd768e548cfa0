package handler

import (
	"net/http"

	"kindred-chat/internal/services"
	"kindred-chat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type MessageHandler struct {
	service *services.MessageService
}

func NewMessageHandler(service *services.MessageService) *MessageHandler {
	return &MessageHandler{service: service}
}

func (h *MessageHandler) Send(c *gin.Context) {
	conversationID, err := parseUUID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid conversation id")
		return
	}
	var req httpdto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}
	identity, ok := caller(c)
	if !ok {
		return
	}

	in := services.SendMessageInput{
		ConversationID: conversationID,
		SenderID:       identity.ID,
		Body:           req.Body,
		Attachments:    req.Attachments,
	}
	if req.ReplyTo != "" {
		replyID, err := uuid.Parse(req.ReplyTo)
		if err != nil {
			badRequest(c, "invalid reply_to")
			return
		}
		in.ReplyToID = &replyID
	}

	msg, err := h.service.SendMessage(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(httpdto.FromMessage(msg)))
}

func (h *MessageHandler) List(c *gin.Context) {
	conversationID, err := parseUUID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid conversation id")
		return
	}
	before, err := parseTime(c.Query("before"))
	if err != nil {
		badRequest(c, "invalid before")
		return
	}
	limit, err := parseInt(c.Query("limit"))
	if err != nil {
		badRequest(c, "invalid limit")
		return
	}
	identity, ok := caller(c)
	if !ok {
		return
	}

	items, err := h.service.History(c.Request.Context(), conversationID, identity.ID, before, limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromMessages(items)))
}

func (h *MessageHandler) MarkRead(c *gin.Context) {
	conversationID, err := parseUUID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid conversation id")
		return
	}
	identity, ok := caller(c)
	if !ok {
		return
	}
	n, err := h.service.MarkAsRead(c.Request.Context(), conversationID, identity.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.MarkReadResponse{Updated: n}))
}

func (h *MessageHandler) MarkDelivered(c *gin.Context) {
	messageID, err := parseUUID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid message id")
		return
	}
	identity, ok := caller(c)
	if !ok {
		return
	}
	msg, err := h.service.MarkDelivered(c.Request.Context(), messageID, identity.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromMessage(msg)))
}

func (h *MessageHandler) Delete(c *gin.Context) {
	messageID, err := parseUUID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid message id")
		return
	}
	identity, ok := caller(c)
	if !ok {
		return
	}
	msg, err := h.service.DeleteMessage(c.Request.Context(), messageID, identity.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromMessage(msg)))
}
