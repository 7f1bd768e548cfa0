package handler

import (
	"net/http"

	"kindred-chat/internal/services"
	"kindred-chat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

// OnlineChecker answers presence for list rendering.
type OnlineChecker interface {
	IsOnline(userID string) bool
}

type ConversationHandler struct {
	service *services.ConversationService
	users   *services.UserDirectory
	online  OnlineChecker
}

func NewConversationHandler(service *services.ConversationService, users *services.UserDirectory, online OnlineChecker) *ConversationHandler {
	return &ConversationHandler{service: service, users: users, online: online}
}

func (h *ConversationHandler) Create(c *gin.Context) {
	var req httpdto.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "other_user_id is required")
		return
	}
	identity, ok := caller(c)
	if !ok {
		return
	}
	if err := h.users.EnsureUser(c.Request.Context(), identity); err != nil {
		fail(c, err)
		return
	}

	detail, err := h.service.GetOrCreateConversation(c.Request.Context(), identity.ID, req.OtherUserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromDetail(detail)))
}

func (h *ConversationHandler) List(c *gin.Context) {
	identity, ok := caller(c)
	if !ok {
		return
	}
	items, err := h.service.ListConversations(c.Request.Context(), identity.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromSummaries(items, h.isOnline)))
}

func (h *ConversationHandler) Delete(c *gin.Context) {
	conversationID, err := parseUUID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid conversation id")
		return
	}
	identity, ok := caller(c)
	if !ok {
		return
	}
	if err := h.service.DeleteConversation(c.Request.Context(), identity.ID, conversationID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse[any](nil))
}

func (h *ConversationHandler) isOnline(userID string) bool {
	return h.online != nil && h.online.IsOnline(userID)
}
