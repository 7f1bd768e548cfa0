package handler

import (
	"net/http"

	"kindred-chat/internal/presence"
	"kindred-chat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

type PresenceHandler struct {
	online *presence.OnlineSet
}

func NewPresenceHandler(online *presence.OnlineSet) *PresenceHandler {
	return &PresenceHandler{online: online}
}

func (h *PresenceHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.PresenceResponse{Online: h.online.Online()}))
}

func (h *PresenceHandler) Get(c *gin.Context) {
	userID := c.Param("user_id")
	resp := httpdto.UserPresenceResponse{UserID: userID}
	if member, ok := h.online.Member(userID); ok {
		resp.Online = true
		resp.DisplayName = member.DisplayName
		since := member.Timestamp
		resp.Since = &since
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(resp))
}
