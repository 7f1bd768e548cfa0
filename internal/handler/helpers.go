package handler

import (
	"net/http"
	"strconv"
	"time"

	"kindred-chat/internal/domain/user"
	"kindred-chat/internal/services"
	"kindred-chat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func fail(c *gin.Context, err error) {
	c.JSON(httpdto.FromError(err))
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse(msg, "VALIDATION_ERROR"))
}

// caller returns the authenticated identity or writes a 401.
func caller(c *gin.Context) (user.Identity, bool) {
	identity, ok := services.IdentityFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthenticated", "UNAUTHENTICATED"))
		return user.Identity{}, false
	}
	return identity, true
}

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(value)
}

func parseInt(value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}

// parseTime accepts RFC 3339; empty means no bound.
func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}
