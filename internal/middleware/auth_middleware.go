package middleware

import (
	"net/http"
	"strings"

	"kindred-chat/internal/domain/user"
	"kindred-chat/internal/services"
	"kindred-chat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

// TokenVerifier resolves a bearer token into the caller's identity.
type TokenVerifier interface {
	Verify(token string) (user.Identity, error)
}

// AuthMiddleware accepts "Authorization: Bearer" and, for websocket upgrades
// where browsers cannot set headers, a token query parameter.
func AuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c)
		if token == "" {
			token = c.Query("token")
		}
		identity, err := verifier.Verify(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthenticated", "UNAUTHENTICATED"))
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(services.WithIdentity(c.Request.Context(), identity))
		c.Next()
	}
}

func extractBearer(c *gin.Context) string {
	value := c.GetHeader("Authorization")
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
