package middleware

import (
	"context"
	"net/http"
	"strconv"

	"kindred-chat/internal/redis"
	"kindred-chat/internal/services"
	"kindred-chat/internal/transport/httpdto"
	"kindred-chat/pkg/logger"

	"github.com/gin-gonic/gin"
)

type ConnectionLimiter interface {
	AllowWebSocket(ctx context.Context, userID string) (*redis.RateLimitResult, error)
}

// WebSocketRateLimitMiddleware limits websocket connection attempts per user.
// Must run after AuthMiddleware. Limiter errors let the request through.
func WebSocketRateLimitMiddleware(limiter ConnectionLimiter, l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := services.UserIDFromContext(c.Request.Context())
		if !ok || limiter == nil {
			c.Next()
			return
		}

		result, err := limiter.AllowWebSocket(c.Request.Context(), userID)
		if err != nil {
			if l != nil {
				l.WithContext(c.Request.Context()).Warnf("websocket rate limit check: %v", err)
			}
			c.Next()
			return
		}

		setRateLimitHeaders(c, result)

		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, httpdto.NewErrorResponse("connection rate limit exceeded", "RATE_LIMITED"))
			c.Abort()
			return
		}

		c.Next()
	}
}

// setRateLimitHeaders sets standard rate limit response headers
func setRateLimitHeaders(c *gin.Context, result *redis.RateLimitResult) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(result.ResetIn.Seconds()), 10))
}
