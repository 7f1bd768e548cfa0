package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"kindred-chat/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	requestIDHeader    = "X-Request-Id"
	maxInboundIDLength = 64
)

// RequestIDMiddleware propagates a caller supplied request id when it looks
// sane and mints one otherwise. The id lands in the response header and in
// the context used by the logger.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if !validRequestID(requestID) {
			requestID = newRequestID()
		}
		c.Writer.Header().Set(requestIDHeader, requestID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), logger.RequestIdKey, requestID))
		c.Next()
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxInboundIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// newRequestID returns 32 hex characters.
func newRequestID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}
