package middleware

import (
	"net/http"

	"kindred-chat/internal/transport/httpdto"
	"kindred-chat/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ErrorHandler renders the last error a handler attached with c.Error.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		status, body := httpdto.FromError(err)
		if l != nil && status >= http.StatusInternalServerError {
			l.WithContext(c.Request.Context()).Errorf("request error: %s", err.Error())
		}
		c.JSON(status, body)
	}
}
