package middleware

import (
	"net/http"
	"time"

	"kindred-chat/pkg/logger"

	"github.com/gin-gonic/gin"
)

// LoggingMiddleware logs one line per request. Health-check endpoints log at debug,
// server errors at error level.
func LoggingMiddleware(l *logger.Logger) gin.HandlerFunc {
	if l == nil {
		l = logger.GetGlobalLogger()
	}
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		if l == nil {
			return
		}
		status := c.Writer.Status()
		log := l.WithContext(c.Request.Context())
		line := "%s %s %d %s"
		args := []interface{}{c.Request.Method, path, status, time.Since(start).String()}
		switch {
		case status >= http.StatusInternalServerError:
			log.Errorf(line, args...)
		case path == "/ping" || path == "/health":
			log.Debugf(line, args...)
		default:
			log.Infof(line, args...)
		}
	}
}
