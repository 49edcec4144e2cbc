package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"campus_chat/pkg/logger"
)

const headerRequestID = "X-Request-ID"

func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		reqID := c.GetHeader(headerRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(headerRequestID, reqID)
		c.Set("request_id", reqID)

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		keyvals := []interface{}{
			"request_id", reqID,
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		}
		if userID := c.GetString(ContextUserID); userID != "" {
			keyvals = append(keyvals, "user_id", userID)
		}

		if c.Writer.Status() >= 500 {
			log.Error("Request completed", keyvals...)
			return
		}
		log.Info("Request completed", keyvals...)
	}
}
