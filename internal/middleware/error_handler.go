package middleware

import (
	"github.com/gin-gonic/gin"

	"campus_chat/pkg/errors"
	"campus_chat/pkg/logger"
)

// ErrorHandler превращает ошибку, добавленную обработчиком через c.Error,
// в JSON ответ с подходящим статусом.
func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		statusCode := errors.HTTPStatusFromError(err)
		if statusCode >= 500 {
			log.Error("Request failed", "error", err, "path", c.Request.URL.Path)
		}

		c.JSON(statusCode, gin.H{
			"error": errors.PublicMessage(err),
		})
	}
}
