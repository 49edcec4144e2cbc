package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"campus_chat/pkg/logger"
)

type WebSocketHandler struct {
	gateway http.Handler
	log     logger.Logger
}

func NewWebSocketHandler(gateway http.Handler, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		gateway: gateway,
		log:     log,
	}
}

// HandleChat передает запрос шлюзу: он сам проверяет токен и делает upgrade.
func (h *WebSocketHandler) HandleChat(c *gin.Context) {
	h.gateway.ServeHTTP(c.Writer, c.Request)
}
