package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"campus_chat/internal/config"
)

type HealthHandler struct {
	storeDriver string
	online      func() int
}

func NewHealthHandler(cfg *config.Config, online func() int) *HealthHandler {
	return &HealthHandler{
		storeDriver: cfg.Store.Driver,
		online:      online,
	}
}

func (h *HealthHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"service":      "campus-chat",
		"store":        h.storeDriver,
		"online_users": h.online(),
	})
}
