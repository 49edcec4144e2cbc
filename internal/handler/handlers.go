package handler

import (
	"campus_chat/internal/config"
	"campus_chat/internal/presence"
	"campus_chat/internal/realtime"
	"campus_chat/internal/service"
	"campus_chat/pkg/logger"
)

type Handlers struct {
	Health    *HealthHandler
	Chat      *ChatHandler
	WebSocket *WebSocketHandler
}

func NewHandlers(services *service.Services, gateway *realtime.Gateway, registry *presence.Registry, cfg *config.Config, log logger.Logger) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(cfg, registry.Len),
		Chat:      NewChatHandler(services.Chat, gateway, log),
		WebSocket: NewWebSocketHandler(gateway, log),
	}
}
