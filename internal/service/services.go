package service

import (
	"campus_chat/internal/config"
	"campus_chat/internal/repository"
	"campus_chat/pkg/logger"
)

type Services struct {
	Auth      AuthService
	Chat      ChatService
	RateLimit RateLimitService
	Audit     AuditService
}

func NewServices(repos *repository.Repositories, cfg *config.Config, log logger.Logger) *Services {
	services := &Services{
		Auth:  NewAuthService(cfg.JWT, log),
		Audit: NewAuditService(repos.Audit, log),
	}
	services.Chat = NewChatService(repos.Chat, services.Audit, log)

	// Без Redis HTTP rate limit отключен.
	if repos.RateLimit != nil {
		services.RateLimit = NewRateLimitService(repos.RateLimit, log)
		log.Info("RateLimit service initialized")
	} else {
		log.Warn("Redis is not configured, HTTP rate limiting disabled")
	}

	return services
}
