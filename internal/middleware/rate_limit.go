package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"campus_chat/internal/domain"
	"campus_chat/internal/service"
	"campus_chat/pkg/logger"
)

type RateLimitMiddleware struct {
	rateLimitService service.RateLimitService
	rule             domain.RateLimitRule
	log              logger.Logger
}

// NewRateLimitMiddleware - при nil сервисе (Redis не настроен) лимит не применяется.
func NewRateLimitMiddleware(rateLimitService service.RateLimitService, rule domain.RateLimitRule, log logger.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		rateLimitService: rateLimitService,
		rule:             rule,
		log:              log,
	}
}

func (m *RateLimitMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.rateLimitService == nil {
			c.Next()
			return
		}

		rule := m.rule
		subject := c.ClientIP()
		if userID := c.GetString(ContextUserID); userID != "" {
			rule.Scope = domain.RateLimitScopeUser
			subject = userID
		}

		decision, err := m.rateLimitService.Allow(c.Request.Context(), rule, subject)
		if err != nil {
			// Недоступный Redis не должен блокировать чат.
			m.log.Error("Rate limit check failed", "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}
