package domain

import "time"

// RateLimitRule описывает лимит запросов на ключ (IP или пользователь).
type RateLimitRule struct {
	Scope  string
	Limit  int
	Window time.Duration
}

const (
	RateLimitScopeUser = "user"
	RateLimitScopeIP   = "ip"
)

func (r RateLimitRule) Key(subject string) string {
	return "ratelimit:" + r.Scope + ":" + subject
}
