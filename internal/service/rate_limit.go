package service

import (
	"context"

	"campus_chat/internal/domain"
	"campus_chat/internal/repository"
	"campus_chat/pkg/logger"
)

type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
}

type RateLimitService interface {
	Allow(ctx context.Context, rule domain.RateLimitRule, subject string) (RateLimitDecision, error)
}

type rateLimitService struct {
	rateLimitRepo repository.RateLimitRepository
	log           logger.Logger
}

func NewRateLimitService(rateLimitRepo repository.RateLimitRepository, log logger.Logger) RateLimitService {
	return &rateLimitService{
		rateLimitRepo: rateLimitRepo,
		log:           log,
	}
}

func (s *rateLimitService) Allow(ctx context.Context, rule domain.RateLimitRule, subject string) (RateLimitDecision, error) {
	count, err := s.rateLimitRepo.Hit(ctx, rule.Key(subject), rule.Window)
	if err != nil {
		return RateLimitDecision{}, err
	}

	remaining := rule.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return RateLimitDecision{
		Allowed:   int(count) <= rule.Limit,
		Limit:     rule.Limit,
		Remaining: remaining,
	}, nil
}
