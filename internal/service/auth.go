package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"campus_chat/internal/config"
	"campus_chat/internal/domain"
	apperrors "campus_chat/pkg/errors"
	"campus_chat/pkg/jwt"
	"campus_chat/pkg/logger"
)

// AuthService проверяет access токены, выданные внешним сервисом
// аутентификации. Регистрация и логин в этот сервис не входят.
type AuthService interface {
	ValidateToken(ctx context.Context, tokenString string) (*domain.Identity, error)
	IssueToken(ctx context.Context, userID string) (string, error)
}

type authService struct {
	jwtCfg config.JWTConfig
	log    logger.Logger
}

func NewAuthService(jwtCfg config.JWTConfig, log logger.Logger) AuthService {
	return &authService{
		jwtCfg: jwtCfg,
		log:    log,
	}
}

func (s *authService) ValidateToken(ctx context.Context, tokenString string) (*domain.Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, fmt.Errorf("%w: token is empty", apperrors.ErrUnauthorized)
	}

	claims, err := jwt.ValidateToken(tokenString, s.jwtCfg.AccessSecret)
	if err != nil {
		if errors.Is(err, jwt.ErrExpiredToken) {
			return nil, apperrors.ErrTokenExpired
		}
		return nil, apperrors.ErrInvalidToken
	}
	if !domain.ValidUserID(claims.UserID) {
		return nil, apperrors.ErrInvalidToken
	}

	identity := &domain.Identity{UserID: claims.UserID}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

// IssueToken выпускает токен для локальной разработки и тестов.
func (s *authService) IssueToken(ctx context.Context, userID string) (string, error) {
	if !domain.ValidUserID(userID) {
		return "", fmt.Errorf("%w: user id is required", apperrors.ErrBadRequest)
	}
	token, err := jwt.GenerateAccessToken(userID, s.jwtCfg.AccessSecret, s.jwtCfg.Issuer, s.jwtCfg.AccessTTL)
	if err != nil {
		s.log.Error("Failed to generate access token", "error", err)
		return "", err
	}
	return token, nil
}
