package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lgulliver/mediabin/pkg/config"
	"github.com/lgulliver/mediabin/pkg/types"
	"github.com/lgulliver/mediabin/pkg/utils"
)

var (
	// ErrInvalidCredentials is returned for an unknown user or wrong password
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrLoginDisabled is returned when no operator password is configured
	ErrLoginDisabled = errors.New("operator login is not configured")
)

// Service handles operator authentication
type Service struct {
	config *config.AuthConfig
	now    func() time.Time
}

// NewService creates a new authentication service
func NewService(config *config.AuthConfig) *Service {
	if config.AdminPasswordHash == "" {
		log.Warn().Msg("ADMIN_PASSWORD_HASH not set, operator login disabled")
	}
	return &Service{
		config: config,
		now:    time.Now,
	}
}

// Login authenticates the operator and returns a JWT token
func (s *Service) Login(ctx context.Context, req *types.LoginRequest) (*types.AuthToken, error) {
	if s.config.AdminPasswordHash == "" {
		return nil, ErrLoginDisabled
	}

	if req.Username != s.config.AdminUsername || !utils.CheckPassword(req.Password, s.config.AdminPasswordHash) {
		log.Warn().Str("username", req.Username).Msg("Failed login attempt")
		return nil, ErrInvalidCredentials
	}

	token, err := utils.GenerateJWT(req.Username, s.config.JWTSecret, s.config.JWTExpiration)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	log.Info().Str("username", req.Username).Msg("Operator logged in")
	return &types.AuthToken{
		Token:     token,
		ExpiresAt: s.now().Add(s.config.JWTExpiration),
		Subject:   req.Username,
	}, nil
}

// ValidateToken validates a JWT token and returns its subject
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (string, error) {
	subject, err := utils.ValidateJWT(tokenString, s.config.JWTSecret)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	if subject != s.config.AdminUsername {
		return "", fmt.Errorf("invalid token: unknown subject %q", subject)
	}

	return subject, nil
}
