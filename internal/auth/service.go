package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const defaultAccessTTL = 8 * time.Hour

// Service issues bearer tokens for users found in a Directory.
type Service struct {
	dir       Directory
	accessTTL time.Duration
	now       func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// NewService constructs the login service.
func NewService(dir Directory, opts ...ServiceOption) *Service {
	s := &Service{dir: dir, accessTTL: defaultAccessTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login verifies the password and returns a signed token for the user.
func (s *Service) Login(ctx context.Context, email, password string) (string, time.Time, Principal, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return "", time.Time{}, Principal{}, ErrInvalidInput
	}
	u, err := s.dir.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", time.Time{}, Principal{}, ErrUnauthorized
		}
		return "", time.Time{}, Principal{}, err
	}
	if !u.Active {
		return "", time.Time{}, Principal{}, ErrUnauthorized
	}
	if err := VerifyPassword(u.PasswordHash, password); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return "", time.Time{}, Principal{}, ErrUnauthorized
		}
		return "", time.Time{}, Principal{}, fmt.Errorf("login %s: %w", u.ID, err)
	}
	p := u.Principal()
	token, err := GenerateToken(p, s.accessTTL)
	if err != nil {
		return "", time.Time{}, Principal{}, err
	}
	return token, s.now().UTC().Add(s.accessTTL), p, nil
}

// Authenticate validates a bearer token and returns the principal it names.
func (s *Service) Authenticate(_ context.Context, token string) (Principal, error) {
	claims, err := ParseAndValidate(token)
	if err != nil {
		return Principal{}, err
	}
	return claims.Principal(), nil
}
