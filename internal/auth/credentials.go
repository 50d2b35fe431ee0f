package auth

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// Ошибки справочника пользователей и входа.
var (
	ErrNotFound      = errors.New("auth: user not found")
	ErrAlreadyExists = errors.New("auth: user already exists")
	ErrInvalidInput  = errors.New("auth: invalid input")
	ErrUnauthorized  = errors.New("auth: invalid credentials")
	ErrWeakPassword  = fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinPasswordLength)
)

const (
	// MinPasswordLength counts runes, not bytes.
	MinPasswordLength = 8
	// bcrypt ignores everything past 72 bytes.
	maxPasswordBytes = 72
	passwordCost     = 12
)

// CheckPasswordPolicy reports whether password may be stored for a user.
func CheckPasswordPolicy(password string) error {
	if strings.TrimSpace(password) == "" || utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	if len(password) > maxPasswordBytes {
		return fmt.Errorf("%w: password exceeds %d bytes", ErrInvalidInput, maxPasswordBytes)
	}
	return nil
}

// HashPassword applies the password policy and returns a bcrypt hash.
func HashPassword(password string) (string, error) {
	if err := CheckPasswordPolicy(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword returns ErrUnauthorized when password does not match hash.
// Any other error means the stored hash itself is unusable.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return ErrUnauthorized
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrUnauthorized
	default:
		return fmt.Errorf("auth: stored hash: %w", err)
	}
}
