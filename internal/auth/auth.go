package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer   = "evalflow"
	audience = "evalflow-api"

	secretEnvVariable = "EVALFLOW_AUTH_SECRET"
	// Comma separated; tokens signed with these keys still verify after a rotation.
	previousSecretsEnvVariable = "EVALFLOW_AUTH_SECRET_PREVIOUS"

	clockSkew = 5 * time.Second
)

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("invalid token")

var errMissingSecret = fmt.Errorf("auth: %s is not set", secretEnvVariable)

// Claims carried by evalflow bearer tokens.
// Subject is the principal id; EmployeeID links the principal to a master-data employee.
type Claims struct {
	Roles      []string `json:"roles"`
	Name       string   `json:"name,omitempty"`
	EmployeeID string   `json:"employee_id,omitempty"`
	jwt.RegisteredClaims
}

// Principal converts verified claims into the request principal.
func (c *Claims) Principal() Principal {
	return Principal{
		UserID:     c.Subject,
		Name:       c.Name,
		EmployeeID: c.EmployeeID,
		Roles:      c.Roles,
	}
}

type keyring struct {
	signingID string
	secrets   map[string][]byte // kid -> HS256 secret
}

var (
	keysMu sync.Mutex
	keys   *keyring
)

func keyID(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:4])
}

func loadKeys() (*keyring, error) {
	keysMu.Lock()
	defer keysMu.Unlock()
	if keys != nil {
		return keys, nil
	}
	current := strings.TrimSpace(os.Getenv(secretEnvVariable))
	if current == "" {
		return nil, errMissingSecret
	}
	kr := &keyring{signingID: keyID(current), secrets: map[string][]byte{}}
	kr.secrets[kr.signingID] = []byte(current)
	for _, old := range strings.Split(os.Getenv(previousSecretsEnvVariable), ",") {
		if old = strings.TrimSpace(old); old != "" {
			kr.secrets[keyID(old)] = []byte(old)
		}
	}
	keys = kr
	return kr, nil
}

// lookup picks the verification secret by the kid header.
func (kr *keyring) lookup(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return kr.secrets[kr.signingID], nil
	}
	secret, ok := kr.secrets[kid]
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	return secret, nil
}

var parser = jwt.NewParser(
	jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	jwt.WithIssuer(issuer),
	jwt.WithAudience(audience),
	jwt.WithIssuedAt(),
	jwt.WithExpirationRequired(),
	jwt.WithLeeway(clockSkew),
)

// GenerateToken signs an HS256 token for p with the current key.
func GenerateToken(p Principal, ttl time.Duration) (string, error) {
	subject := strings.TrimSpace(p.UserID)
	switch {
	case subject == "":
		return "", fmt.Errorf("%w: principal id is required", ErrInvalidInput)
	case ttl <= 0:
		return "", fmt.Errorf("%w: token ttl must be positive", ErrInvalidInput)
	}
	kr, err := loadKeys()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Roles:      normalizeRoles(p.Roles),
		Name:       strings.TrimSpace(p.Name),
		EmployeeID: strings.TrimSpace(p.EmployeeID),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	})
	token.Header["kid"] = kr.signingID
	signed, err := token.SignedString(kr.secrets[kr.signingID])
	if err != nil {
		return "", fmt.Errorf("auth: sign token for %s: %w", subject, err)
	}
	return signed, nil
}

// ParseAndValidate verifies signature, issuer, audience and lifetime.
// Every validation failure wraps ErrInvalidToken.
func ParseAndValidate(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	kr, err := loadKeys()
	if err != nil {
		return nil, err
	}
	claims := &Claims{}
	if _, err := parser.ParseWithClaims(raw, claims, kr.lookup); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	claims.Roles = normalizeRoles(claims.Roles)
	return claims, nil
}

// normalizeRoles lowercases, trims and dedupes, keeping first-seen order.
func normalizeRoles(roles []string) []string {
	var out []string
	for _, role := range roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role != "" && !slices.Contains(out, role) {
			out = append(out, role)
		}
	}
	return out
}

// ResetSecretForTests drops the cached keyring so the next call rereads the environment.
func ResetSecretForTests() {
	keysMu.Lock()
	defer keysMu.Unlock()
	keys = nil
}
