package auth

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndValidate(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	ResetSecretForTests()

	token, err := GenerateToken(Principal{UserID: "user-42", Name: "Amna", EmployeeID: "emp-9", Roles: []string{"Admin", "approver", "admin"}}, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if !slices.Contains(claims.Roles, "admin") || !slices.Contains(claims.Roles, "approver") || len(claims.Roles) != 2 {
		t.Fatalf("roles were not normalised: %v", claims.Roles)
	}
	p := claims.Principal()
	if p.EmployeeID != "emp-9" || p.Name != "Amna" {
		t.Fatalf("principal not carried: %+v", p)
	}
}

func TestParseRejectsTampered(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	ResetSecretForTests()

	token, err := GenerateToken(Principal{UserID: "u"}, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := ParseAndValidate(token + "x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestMissingSecret(t *testing.T) {
	t.Setenv(secretEnvVariable, "")
	ResetSecretForTests()
	if _, err := GenerateToken(Principal{UserID: "u"}, time.Minute); err == nil {
		t.Fatal("expected error without secret")
	}
}

func TestServiceLogin(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	ResetSecretForTests()

	hash, err := HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	dir := NewMemoryDirectory()
	if err := dir.Put(User{ID: "u1", Email: "Approver@Example.com", PasswordHash: hash, Roles: []string{"approver"}, Active: true}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := dir.Put(User{ID: "u2", Email: "gone@example.com", PasswordHash: hash, Active: false}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	svc := NewService(dir)

	cases := []struct {
		name     string
		email    string
		password string
		wantErr  error
	}{
		{"ok", "approver@example.com", "s3cret-pass", nil},
		{"wrong password", "approver@example.com", "nope", ErrUnauthorized},
		{"unknown", "who@example.com", "s3cret-pass", ErrUnauthorized},
		{"inactive", "gone@example.com", "s3cret-pass", ErrUnauthorized},
		{"empty", "", "", ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token, _, p, err := svc.Login(context.Background(), tc.email, tc.password)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Login: %v", err)
			}
			if p.UserID != "u1" {
				t.Fatalf("unexpected principal: %+v", p)
			}
			got, err := svc.Authenticate(context.Background(), token)
			if err != nil || got.UserID != "u1" {
				t.Fatalf("Authenticate: %+v %v", got, err)
			}
		})
	}
}

func TestPrincipalPermissions(t *testing.T) {
	p := Principal{UserID: "u1", Roles: []string{"hr"}}
	if !p.HasPermission(PermDocumentsSend) {
		t.Fatalf("expected hr to send documents")
	}
	if p.HasPermission(PermLevelsManage) {
		t.Fatalf("hr must not manage approval levels")
	}
}

func TestKeyRotation(t *testing.T) {
	t.Setenv(secretEnvVariable, "old-secret")
	t.Setenv(previousSecretsEnvVariable, "")
	ResetSecretForTests()
	token, err := GenerateToken(Principal{UserID: "u1"}, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	t.Setenv(secretEnvVariable, "new-secret")
	ResetSecretForTests()
	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("retired key must not verify, got %v", err)
	}

	t.Setenv(previousSecretsEnvVariable, "other, old-secret")
	ResetSecretForTests()
	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("previous key should verify: %v", err)
	}
	if claims.Subject != "u1" {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}
}

func TestParseRejectsForeignAudience(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	ResetSecretForTests()

	now := time.Now()
	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{"payroll"},
			Subject:   "u1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	})
	raw, err := foreign.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseAndValidate(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestPasswordPolicy(t *testing.T) {
	for _, pw := range []string{"", "        ", "short", "пароль1"} {
		if _, err := HashPassword(pw); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%q: expected ErrInvalidInput, got %v", pw, err)
		}
	}
	if err := CheckPasswordPolicy("пароль12"); err != nil {
		t.Fatalf("eight runes should pass: %v", err)
	}

	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword(hash, "correct horse"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong horse"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := VerifyPassword("not-a-hash", "correct horse"); err == nil || errors.Is(err, ErrUnauthorized) {
		t.Fatalf("malformed hash should surface as an error, got %v", err)
	}
}
