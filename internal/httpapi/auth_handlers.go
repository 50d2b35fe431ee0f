package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"tovus.net/evalflow/internal/audit"
	"tovus.net/evalflow/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenRequest struct {
	User       string   `json:"user"`
	Name       string   `json:"name"`
	EmployeeID string   `json:"employeeId"`
	Roles      []string `json:"roles"`
}

type tokenResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Principal *auth.Principal `json:"principal,omitempty"`
}

const tokenTTL = 15 * time.Minute

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	token, expiresAt, principal, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidInput):
			writeError(w, r, http.StatusBadRequest, "email and password are required")
		case errors.Is(err, auth.ErrUnauthorized):
			_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{"email": strings.ToLower(strings.TrimSpace(req.Email))})
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		default:
			writeError(w, r, http.StatusInternalServerError, "login failed")
		}
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{"user": principal.UserID})
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresAt: expiresAt, Principal: &principal})
}

// handleAuthToken issues tokens without credentials; development only.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if !a.devTokens {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user := strings.TrimSpace(req.User)
	if user == "" {
		writeError(w, r, http.StatusBadRequest, "user is required")
		return
	}
	roles := make([]string, 0, len(req.Roles))
	for _, role := range req.Roles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		roles = append(roles, role)
	}
	if len(roles) == 0 {
		writeError(w, r, http.StatusBadRequest, "roles are required")
		return
	}

	p := auth.Principal{UserID: user, Name: strings.TrimSpace(req.Name), EmployeeID: strings.TrimSpace(req.EmployeeID), Roles: roles}
	token, err := auth.GenerateToken(p, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(tokenTTL)
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"user":       user,
		"roles":      roles,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
