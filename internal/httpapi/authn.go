package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"tovus.net/evalflow/internal/approval"
	"tovus.net/evalflow/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/token",
	"/v1/auth/login",
	"/v1/info",
	"/metrics",
	"/healthz",
	"/readyz",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) || isTokenAccess(r) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="evalflow"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		principal, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="evalflow", error="invalid_token"`)
			switch {
			case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrUnauthorized):
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

// RequireRole admits callers holding any of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := auth.PrincipalFromContext(r.Context()); !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="evalflow"`)
				writeError(w, r, http.StatusUnauthorized, "authentication required")
				return
			}
			for _, role := range roles {
				if auth.HasRole(r.Context(), role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="evalflow", error="insufficient_scope"`)
			writeError(w, r, http.StatusForbidden, "insufficient role")
		})
	}
}

// ensurePermission writes 401/403 and returns false when the caller lacks perm.
func (a *API) ensurePermission(w http.ResponseWriter, r *http.Request, perm string) bool {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="evalflow"`)
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	if !principal.HasPermission(perm) {
		writeError(w, r, http.StatusForbidden, "missing permission "+perm)
		return false
	}
	return true
}

// actorFrom converts the authenticated principal into a workflow actor.
func actorFrom(ctx context.Context) (approval.Actor, bool) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return approval.Actor{}, false
	}
	return approval.Actor{PrincipalID: p.UserID, Name: p.Name, EmployeeID: p.EmployeeID}, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// isTokenAccess reports an evaluator link: GET or PUT of a single document with ?token=.
func isTokenAccess(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodPut {
		return false
	}
	if r.URL.Query().Get("token") == "" || r.Header.Get(authHeader) != "" {
		return false
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	return rest != r.URL.Path && rest != "" && !strings.Contains(rest, "/") && !documentCollectionRoutes[rest]
}
