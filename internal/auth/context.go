package auth

import (
	"context"
	"strings"
)

type principalKey struct{}

// ContextWithPrincipal stores p (roles normalised) for downstream handlers.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	p.Roles = normalizeRoles(p.Roles)
	return context.WithValue(ctx, principalKey{}, p)
}

// ContextWithUser is ContextWithPrincipal for callers that only know an id and roles.
func ContextWithUser(ctx context.Context, userID string, roles []string) context.Context {
	return ContextWithPrincipal(ctx, Principal{UserID: strings.TrimSpace(userID), Roles: roles})
}

// PrincipalFromContext reports false for anonymous requests, including token-link access.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID != ""
}

func HasRole(ctx context.Context, role string) bool {
	p, ok := PrincipalFromContext(ctx)
	return ok && p.HasRole(role)
}
