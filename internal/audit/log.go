// Package audit writes the trail of who changed what: one structured line per event.
package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"tovus.net/evalflow/internal/auth"
	"tovus.net/evalflow/internal/obs"
)

type requestIDKey struct{}

// WithRequestID attaches the request identifier to ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID = strings.TrimSpace(requestID); requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	rid, _ := ctx.Value(requestIDKey{}).(string)
	return rid
}

// LogEvent records event, named "<area>.<action>" (documents.approve,
// auth.login). The caller's principal, if any, goes under "actor".
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	area, action, ok := strings.Cut(strings.TrimSpace(event), ".")
	if !ok || area == "" || action == "" {
		return fmt.Errorf("audit: event %q is not <area>.<action>", event)
	}
	ev := obs.Logger().Info().
		Str("type", "audit").
		Str("area", area).
		Str("event", area+"."+action)
	if rid := RequestIDFromContext(ctx); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		actor := zerolog.Dict().Str("id", p.UserID).Strs("roles", p.Roles)
		if p.EmployeeID != "" {
			actor = actor.Str("employee_id", p.EmployeeID)
		}
		ev = ev.Dict("actor", actor)
	}
	if len(fields) > 0 {
		ev = ev.Dict("fields", zerolog.Dict().Fields(fields))
	}
	ev.Msg("audit")
	return nil
}
