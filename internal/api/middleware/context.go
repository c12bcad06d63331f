package middleware

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey string

const (
	principalContextKey contextKey = "principal"
	traceContextKey     contextKey = "trace_id"
	loggerContextKey    contextKey = "logger"
)

// Principal is the authenticated operator behind a request.
type Principal struct {
	UserID uuid.UUID
	Role   string
}

// PrincipalFromContext returns the operator set by AuthMiddleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalContextKey).(Principal)
	return p, ok
}

// UserIDFromContext returns the authenticated user ID, or "" for anonymous requests.
func UserIDFromContext(ctx context.Context) string {
	if p, ok := PrincipalFromContext(ctx); ok {
		return p.UserID.String()
	}
	return ""
}

// UserRoleFromContext returns the role of the authenticated user.
func UserRoleFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return p.Role
}

// TraceIDFromContext returns the trace id for the request.
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(traceContextKey).(string)
	return v
}

// LoggerFromContext returns the request logger, falling back to the global one.
func LoggerFromContext(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok {
			return l
		}
	}
	return zap.L()
}
