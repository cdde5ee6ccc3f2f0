package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerContextKey    contextKey = "github.com/tenpo-pos/core/internal/platform/requestctx/logger"
	principalContextKey contextKey = "github.com/tenpo-pos/core/internal/platform/requestctx/principal"
)

var noopLogger = zap.NewNop()

// PrincipalKind distinguishes how the caller authenticated.
type PrincipalKind string

const (
	// PrincipalTenant is an operator holding a tenant-scoped bearer token.
	PrincipalTenant PrincipalKind = "tenant"
	// PrincipalTerminal is a terminal authenticated by its API key.
	PrincipalTerminal PrincipalKind = "terminal"
	// PrincipalService is another core service holding a service token.
	PrincipalService PrincipalKind = "service"
)

// Principal captures the verified caller identity propagated through request context.
type Principal struct {
	Kind       PrincipalKind
	TenantID   string
	StoreCode  string
	TerminalNo int
	StaffID    string
	Service    string
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared noop logger instance used across the package.
func NoopLogger() *zap.Logger { return noopLogger }

// WithPrincipal stores the verified caller identity on the context.
func WithPrincipal(ctx context.Context, principal Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, principalContextKey, principal)
}

// PrincipalFrom retrieves the caller identity from context when available.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	principal, ok := ctx.Value(principalContextKey).(Principal)
	if !ok {
		return Principal{}, false
	}
	return principal, true
}

// TenantID extracts the tenant identifier from context when present.
func TenantID(ctx context.Context) string {
	principal, ok := PrincipalFrom(ctx)
	if !ok {
		return ""
	}
	return principal.TenantID
}
