package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/tenpo-pos/core/internal/platform/apperrors"
	"github.com/tenpo-pos/core/internal/platform/httpx"
	"github.com/tenpo-pos/core/internal/platform/requestctx"
)

const apiKeyHeader = "X-API-Key"

// TerminalIdentity is the identity a per-terminal API key resolves to.
type TerminalIdentity struct {
	TenantID   string
	StoreCode  string
	TerminalNo int
	StaffID    string
}

// TerminalResolver resolves an API key to the owning terminal. Implementations
// typically wrap the terminal repository behind a short TTL cache.
type TerminalResolver func(ctx context.Context, apiKey string) (TerminalIdentity, error)

// RequireBearer enforces a tenant-scoped bearer token and stores the verified
// principal on the request context.
func RequireBearer(verifier *TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := bearerToken(r)
			if !ok {
				writeUnauthorized(ctx, w, "bearer token required")
				return
			}
			claims, err := verifier.Verify(ctx, token)
			if err != nil {
				writeUnauthorized(ctx, w, "bearer token rejected")
				return
			}
			ctx = requestctx.WithPrincipal(ctx, requestctx.Principal{
				Kind:     requestctx.PrincipalTenant,
				TenantID: claims.TenantID,
				StaffID:  claims.StaffID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAPIKey enforces the per-terminal API key header and stores the
// resolved terminal identity on the request context.
func RequireAPIKey(resolve TerminalResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			apiKey := strings.TrimSpace(r.Header.Get(apiKeyHeader))
			if apiKey == "" {
				writeUnauthorized(ctx, w, "api key required")
				return
			}
			identity, err := resolve(ctx, apiKey)
			if err != nil {
				writeUnauthorized(ctx, w, "api key rejected")
				return
			}
			ctx = requestctx.WithPrincipal(ctx, requestctx.Principal{
				Kind:       requestctx.PrincipalTerminal,
				TenantID:   identity.TenantID,
				StoreCode:  identity.StoreCode,
				TerminalNo: identity.TerminalNo,
				StaffID:    identity.StaffID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireBearerOrAPIKey accepts either credential; terminal-initiated requests
// carry the API key, back-office requests the bearer token.
func RequireBearerOrAPIKey(verifier *TokenVerifier, resolve TerminalResolver) func(http.Handler) http.Handler {
	bearer := RequireBearer(verifier)
	apiKey := RequireAPIKey(resolve)
	return func(next http.Handler) http.Handler {
		bearerNext := bearer(next)
		apiKeyNext := apiKey(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.TrimSpace(r.Header.Get(apiKeyHeader)) != "" {
				apiKeyNext.ServeHTTP(w, r)
				return
			}
			bearerNext.ServeHTTP(w, r)
		})
	}
}

// RequireServiceToken enforces a service-to-service token on consumer ACK and
// journal posting endpoints.
func RequireServiceToken(minter *ServiceTokenMinter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := bearerToken(r)
			if !ok {
				writeUnauthorized(ctx, w, "service token required")
				return
			}
			claims, err := minter.Verify(ctx, token)
			if err != nil {
				writeUnauthorized(ctx, w, "service token rejected")
				return
			}
			ctx = requestctx.WithPrincipal(ctx, requestctx.Principal{
				Kind:    requestctx.PrincipalService,
				Service: claims.Service,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

func writeUnauthorized(ctx context.Context, w http.ResponseWriter, message string) {
	err := apperrors.New(apperrors.KindTerminalNotSignedIn, message)
	httpx.WriteError(ctx, w, "authenticate", err)
}
