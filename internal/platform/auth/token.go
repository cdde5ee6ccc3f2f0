package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	// ErrTokenInvalid indicates the supplied token failed verification.
	ErrTokenInvalid = errors.New("auth: token invalid")
	// ErrTokenMissing indicates no credential was supplied.
	ErrTokenMissing = errors.New("auth: token missing")
)

// TenantClaims are the verified claims of a tenant-scoped bearer token. The
// tenant_id claim is authoritative for all tenant-scoped operations.
type TenantClaims struct {
	TenantID string `json:"tenant_id"`
	StaffID  string `json:"staff_id,omitempty"`
	jwt.RegisteredClaims
}

// ServiceClaims are the verified claims of a service-to-service token.
type ServiceClaims struct {
	Service string `json:"service"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256-signed tenant bearer tokens.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier constructs a verifier for the shared tenant token secret.
func NewTokenVerifier(secret string) (*TokenVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: token secret is required")
	}
	return &TokenVerifier{secret: []byte(secret)}, nil
}

// Verify parses and validates the bearer token, returning its claims.
func (v *TokenVerifier) Verify(_ context.Context, tokenString string) (TenantClaims, error) {
	if v == nil {
		return TenantClaims{}, ErrTokenInvalid
	}
	trimmed := strings.TrimSpace(tokenString)
	if trimmed == "" {
		return TenantClaims{}, ErrTokenMissing
	}

	var claims TenantClaims
	token, err := jwt.ParseWithClaims(trimmed, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return TenantClaims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || strings.TrimSpace(claims.TenantID) == "" {
		return TenantClaims{}, ErrTokenInvalid
	}
	return claims, nil
}

// ServiceTokenMinter mints and verifies the short-lived HS256 tokens the core
// services use for inter-service calls (delivery-status callbacks,
// report-to-journal posting).
type ServiceTokenMinter struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

// NewServiceTokenMinter constructs a minter for the shared service secret.
func NewServiceTokenMinter(secret string, ttl time.Duration, clock func() time.Time) (*ServiceTokenMinter, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: service token secret is required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if clock == nil {
		clock = time.Now
	}
	return &ServiceTokenMinter{secret: []byte(secret), ttl: ttl, clock: clock}, nil
}

// Mint issues a token identifying the calling service.
func (m *ServiceTokenMinter) Mint(service string) (string, error) {
	if m == nil {
		return "", errors.New("auth: minter not initialised")
	}
	name := strings.TrimSpace(service)
	if name == "" {
		return "", errors.New("auth: service name is required")
	}

	now := m.clock().UTC()
	claims := ServiceClaims{
		Service: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   name,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify parses and validates a service token, returning the service name.
func (m *ServiceTokenMinter) Verify(_ context.Context, tokenString string) (ServiceClaims, error) {
	if m == nil {
		return ServiceClaims{}, ErrTokenInvalid
	}
	trimmed := strings.TrimSpace(tokenString)
	if trimmed == "" {
		return ServiceClaims{}, ErrTokenMissing
	}

	var claims ServiceClaims
	token, err := jwt.ParseWithClaims(trimmed, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return ServiceClaims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || strings.TrimSpace(claims.Service) == "" {
		return ServiceClaims{}, ErrTokenInvalid
	}
	return claims, nil
}
