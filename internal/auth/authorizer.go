package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/guildhall-dev/guildhall/internal/apperr"
	"github.com/guildhall-dev/guildhall/internal/token"
)

// Deny reasons surfaced in the error code.
const (
	DenyInvalidToken    = "invalid_token"
	DenyExpired         = "expired"
	DenyWrongAudience   = "wrong_audience"
	DenyUnknownIssuer   = "unknown_issuer"
	DenyJWKSUnreachable = "jwks_unreachable"
)

// Policy is the synthesized allow list for a principal plus the
// context dictionary propagated downstream.
type Policy struct {
	Principal Principal
	// AllowedRoutes are chi-style patterns the principal may invoke.
	AllowedRoutes []string
}

// Config holds the authorizer's issuer bindings.
type Config struct {
	InternalIssuer string
	ExternalIssuer string
	Audience       string
}

// Authorizer validates bearer tokens against both issuers. It is
// stateless beyond the JWKS cache.
type Authorizer struct {
	cfg      Config
	internal *token.Issuer
	jwks     *JWKSCache
	now      func() time.Time
	log      zerolog.Logger
}

// New builds an Authorizer. jwks may be nil when no external issuer is
// configured.
func New(cfg Config, internal *token.Issuer, jwks *JWKSCache, nowFn func() time.Time, log zerolog.Logger) *Authorizer {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Authorizer{
		cfg:      cfg,
		internal: internal,
		jwks:     jwks,
		now:      nowFn,
		log:      log.With().Str("component", "authorizer").Logger(),
	}
}

// Authorize validates raw and returns the allow policy. Every failure
// is an Unauthenticated error with a short deny reason.
func (a *Authorizer) Authorize(ctx context.Context, raw string) (Policy, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if raw == "" {
		return Policy{}, apperr.Unauthenticated(DenyInvalidToken, "missing bearer token")
	}

	iss, err := peekIssuer(raw)
	if err != nil {
		return Policy{}, apperr.Unauthenticated(DenyInvalidToken, "malformed token")
	}

	var principal Principal
	switch iss {
	case a.cfg.InternalIssuer:
		principal, err = a.verifyInternal(raw)
	case a.cfg.ExternalIssuer:
		principal, err = a.verifyExternal(ctx, raw)
	default:
		a.log.Debug().Str("iss", iss).Msg("token from unknown issuer")
		return Policy{}, apperr.Unauthenticated(DenyUnknownIssuer, "unknown token issuer")
	}
	if err != nil {
		return Policy{}, err
	}
	return Policy{Principal: principal, AllowedRoutes: routesFor(principal)}, nil
}

func (a *Authorizer) verifyInternal(raw string) (Principal, error) {
	claims, err := a.internal.Verify(raw, token.UseAccess)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return Principal{}, apperr.Unauthenticated(DenyExpired, "token expired")
		}
		return Principal{}, apperr.Unauthenticated(DenyInvalidToken, "invalid token")
	}
	return Principal{
		Sub:      claims.Subject,
		Provider: "local",
		Email:    claims.Email,
		Role:     claims.Role,
		Nickname: claims.Nickname,
	}, nil
}

type externalClaims struct {
	Email    string `json:"email,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	TokenUse string `json:"token_use"`
	jwt.RegisteredClaims
}

func (a *Authorizer) verifyExternal(ctx context.Context, raw string) (Principal, error) {
	if a.jwks == nil {
		return Principal{}, apperr.Unauthenticated(DenyUnknownIssuer, "external issuer not configured")
	}
	claims := &externalClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, apperr.Unauthenticated(DenyInvalidToken, "unexpected signing method")
		}
		kid, _ := t.Header["kid"].(string)
		key, err := a.jwks.Key(ctx, kid)
		if err != nil {
			return nil, apperr.Unauthenticated(DenyJWKSUnreachable, "could not load signing keys").WithCause(err)
		}
		return key, nil
	},
		jwt.WithTimeFunc(a.now),
		jwt.WithLeeway(token.ClockSkew),
	)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return Principal{}, ae
		}
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, apperr.Unauthenticated(DenyExpired, "token expired")
		}
		return Principal{}, apperr.Unauthenticated(DenyInvalidToken, "invalid token")
	}
	if !tok.Valid {
		return Principal{}, apperr.Unauthenticated(DenyInvalidToken, "invalid token")
	}
	if claims.TokenUse != token.UseAccess {
		return Principal{}, apperr.Unauthenticated(DenyInvalidToken, "not an access token")
	}
	if a.cfg.Audience != "" && !containsAudience(claims.Audience, a.cfg.Audience) {
		return Principal{}, apperr.Unauthenticated(DenyWrongAudience, "token audience mismatch")
	}
	return Principal{
		Sub:      claims.Subject,
		Provider: "external",
		Email:    claims.Email,
		Nickname: claims.Nickname,
		Role:     "user",
	}, nil
}

// peekIssuer decodes the claims without verifying, only to dispatch on
// iss. The token is always verified afterwards.
func peekIssuer(raw string) (string, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return "", err
	}
	iss, _ := claims["iss"].(string)
	return iss, nil
}

func containsAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

func routesFor(p Principal) []string {
	routes := []string{
		"/profile", "/goals/*", "/quests/*", "/guilds/*",
		"/collaborations/*", "/subscriptions/*", "/credits/*",
		"/ws/rooms/*", "/graphql",
	}
	if p.Role == "admin" {
		routes = append(routes, "/admin/*")
	}
	return routes
}
