// Package token issues and verifies the internal HS256 tokens: access
// tokens plus the single-purpose email-confirmation and password-reset
// tokens.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token uses distinguish access tokens from single-purpose ones.
const (
	UseAccess  = "access"
	UseConfirm = "email_confirm"
	UseReset   = "password_reset"
)

var (
	ErrInvalid   = errors.New("token: invalid")
	ErrExpired   = errors.New("token: expired")
	ErrWrongUse  = errors.New("token: wrong token_use")
)

// ClockSkew is the leeway applied to exp/nbf checks.
const ClockSkew = 60 * time.Second

// Claims are the internal token claims. Single-purpose tokens carry
// only sub, use and the time claims.
type Claims struct {
	Email    string `json:"email,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	Provider string `json:"provider,omitempty"`
	Role     string `json:"role,omitempty"`
	Scope    string `json:"scope,omitempty"`
	TokenUse string `json:"token_use"`
	jwt.RegisteredClaims
}

// Issuer signs internal tokens with the process HMAC secret.
type Issuer struct {
	issuer string
	secret []byte
	now    func() time.Time
}

// New builds an Issuer. nowFn may be nil for the wall clock.
func New(issuer, secret string, nowFn func() time.Time) *Issuer {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Issuer{issuer: issuer, secret: []byte(secret), now: nowFn}
}

// Access issues a 1h-default access token with the full claim set.
func (i *Issuer) Access(sub, email, nickname, role string, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		Email:    email,
		Nickname: nickname,
		Provider: "local",
		Role:     role,
		Scope:    "api",
		TokenUse: UseAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// SinglePurpose issues a confirm or reset token bound to sub.
func (i *Issuer) SinglePurpose(sub, use string, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		TokenUse: use,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify parses and validates a token, requiring the given use.
func (i *Issuer) Verify(raw, use string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalid
		}
		return i.secret, nil
	},
		jwt.WithTimeFunc(i.now),
		jwt.WithLeeway(ClockSkew),
		jwt.WithIssuer(i.issuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}
	if !tok.Valid {
		return nil, ErrInvalid
	}
	if claims.TokenUse != use {
		return nil, ErrWrongUse
	}
	return claims, nil
}
