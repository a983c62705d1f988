// Package auth validates bearer tokens from both issuers and derives
// the principal propagated to every service. Adding a third issuer
// touches only this package.
package auth

import "context"

// Principal is the authenticated subject downstream code sees,
// regardless of which issuer minted the token.
type Principal struct {
	Sub      string `json:"sub"`
	Provider string `json:"provider"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
	Nickname string `json:"nickname,omitempty"`
}

type ctxKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the request principal, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
