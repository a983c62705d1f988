package auth

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildhall-dev/guildhall/internal/apperr"
	"github.com/guildhall-dev/guildhall/internal/token"
)

func newTestAuthorizer() (*Authorizer, *token.Issuer) {
	internal := token.New("guildhall-test", "secret", nil)
	a := New(Config{InternalIssuer: "guildhall-test", ExternalIssuer: "https://idp.example.com"},
		internal, nil, nil, zerolog.Nop())
	return a, internal
}

func denyCode(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	ae := apperr.As(err)
	require.Equal(t, apperr.KindUnauthenticated, ae.Kind)
	return ae.Code
}

func TestAuthorizeInternalToken(t *testing.T) {
	a, issuer := newTestAuthorizer()
	ctx := context.Background()

	raw, err := issuer.Access("u1", "kim@example.com", "kim", "user", time.Hour)
	require.NoError(t, err)

	policy, err := a.Authorize(ctx, "Bearer "+raw)
	require.NoError(t, err)
	assert.Equal(t, "u1", policy.Principal.Sub)
	assert.Equal(t, "local", policy.Principal.Provider)
	assert.Contains(t, policy.AllowedRoutes, "/goals/*")
	assert.NotContains(t, policy.AllowedRoutes, "/admin/*")

	// The bare token without the Bearer prefix works too.
	_, err = a.Authorize(ctx, raw)
	assert.NoError(t, err)
}

func TestAdminRoleWidensPolicy(t *testing.T) {
	a, issuer := newTestAuthorizer()

	raw, err := issuer.Access("u1", "", "", "admin", time.Hour)
	require.NoError(t, err)
	policy, err := a.Authorize(context.Background(), raw)
	require.NoError(t, err)
	assert.Contains(t, policy.AllowedRoutes, "/admin/*")
}

func TestAuthorizeDenials(t *testing.T) {
	a, issuer := newTestAuthorizer()
	ctx := context.Background()

	_, err := a.Authorize(ctx, "")
	assert.Equal(t, DenyInvalidToken, denyCode(t, err))
	_, err = a.Authorize(ctx, "Bearer garbage")
	assert.Equal(t, DenyInvalidToken, denyCode(t, err))

	stranger := token.New("somewhere-else", "secret", nil)
	raw, err := stranger.Access("u1", "", "", "user", time.Hour)
	require.NoError(t, err)
	_, err = a.Authorize(ctx, raw)
	assert.Equal(t, DenyUnknownIssuer, denyCode(t, err))

	// A confirm token is not an access token.
	confirm, err := issuer.SinglePurpose("u1", token.UseConfirm, time.Hour)
	require.NoError(t, err)
	_, err = a.Authorize(ctx, confirm)
	assert.Equal(t, DenyInvalidToken, denyCode(t, err))
}

func TestAuthorizeExpiredToken(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)
	issuer := token.New("guildhall-test", "secret", func() time.Time { return past })
	a := New(Config{InternalIssuer: "guildhall-test"}, token.New("guildhall-test", "secret", nil), nil, nil, zerolog.Nop())

	raw, err := issuer.Access("u1", "", "", "user", time.Hour)
	require.NoError(t, err)
	_, err = a.Authorize(context.Background(), raw)
	assert.Equal(t, DenyExpired, denyCode(t, err))
}

func TestExternalIssuerWithoutJWKS(t *testing.T) {
	a, _ := newTestAuthorizer()

	// A token claiming the external issuer cannot verify without keys.
	external := token.New("https://idp.example.com", "irrelevant", nil)
	raw, err := external.Access("u1", "", "", "user", time.Hour)
	require.NoError(t, err)
	_, err = a.Authorize(context.Background(), raw)
	assert.Equal(t, DenyUnknownIssuer, denyCode(t, err))
}
