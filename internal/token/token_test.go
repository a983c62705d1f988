package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frozen() (func() time.Time, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	return func() time.Time { return now }, &now
}

func TestAccessRoundTrip(t *testing.T) {
	nowFn, _ := frozen()
	i := New("guildhall-test", "secret", nowFn)

	raw, err := i.Access("u1", "kim@example.com", "kim", "user", time.Hour)
	require.NoError(t, err)

	claims, err := i.Verify(raw, UseAccess)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "kim@example.com", claims.Email)
	assert.Equal(t, "kim", claims.Nickname)
	assert.Equal(t, UseAccess, claims.TokenUse)
	assert.Equal(t, "guildhall-test", claims.Issuer)
}

func TestVerifyRejectsWrongUse(t *testing.T) {
	nowFn, _ := frozen()
	i := New("guildhall-test", "secret", nowFn)

	confirm, err := i.SinglePurpose("u1", UseConfirm, time.Hour)
	require.NoError(t, err)

	_, err = i.Verify(confirm, UseAccess)
	assert.ErrorIs(t, err, ErrWrongUse)
	_, err = i.Verify(confirm, UseReset)
	assert.ErrorIs(t, err, ErrWrongUse)
	_, err = i.Verify(confirm, UseConfirm)
	assert.NoError(t, err)
}

func TestVerifyExpiry(t *testing.T) {
	nowFn, now := frozen()
	i := New("guildhall-test", "secret", nowFn)

	raw, err := i.Access("u1", "", "", "user", time.Hour)
	require.NoError(t, err)

	// Inside the leeway window the token still verifies.
	*now = now.Add(time.Hour + ClockSkew/2)
	_, err = i.Verify(raw, UseAccess)
	assert.NoError(t, err)

	*now = now.Add(ClockSkew)
	_, err = i.Verify(raw, UseAccess)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyRejectsForeignSecretAndIssuer(t *testing.T) {
	nowFn, _ := frozen()
	i := New("guildhall-test", "secret", nowFn)

	other := New("guildhall-test", "other-secret", nowFn)
	raw, err := other.Access("u1", "", "", "user", time.Hour)
	require.NoError(t, err)
	_, err = i.Verify(raw, UseAccess)
	assert.ErrorIs(t, err, ErrInvalid)

	foreign := New("someone-else", "secret", nowFn)
	raw, err = foreign.Access("u1", "", "", "user", time.Hour)
	require.NoError(t, err)
	_, err = i.Verify(raw, UseAccess)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	i := New("guildhall-test", "secret", nil)
	_, err := i.Verify("not-a-token", UseAccess)
	assert.ErrorIs(t, err, ErrInvalid)
}
