package user

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildhall-dev/guildhall/internal/apperr"
	"github.com/guildhall-dev/guildhall/internal/mailer"
	"github.com/guildhall-dev/guildhall/internal/model"
	"github.com/guildhall-dev/guildhall/internal/storage/memory"
	"github.com/guildhall-dev/guildhall/internal/token"
)

func allCountries(string) bool { return true }

func newTestService() (*Service, *mailer.Recorder) {
	mail := mailer.NewRecorder()
	tokens := token.New("guildhall-test", "test-secret", nil)
	svc := New(memory.New(), tokens, mail, allCountries, time.Hour, nil, zerolog.Nop())
	return svc, mail
}

func validSignup(email, nickname string) SignupInput {
	return SignupInput{
		Email:     email,
		Nickname:  nickname,
		Password:  "Str0ng!pass",
		Country:   "de",
		BirthDate: "1990-04-02",
	}
}

func TestSignupValidation(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	cases := []struct {
		name string
		in   SignupInput
	}{
		{"bad email", SignupInput{Email: "nope", Nickname: "n", Password: "Str0ng!pass", Country: "DE", BirthDate: "1990-01-01"}},
		{"bad nickname", SignupInput{Email: "a@b.de", Nickname: "has space", Password: "Str0ng!pass", Country: "DE", BirthDate: "1990-01-01"}},
		{"weak password", SignupInput{Email: "a@b.de", Nickname: "n", Password: "weak", Country: "DE", BirthDate: "1990-01-01"}},
		{"bad birth date", SignupInput{Email: "a@b.de", Nickname: "n", Password: "Str0ng!pass", Country: "DE", BirthDate: "tomorrow"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Signup(ctx, tc.in)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestSignupEmailUniqueness(t *testing.T) {
	s, mail := newTestService()
	ctx := context.Background()

	u, err := s.Signup(ctx, validSignup("Dana@Example.com", "dana"))
	require.NoError(t, err)
	assert.Equal(t, "dana@example.com", u.Email)
	assert.Equal(t, model.UserStatusPending, u.Status)
	assert.Equal(t, 1, mail.Count("confirm_email"))

	// Same email, different case, different nickname: the lock row wins
	// for exactly one of them.
	_, err = s.Signup(ctx, validSignup("dana@example.COM", "dana2"))
	require.Error(t, err)
	ae := apperr.As(err)
	assert.Equal(t, apperr.KindConflict, ae.Kind)
	assert.Equal(t, "EmailInUse", ae.Code)
	assert.Equal(t, 1, mail.Count("confirm_email"))
}

func TestSignupNicknameUniqueness(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	_, err := s.Signup(ctx, validSignup("one@example.com", "taken"))
	require.NoError(t, err)
	_, err = s.Signup(ctx, validSignup("two@example.com", "taken"))
	require.Error(t, err)
	assert.Equal(t, "NicknameInUse", apperr.As(err).Code)
}

func TestLoginFlow(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	u, err := s.Signup(ctx, validSignup("kim@example.com", "kim"))
	require.NoError(t, err)

	access, got, err := s.Login(ctx, "kim@example.com", "Str0ng!pass")
	require.NoError(t, err)
	assert.NotEmpty(t, access)
	assert.Equal(t, u.ID, got.ID)

	// Wrong password and unknown email fail identically.
	_, _, err = s.Login(ctx, "kim@example.com", "WrongPass1!")
	wrongPass := apperr.As(err)
	_, _, err = s.Login(ctx, "ghost@example.com", "Str0ng!pass")
	unknown := apperr.As(err)
	assert.Equal(t, wrongPass.Code, unknown.Code)
	assert.Equal(t, wrongPass.Message, unknown.Message)
}

func TestConfirmEmailSingleUse(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	u, err := s.Signup(ctx, validSignup("pat@example.com", "pat"))
	require.NoError(t, err)
	confirm, err := s.tokens.SinglePurpose(u.ID, token.UseConfirm, time.Hour)
	require.NoError(t, err)

	require.NoError(t, s.ConfirmEmail(ctx, confirm))
	err = s.ConfirmEmail(ctx, confirm)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	// An access token never confirms.
	access, _, err := s.Login(ctx, "pat@example.com", "Str0ng!pass")
	require.NoError(t, err)
	err = s.ConfirmEmail(ctx, access)
	assert.Equal(t, apperr.KindUnauthenticated, apperr.KindOf(err))
}

func TestPasswordResetSilentOnUnknownEmail(t *testing.T) {
	s, mail := newTestService()
	ctx := context.Background()

	require.NoError(t, s.RequestPasswordReset(ctx, "nobody@example.com"))
	assert.Equal(t, 0, mail.Count("password_reset"))

	u, err := s.Signup(ctx, validSignup("ron@example.com", "ron"))
	require.NoError(t, err)

	// Pending accounts get no reset mail either.
	require.NoError(t, s.RequestPasswordReset(ctx, "ron@example.com"))
	assert.Equal(t, 0, mail.Count("password_reset"))

	confirm, err := s.tokens.SinglePurpose(u.ID, token.UseConfirm, time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.ConfirmEmail(ctx, confirm))

	require.NoError(t, s.RequestPasswordReset(ctx, "ron@example.com"))
	assert.Equal(t, 1, mail.Count("password_reset"))
}

func TestResetPasswordRotates(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	u, err := s.Signup(ctx, validSignup("ada@example.com", "ada"))
	require.NoError(t, err)
	reset, err := s.tokens.SinglePurpose(u.ID, token.UseReset, time.Hour)
	require.NoError(t, err)

	require.NoError(t, s.ResetPassword(ctx, reset, "N3w!Passw0rd"))
	_, _, err = s.Login(ctx, "ada@example.com", "Str0ng!pass")
	assert.Error(t, err)
	_, _, err = s.Login(ctx, "ada@example.com", "N3w!Passw0rd")
	assert.NoError(t, err)
}

func TestAvailabilityChecks(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	free, err := s.IsEmailAvailable(ctx, "new@example.com")
	require.NoError(t, err)
	assert.True(t, free)
	free, err = s.IsNicknameAvailable(ctx, "newbie")
	require.NoError(t, err)
	assert.True(t, free)

	_, err = s.Signup(ctx, validSignup("new@example.com", "newbie"))
	require.NoError(t, err)

	free, err = s.IsEmailAvailable(ctx, "NEW@example.com")
	require.NoError(t, err)
	assert.False(t, free)
	free, err = s.IsNicknameAvailable(ctx, "newbie")
	require.NoError(t, err)
	assert.False(t, free)
}

func TestProfileUpdateWhitelist(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	u, err := s.Signup(ctx, validSignup("mel@example.com", "mel"))
	require.NoError(t, err)

	bio := "climber"
	got, err := s.Update(ctx, u.ID, UpdateInput{Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, "climber", got.Bio)
	assert.Equal(t, u.Email, got.Email)
	assert.Equal(t, u.Nickname, got.Nickname)
}
