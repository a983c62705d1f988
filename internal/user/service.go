// Package user implements signup, login, email confirmation, password
// reset and profile management.
package user

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/guildhall-dev/guildhall/internal/apperr"
	"github.com/guildhall-dev/guildhall/internal/keys"
	"github.com/guildhall-dev/guildhall/internal/mailer"
	"github.com/guildhall-dev/guildhall/internal/model"
	"github.com/guildhall-dev/guildhall/internal/storage"
	"github.com/guildhall-dev/guildhall/internal/token"
)

// BcryptCost is the hashing cost for stored passwords.
const BcryptCost = 10

// Token lifetimes for the single-purpose flows.
const (
	ConfirmTokenTTL = 24 * time.Hour
	ResetTokenTTL   = time.Hour
)

// CountryChecker reports membership in the closed country set.
type CountryChecker func(code string) bool

// Service is the user domain service.
type Service struct {
	store    storage.Store
	tokens   *token.Issuer
	mail     mailer.Mailer
	country  CountryChecker
	tokenTTL time.Duration
	now      model.Clock
	log      zerolog.Logger
}

// New builds the service.
func New(store storage.Store, tokens *token.Issuer, mail mailer.Mailer, country CountryChecker, accessTTL time.Duration, now model.Clock, log zerolog.Logger) *Service {
	if now == nil {
		now = model.NowClock
	}
	return &Service{
		store:    store,
		tokens:   tokens,
		mail:     mail,
		country:  country,
		tokenTTL: accessTTL,
		now:      now,
		log:      log.With().Str("component", "user").Logger(),
	}
}

// SignupInput is the signup request body.
type SignupInput struct {
	Email     string `json:"email"`
	Nickname  string `json:"nickname"`
	Password  string `json:"password"`
	Country   string `json:"country"`
	BirthDate string `json:"birthDate"`
}

// Signup validates input and writes profile plus email uniqueness lock
// in one transaction. Exactly one of two concurrent signups for the
// same email can win the lock's attribute_not_exists condition.
func (s *Service) Signup(ctx context.Context, in SignupInput) (model.User, error) {
	if err := validateEmail(in.Email); err != nil {
		return model.User{}, err
	}
	if err := validateNickname(in.Nickname); err != nil {
		return model.User{}, err
	}
	if err := validatePassword(in.Password); err != nil {
		return model.User{}, err
	}
	if !s.country(in.Country) {
		return model.User{}, apperr.Validation("country", "country not supported")
	}
	now := s.now()
	if err := validateBirthDate(in.BirthDate, now); err != nil {
		return model.User{}, err
	}

	if taken, err := s.nicknameTaken(ctx, in.Nickname); err != nil {
		return model.User{}, err
	} else if taken {
		return model.User{}, apperr.Conflict("NicknameInUse", "nickname is already taken")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), BcryptCost)
	if err != nil {
		return model.User{}, apperr.Internal(err)
	}

	u := model.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(in.Email),
		Nickname:     in.Nickname,
		PasswordHash: string(hash),
		Country:      strings.ToUpper(in.Country),
		BirthDate:    in.BirthDate,
		Status:       model.UserStatusPending,
		Provider:     "local",
		Role:         "user",
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.store.TransactWrite(ctx, []storage.WriteOp{
		{Put: u.Item(), Condition: storage.NotExists(storage.AttrPK)},
		{Put: model.EmailLockItem(u.Email, u.ID, now), Condition: storage.NotExists(storage.AttrPK)},
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return model.User{}, apperr.Conflict("EmailInUse", "email is already registered")
		}
		return model.User{}, apperr.Internal(err)
	}

	confirm, err := s.tokens.SinglePurpose(u.ID, token.UseConfirm, ConfirmTokenTTL)
	if err != nil {
		return model.User{}, apperr.Internal(err)
	}
	if err := s.mail.SendConfirmation(ctx, u.Email, confirm); err != nil {
		// The account exists; confirmation can be re-requested.
		s.log.Error().Err(err).Str("user", u.ID).Msg("confirmation mail enqueue failed")
	}
	s.log.Info().Str("user", u.ID).Msg("user signed up")
	return u, nil
}

// ConfirmEmail flips a pending account to active. The token is single
// use: confirming an already-active account conflicts.
func (s *Service) ConfirmEmail(ctx context.Context, raw string) error {
	claims, err := s.tokens.Verify(raw, token.UseConfirm)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return apperr.Gone("confirmation token expired")
		}
		return apperr.Unauthenticated("invalid_token", "invalid confirmation token")
	}
	_, err = s.store.Update(ctx, storage.UpdateInput{
		PK:        keys.User(claims.Subject),
		SK:        keys.Profile(claims.Subject),
		Set:       storage.Item{"status": model.UserStatusActive, "updatedAt": s.now()},
		Condition: storage.Eq("status", model.UserStatusPending),
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return apperr.Conflict("already_confirmed", "email already confirmed")
		}
		return apperr.Internal(err)
	}
	return nil
}

// Login verifies credentials and issues an internal access token.
func (s *Service) Login(ctx context.Context, email, password string) (string, model.User, error) {
	u, err := s.byEmail(ctx, email)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			// Same failure shape as a wrong password; no enumeration.
			return "", model.User{}, apperr.Unauthenticated("invalid_credentials", "invalid email or password")
		}
		return "", model.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", model.User{}, apperr.Unauthenticated("invalid_credentials", "invalid email or password")
	}
	access, err := s.tokens.Access(u.ID, u.Email, u.Nickname, u.Role, s.tokenTTL)
	if err != nil {
		return "", model.User{}, apperr.Internal(err)
	}
	return access, u, nil
}

// RequestPasswordReset enqueues a reset mail for confirmed local
// accounts. It reports nothing about whether the email exists.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := s.byEmail(ctx, email)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil
		}
		return err
	}
	if u.Provider != "local" || u.Status != model.UserStatusActive {
		return nil
	}
	reset, err := s.tokens.SinglePurpose(u.ID, token.UseReset, ResetTokenTTL)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := s.mail.SendPasswordReset(ctx, u.Email, reset); err != nil {
		return apperr.Dependency("mailer", err)
	}
	return nil
}

// ResetPassword rotates the password after verifying the reset token.
func (s *Service) ResetPassword(ctx context.Context, raw, newPassword string) error {
	claims, err := s.tokens.Verify(raw, token.UseReset)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return apperr.Gone("reset token expired")
		}
		return apperr.Unauthenticated("invalid_token", "invalid reset token")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), BcryptCost)
	if err != nil {
		return apperr.Internal(err)
	}
	now := s.now()
	_, err = s.store.Update(ctx, storage.UpdateInput{
		PK: keys.User(claims.Subject),
		SK: keys.Profile(claims.Subject),
		Set: storage.Item{
			"passwordHash":      string(hash),
			"passwordUpdatedAt": now,
			"updatedAt":         now,
		},
		Condition: storage.Condition{{Attr: "id", Op: storage.OpEq, Value: claims.Subject}},
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return apperr.NotFound("user")
		}
		return apperr.Internal(err)
	}
	return nil
}

// Get returns the caller's profile.
func (s *Service) Get(ctx context.Context, userID string) (model.User, error) {
	item, err := s.store.Get(ctx, keys.User(userID), keys.Profile(userID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.User{}, apperr.NotFound("user")
		}
		return model.User{}, apperr.Internal(err)
	}
	return model.UserFromItem(item), nil
}

// UpdateInput is the whitelisted set of mutable profile fields.
type UpdateInput struct {
	Bio       *string `json:"bio,omitempty"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
	Country   *string `json:"country,omitempty"`
}

// Update applies the whitelisted fields; everything else is immutable
// through this path.
func (s *Service) Update(ctx context.Context, userID string, in UpdateInput) (model.User, error) {
	set := storage.Item{"updatedAt": s.now()}
	if in.Bio != nil {
		set["bio"] = *in.Bio
	}
	if in.AvatarURL != nil {
		set["avatarUrl"] = *in.AvatarURL
	}
	if in.Country != nil {
		if !s.country(*in.Country) {
			return model.User{}, apperr.Validation("country", "country not supported")
		}
		set["country"] = strings.ToUpper(*in.Country)
	}
	item, err := s.store.Update(ctx, storage.UpdateInput{
		PK:        keys.User(userID),
		SK:        keys.Profile(userID),
		Set:       set,
		Condition: storage.Condition{{Attr: "id", Op: storage.OpEq, Value: userID}},
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return model.User{}, apperr.NotFound("user")
		}
		return model.User{}, apperr.Internal(err)
	}
	return model.UserFromItem(item), nil
}

// IsEmailAvailable checks GSI3 for exact presence.
func (s *Service) IsEmailAvailable(ctx context.Context, email string) (bool, error) {
	out, err := s.store.Query(ctx, storage.QueryInput{
		Index:        storage.IndexGSI3,
		PartitionKey: keys.Email(email),
		Limit:        1,
	})
	if err != nil {
		return false, apperr.Internal(err)
	}
	return len(out.Items) == 0, nil
}

// IsNicknameAvailable checks GSI2 for exact presence.
func (s *Service) IsNicknameAvailable(ctx context.Context, nickname string) (bool, error) {
	taken, err := s.nicknameTaken(ctx, nickname)
	return !taken, err
}

// JoinWaitlist records one waitlist signup, idempotently.
func (s *Service) JoinWaitlist(ctx context.Context, email string) error {
	if err := validateEmail(email); err != nil {
		return err
	}
	err := s.store.Put(ctx, model.WaitlistEntryItem(email, s.now()), storage.NotExists(storage.AttrPK))
	if err != nil && !errors.Is(err, storage.ErrConflict) {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Service) nicknameTaken(ctx context.Context, nickname string) (bool, error) {
	out, err := s.store.Query(ctx, storage.QueryInput{
		Index:        storage.IndexGSI2,
		PartitionKey: keys.Nick(nickname),
		Limit:        1,
	})
	if err != nil {
		return false, apperr.Internal(err)
	}
	return len(out.Items) > 0, nil
}

func (s *Service) byEmail(ctx context.Context, email string) (model.User, error) {
	out, err := s.store.Query(ctx, storage.QueryInput{
		Index:        storage.IndexGSI3,
		PartitionKey: keys.Email(email),
		Limit:        1,
	})
	if err != nil {
		return model.User{}, apperr.Internal(err)
	}
	if len(out.Items) == 0 {
		return model.User{}, apperr.NotFound("user")
	}
	return model.UserFromItem(out.Items[0]), nil
}
