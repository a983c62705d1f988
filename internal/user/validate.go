package user

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/guildhall-dev/guildhall/internal/apperr"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func validateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return apperr.Validation("email", "not a valid email address")
	}
	return nil
}

func validateNickname(nickname string) error {
	if n := len(nickname); n < 1 || n > 32 {
		return apperr.Validation("nickname", "must be 1-32 characters")
	}
	if strings.ContainsAny(nickname, " #@") {
		return apperr.Validation("nickname", "must not contain spaces, # or @")
	}
	return nil
}

// validatePassword enforces length 8+, upper, lower, digit and special.
func validatePassword(password string) error {
	if len(password) < 8 {
		return apperr.Validation("password", "must be at least 8 characters")
	}
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}
	if !upper || !lower || !digit || !special {
		return apperr.Validation("password", "must contain upper, lower, digit and special characters")
	}
	return nil
}

// validateBirthDate requires YYYY-MM-DD at least one year in the past.
func validateBirthDate(birthDate string, nowMs int64) error {
	t, err := time.Parse("2006-01-02", birthDate)
	if err != nil {
		return apperr.Validation("birthDate", "must be YYYY-MM-DD")
	}
	if t.After(time.UnixMilli(nowMs).AddDate(-1, 0, 0)) {
		return apperr.Validation("birthDate", "must be at least one year in the past")
	}
	return nil
}
