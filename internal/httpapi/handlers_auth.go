package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/guildhall-dev/guildhall/internal/apperr"
	"github.com/guildhall-dev/guildhall/internal/model"
	"github.com/guildhall-dev/guildhall/internal/user"
)

// Login lockout: this many recorded failures inside the window locks
// the account key out.
const lockoutWindow = 15 * time.Minute

func (s *Server) handleWaitlist(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
	}
	if err := readJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.users.JoinWaitlist(r.Context(), in.Email); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "subscribed"})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in user.SignupInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := s.users.Signup(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, publicUser(u))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	key := strings.ToLower(in.Email)

	locked, err := s.limiter.LoginLocked(r.Context(), key, s.limits.LoginLockoutThreshold, lockoutWindow)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if locked {
		writeError(w, r, apperr.TooManyRequests(lockoutWindow))
		return
	}

	access, u, err := s.users.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		if apperr.IsKind(err, apperr.KindUnauthenticated) {
			if recErr := s.limiter.RecordLoginFailure(r.Context(), key); recErr != nil {
				s.log.Error().Err(recErr).Msg("recording login failure")
			}
		}
		writeError(w, r, err)
		return
	}
	if err := s.limiter.ClearLoginFailures(r.Context(), key); err != nil {
		s.log.Error().Err(err).Msg("clearing login failures")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken": access,
		"user":        publicUser(u),
	})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token string `json:"token"`
	}
	if err := readJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.users.ConfirmEmail(r.Context(), in.Token); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}

func (s *Server) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
	}
	if err := readJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.users.RequestPasswordReset(r.Context(), in.Email); err != nil {
		// Dependency failures surface; a missing account does not.
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := readJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.users.ResetPassword(r.Context(), in.Token, in.Password); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	u, err := s.users.Get(r.Context(), principal(r).Sub)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, publicUser(u))
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var in user.UpdateInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := s.users.Update(r.Context(), principal(r).Sub, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, publicUser(u))
}

// publicUser strips credentials and the account email-state machinery
// from wire responses.
func publicUser(u model.User) map[string]any {
	return map[string]any{
		"id":        u.ID,
		"email":     u.Email,
		"nickname":  u.Nickname,
		"status":    u.Status,
		"role":      u.Role,
		"country":   u.Country,
		"bio":       u.Bio,
		"avatarUrl": u.AvatarURL,
		"createdAt": u.CreatedAt,
	}
}
