package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/guildhall-dev/guildhall/internal/quest"
)

func (s *Server) handleCreateQuest(w http.ResponseWriter, r *http.Request) {
	var in quest.CreateInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := s.quests.Create(r.Context(), principal(r).Sub, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (s *Server) handleListQuests(w http.ResponseWriter, r *http.Request) {
	quests, next, err := s.quests.List(r.Context(), principal(r).Sub, queryInt(r, "limit", 0), r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quests": quests, "nextCursor": next})
}

func (s *Server) handleGetQuest(w http.ResponseWriter, r *http.Request) {
	caller := principal(r).Sub
	// ownerId lets guild members read a shared quest; default is the
	// caller's own.
	owner := r.URL.Query().Get("ownerId")
	if owner == "" {
		owner = caller
	}
	q, err := s.quests.Get(r.Context(), caller, owner, chi.URLParam(r, "questId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleUpdateQuest(w http.ResponseWriter, r *http.Request) {
	var in quest.UpdateInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := s.quests.Update(r.Context(), principal(r).Sub, chi.URLParam(r, "questId"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// transitionQuest builds the start/complete/cancel/fail handlers.
func (s *Server) transitionQuest(to string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Reason string `json:"reason"`
		}
		// The body is optional on transitions.
		_ = json.NewDecoder(r.Body).Decode(&in)
		q, err := s.quests.Transition(r.Context(), principal(r).Sub, chi.URLParam(r, "questId"), to, in.Reason)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

func (s *Server) handleIncrementQuest(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Delta int64 `json:"delta"`
	}
	if err := readJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := s.quests.Increment(r.Context(), principal(r).Sub, chi.URLParam(r, "questId"), in.Delta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleQuestAudit(w http.ResponseWriter, r *http.Request) {
	trail, err := s.quests.AuditTrail(r.Context(), principal(r).Sub, chi.URLParam(r, "questId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit": trail})
}
