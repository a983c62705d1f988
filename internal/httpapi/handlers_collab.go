package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleSendInvite(w http.ResponseWriter, r *http.Request) {
	var in struct {
		InviteeID    string `json:"inviteeId"`
		ResourceType string `json:"resourceType"`
		ResourceID   string `json:"resourceId"`
	}
	if err := readJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	inv, err := s.collab.SendInvite(r.Context(), principal(r).Sub, in.InviteeID, in.ResourceType, in.ResourceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (s *Server) handleListInvites(w http.ResponseWriter, r *http.Request) {
	invites, err := s.collab.InvitesFor(r.Context(), principal(r).Sub, r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invites": invites})
}

func (s *Server) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ResourceType string `json:"resourceType"`
		ResourceID   string `json:"resourceId"`
	}
	if err := readJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.collab.Accept(r.Context(), principal(r).Sub, in.ResourceType, in.ResourceID, chi.URLParam(r, "inviteId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeclineInvite(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ResourceType string `json:"resourceType"`
		ResourceID   string `json:"resourceId"`
	}
	if err := readJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.collab.Decline(r.Context(), principal(r).Sub, in.ResourceType, in.ResourceID, chi.URLParam(r, "inviteId")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "declined"})
}

func (s *Server) handleListCollaborators(w http.ResponseWriter, r *http.Request) {
	collaborators, err := s.collab.Collaborators(r.Context(), chi.URLParam(r, "resourceType"), chi.URLParam(r, "resourceId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collaborators": collaborators})
}

func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ResourceType string `json:"resourceType"`
		ResourceID   string `json:"resourceId"`
		Body         string `json:"body"`
	}
	if err := readJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.collab.CreateComment(r.Context(), principal(r).Sub, in.ResourceType, in.ResourceID, in.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	comments, next, err := s.collab.Comments(r.Context(), chi.URLParam(r, "resourceType"), chi.URLParam(r, "resourceId"),
		queryInt(r, "limit", 0), r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": comments, "nextCursor": next})
}

func (s *Server) handleReact(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Emoji string `json:"emoji"`
	}
	if err := readJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	reactions, err := s.collab.React(r.Context(), principal(r).Sub, chi.URLParam(r, "commentId"), in.Emoji)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reactions": reactions})
}

func (s *Server) handleListReactions(w http.ResponseWriter, r *http.Request) {
	counts, err := s.collab.ReactionCounts(r.Context(), chi.URLParam(r, "commentId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": counts})
}
