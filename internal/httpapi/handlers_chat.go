package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/guildhall-dev/guildhall/internal/model"
)

func (s *Server) handleRoomHistory(w http.ResponseWriter, r *http.Request) {
	messages, next, err := s.chat.History(r.Context(), model.ScopeRoom, chi.URLParam(r, "roomId"), principal(r).Sub,
		queryInt64(r, "after"), queryInt(r, "limit", 0), r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages, "nextCursor": next})
}

func (s *Server) handleSendRoomMessage(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Text string `json:"text"`
	}
	if err := readJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	msg, err := s.chat.Send(r.Context(), model.ScopeRoom, chi.URLParam(r, "roomId"), principal(r).Sub, in.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
