package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/guildhall-dev/guildhall/internal/guild"
	"github.com/guildhall-dev/guildhall/internal/model"
)

func (s *Server) handleGuildDirectory(w http.ResponseWriter, r *http.Request) {
	guilds, next, err := s.guilds.List(r.Context(), queryInt(r, "limit", 0), r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"guilds": guilds, "nextCursor": next})
}

func (s *Server) handleCreateGuild(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := readJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	g, err := s.guilds.Create(r.Context(), principal(r).Sub, in.Name, in.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleGetGuild(w http.ResponseWriter, r *http.Request) {
	g, err := s.guilds.Get(r.Context(), chi.URLParam(r, "guildId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleJoinGuild(w http.ResponseWriter, r *http.Request) {
	if err := s.guilds.Join(r.Context(), chi.URLParam(r, "guildId"), principal(r).Sub); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "joined"})
}

func (s *Server) handleLeaveGuild(w http.ResponseWriter, r *http.Request) {
	if err := s.guilds.Leave(r.Context(), chi.URLParam(r, "guildId"), principal(r).Sub); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGuildMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.guilds.Members(r.Context(), chi.URLParam(r, "guildId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (s *Server) handleCreateGuildQuest(w http.ResponseWriter, r *http.Request) {
	var in guild.CreateQuestInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := s.guilds.CreateQuest(r.Context(), chi.URLParam(r, "guildId"), principal(r).Sub, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (s *Server) handleListGuildQuests(w http.ResponseWriter, r *http.Request) {
	quests, err := s.guilds.Quests(r.Context(), chi.URLParam(r, "guildId"), principal(r).Sub)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quests": quests})
}

func (s *Server) handleCompleteGuildQuest(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Contribution int64 `json:"contribution"`
		Percent      int64 `json:"percent"`
	}
	if err := readJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.guilds.Complete(r.Context(), chi.URLParam(r, "guildId"), chi.URLParam(r, "questId"), principal(r).Sub, in.Contribution, in.Percent)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGuildQuestProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.guilds.QuestProgress(r.Context(), chi.URLParam(r, "guildId"), chi.URLParam(r, "questId"), principal(r).Sub)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"progress": progress})
}

func (s *Server) handleGuildFeed(w http.ResponseWriter, r *http.Request) {
	feed, next, err := s.guilds.Feed(r.Context(), chi.URLParam(r, "guildId"), principal(r).Sub, queryInt(r, "limit", 0), r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activities": feed, "nextCursor": next})
}

func (s *Server) handleGuildAnalytics(w http.ResponseWriter, r *http.Request) {
	a, err := s.guilds.Analytics(r.Context(), chi.URLParam(r, "guildId"), principal(r).Sub, s.analytics)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleGuildMessages(w http.ResponseWriter, r *http.Request) {
	messages, next, err := s.chat.History(r.Context(), model.ScopeGuild, chi.URLParam(r, "guildId"), principal(r).Sub,
		queryInt64(r, "after"), queryInt(r, "limit", 0), r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages, "nextCursor": next})
}

func (s *Server) handleSendGuildMessage(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Text string `json:"text"`
	}
	if err := readJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	msg, err := s.chat.Send(r.Context(), model.ScopeGuild, chi.URLParam(r, "guildId"), principal(r).Sub, in.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
