package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/guildhall-dev/guildhall/internal/goal"
	"github.com/guildhall-dev/guildhall/internal/guild"
)

func (s *Server) handleCreateGoal(w http.ResponseWriter, r *http.Request) {
	var in goal.CreateInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	g, err := s.goals.Create(r.Context(), principal(r).Sub, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleListGoals(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("includeArchived") == "true"
	goals, next, err := s.goals.List(r.Context(), principal(r).Sub, includeArchived, queryInt(r, "limit", 0), r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"goals": goals, "nextCursor": next})
}

func (s *Server) handleGetGoal(w http.ResponseWriter, r *http.Request) {
	g, err := s.goals.Get(r.Context(), principal(r).Sub, chi.URLParam(r, "goalId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleUpdateGoal(w http.ResponseWriter, r *http.Request) {
	var in goal.UpdateInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	g, err := s.goals.Update(r.Context(), principal(r).Sub, chi.URLParam(r, "goalId"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleDeleteGoal(w http.ResponseWriter, r *http.Request) {
	if err := s.goals.Delete(r.Context(), principal(r).Sub, chi.URLParam(r, "goalId")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGoalProgress(w http.ResponseWriter, r *http.Request) {
	userID := principal(r).Sub
	p, err := s.goals.ComputeProgress(r.Context(), userID, chi.URLParam(r, "goalId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.emitMilestones(r, userID, p)
	writeJSON(w, http.StatusOK, p)
}

// emitMilestones fans newly reached thresholds out to the feeds of the
// owner's guilds. Feed writes are best effort; the progress response
// never fails on them.
func (s *Server) emitMilestones(r *http.Request, userID string, p goal.GoalProgress) {
	ctx := r.Context()
	fresh, err := s.goals.RecordMilestones(ctx, userID, p.Goal.ID, p.Milestones)
	if err != nil || len(fresh) == 0 {
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("record milestones")
		}
		return
	}
	memberships, err := s.guilds.GuildsOf(ctx, userID)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list guilds for milestone feed")
		return
	}
	for _, threshold := range fresh {
		detail := fmt.Sprintf("%s reached %d%%", p.Goal.Title, threshold)
		for _, m := range memberships {
			if err := s.guilds.Emit(ctx, m.GuildID, userID, guild.ActivityMilestone, detail); err != nil {
				hlog.FromRequest(r).Error().Err(err).Str("guild", m.GuildID).Msg("emit milestone activity")
			}
		}
	}
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Title string `json:"title"`
	}
	if err := readJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.goals.CreateTask(r.Context(), principal(r).Sub, chi.URLParam(r, "goalId"), in.Title)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, next, err := s.goals.ListTasks(r.Context(), principal(r).Sub, chi.URLParam(r, "goalId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "nextCursor": next})
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Title string `json:"title"`
	}
	if err := readJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.goals.UpdateTask(r.Context(), principal(r).Sub, chi.URLParam(r, "goalId"), chi.URLParam(r, "taskId"), in.Title)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleToggleTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.goals.ToggleTask(r.Context(), principal(r).Sub, chi.URLParam(r, "goalId"), chi.URLParam(r, "taskId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.goals.DeleteTask(r.Context(), principal(r).Sub, chi.URLParam(r, "goalId"), chi.URLParam(r, "taskId")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
