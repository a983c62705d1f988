// Package goal implements goal and task CRUD plus the hybrid progress
// computation.
package goal

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/guildhall-dev/guildhall/internal/apperr"
	"github.com/guildhall-dev/guildhall/internal/keys"
	"github.com/guildhall-dev/guildhall/internal/model"
	"github.com/guildhall-dev/guildhall/internal/storage"
)

// Service is the goal domain service. All operations are owner-scoped:
// goals live under the owner's partition, so a foreign goal id simply
// does not resolve.
type Service struct {
	store storage.Store
	now   model.Clock
	log   zerolog.Logger
}

// New builds the service.
func New(store storage.Store, now model.Clock, log zerolog.Logger) *Service {
	if now == nil {
		now = model.NowClock
	}
	return &Service{store: store, now: now, log: log.With().Str("component", "goal").Logger()}
}

// CreateInput is the goal creation body.
type CreateInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Deadline    int64  `json:"deadline"`
}

// Create writes a new active goal.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (model.Goal, error) {
	if in.Title == "" {
		return model.Goal{}, apperr.Validation("title", "title is required")
	}
	now := s.now()
	if in.Deadline != 0 && in.Deadline <= now {
		return model.Goal{}, apperr.Validation("deadline", "deadline must be in the future")
	}
	g := model.Goal{
		ID:          uuid.NewString(),
		UserID:      userID,
		Title:       in.Title,
		Description: in.Description,
		Status:      model.GoalStatusActive,
		Deadline:    in.Deadline,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Put(ctx, g.Item(), storage.NotExists(storage.AttrPK)); err != nil {
		return model.Goal{}, apperr.Internal(err)
	}
	return g, nil
}

// List returns the user's goals, optionally including archived ones.
func (s *Service) List(ctx context.Context, userID string, includeArchived bool, limit int, cursor string) ([]model.Goal, string, error) {
	in := storage.QueryInput{
		PartitionKey: keys.User(userID),
		Sort:         &storage.SortCondition{Op: storage.SortBeginsWith, Value: keys.PrefixGoal},
		Limit:        limit,
		Forward:      true,
		Cursor:       cursor,
	}
	if !includeArchived {
		in.Filter = storage.Condition{{Attr: "status", Op: storage.OpNE, Value: model.GoalStatusArchived}}
	}
	out, err := s.store.Query(ctx, in)
	if err != nil {
		return nil, "", apperr.Internal(err)
	}
	goals := make([]model.Goal, 0, len(out.Items))
	for _, item := range out.Items {
		goals = append(goals, model.GoalFromItem(item))
	}
	return goals, out.NextCursor, nil
}

// Get returns one goal owned by userID.
func (s *Service) Get(ctx context.Context, userID, goalID string) (model.Goal, error) {
	item, err := s.store.Get(ctx, keys.User(userID), keys.Goal(goalID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Goal{}, apperr.NotFound("goal")
		}
		return model.Goal{}, apperr.Internal(err)
	}
	return model.GoalFromItem(item), nil
}

// UpdateInput carries the mutable goal fields.
type UpdateInput struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
	Deadline    *int64  `json:"deadline,omitempty"`
}

// Update mutates a goal. Status transitions are restricted to the
// active → completed | archived lifecycle.
func (s *Service) Update(ctx context.Context, userID, goalID string, in UpdateInput) (model.Goal, error) {
	set := storage.Item{"updatedAt": s.now()}
	if in.Title != nil {
		if *in.Title == "" {
			return model.Goal{}, apperr.Validation("title", "title is required")
		}
		set["title"] = *in.Title
	}
	if in.Description != nil {
		set["description"] = *in.Description
	}
	if in.Deadline != nil {
		set["deadline"] = *in.Deadline
	}
	cond := storage.Condition{{Attr: "id", Op: storage.OpEq, Value: goalID}}
	if in.Status != nil {
		switch *in.Status {
		case model.GoalStatusCompleted, model.GoalStatusArchived:
			cond = append(cond, storage.Clause{Attr: "status", Op: storage.OpEq, Value: model.GoalStatusActive})
		default:
			return model.Goal{}, apperr.Validation("status", "status must be completed or archived")
		}
		set["status"] = *in.Status
	}
	item, err := s.store.Update(ctx, storage.UpdateInput{
		PK:        keys.User(userID),
		SK:        keys.Goal(goalID),
		Set:       set,
		Condition: cond,
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			if _, getErr := s.store.Get(ctx, keys.User(userID), keys.Goal(goalID)); errors.Is(getErr, storage.ErrNotFound) {
				return model.Goal{}, apperr.NotFound("goal")
			}
			return model.Goal{}, apperr.Conflict("invalid_transition", "goal is not active")
		}
		return model.Goal{}, apperr.Internal(err)
	}
	return model.GoalFromItem(item), nil
}

// Delete removes a goal and its tasks.
func (s *Service) Delete(ctx context.Context, userID, goalID string) error {
	if _, err := s.Get(ctx, userID, goalID); err != nil {
		return err
	}
	tasks, _, err := s.ListTasks(ctx, userID, goalID)
	if err != nil {
		return err
	}
	ops := []storage.WriteOp{{Delete: &storage.Key{PK: keys.User(userID), SK: keys.Goal(goalID)}}}
	for _, t := range tasks {
		ops = append(ops, storage.WriteOp{Delete: &storage.Key{PK: keys.Goal(goalID), SK: keys.Task(t.ID)}})
		if len(ops) == storage.MaxTransactOps {
			if err := s.store.TransactWrite(ctx, ops); err != nil {
				return apperr.Internal(err)
			}
			ops = ops[:0]
		}
	}
	if len(ops) > 0 {
		if err := s.store.TransactWrite(ctx, ops); err != nil {
			return apperr.Internal(err)
		}
	}
	return nil
}

// CreateTask appends a task to a goal the caller owns.
func (s *Service) CreateTask(ctx context.Context, userID, goalID, title string) (model.Task, error) {
	if title == "" {
		return model.Task{}, apperr.Validation("title", "title is required")
	}
	if _, err := s.Get(ctx, userID, goalID); err != nil {
		return model.Task{}, err
	}
	now := s.now()
	t := model.Task{
		ID:        uuid.NewString(),
		GoalID:    goalID,
		UserID:    userID,
		Title:     title,
		Status:    model.TaskStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Put(ctx, t.Item(), storage.NotExists(storage.AttrPK)); err != nil {
		return model.Task{}, apperr.Internal(err)
	}
	return t, nil
}

// ListTasks returns a goal's tasks after an ownership check.
func (s *Service) ListTasks(ctx context.Context, userID, goalID string) ([]model.Task, string, error) {
	if _, err := s.Get(ctx, userID, goalID); err != nil {
		return nil, "", err
	}
	out, err := s.store.Query(ctx, storage.QueryInput{
		PartitionKey: keys.Goal(goalID),
		Sort:         &storage.SortCondition{Op: storage.SortBeginsWith, Value: keys.PrefixTask},
		Forward:      true,
	})
	if err != nil {
		return nil, "", apperr.Internal(err)
	}
	tasks := make([]model.Task, 0, len(out.Items))
	for _, item := range out.Items {
		tasks = append(tasks, model.TaskFromItem(item))
	}
	return tasks, out.NextCursor, nil
}

// ToggleTask flips a task between open and done and returns it.
func (s *Service) ToggleTask(ctx context.Context, userID, goalID, taskID string) (model.Task, error) {
	if _, err := s.Get(ctx, userID, goalID); err != nil {
		return model.Task{}, err
	}
	item, err := s.store.Get(ctx, keys.Goal(goalID), keys.Task(taskID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Task{}, apperr.NotFound("task")
		}
		return model.Task{}, apperr.Internal(err)
	}
	t := model.TaskFromItem(item)
	next := model.TaskStatusDone
	if t.Status == model.TaskStatusDone {
		next = model.TaskStatusOpen
	}
	updated, err := s.store.Update(ctx, storage.UpdateInput{
		PK:        keys.Goal(goalID),
		SK:        keys.Task(taskID),
		Set:       storage.Item{"status": next, "updatedAt": s.now()},
		Condition: storage.Eq("status", t.Status),
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return model.Task{}, apperr.Conflict("concurrent_update", "task changed concurrently")
		}
		return model.Task{}, apperr.Internal(err)
	}
	return model.TaskFromItem(updated), nil
}

// UpdateTask renames a task.
func (s *Service) UpdateTask(ctx context.Context, userID, goalID, taskID, title string) (model.Task, error) {
	if title == "" {
		return model.Task{}, apperr.Validation("title", "title is required")
	}
	if _, err := s.Get(ctx, userID, goalID); err != nil {
		return model.Task{}, err
	}
	updated, err := s.store.Update(ctx, storage.UpdateInput{
		PK:        keys.Goal(goalID),
		SK:        keys.Task(taskID),
		Set:       storage.Item{"title": title, "updatedAt": s.now()},
		Condition: storage.Condition{{Attr: storage.AttrPK, Op: storage.OpExists}},
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return model.Task{}, apperr.NotFound("task")
		}
		return model.Task{}, apperr.Internal(err)
	}
	return model.TaskFromItem(updated), nil
}

// DeleteTask removes one task.
func (s *Service) DeleteTask(ctx context.Context, userID, goalID, taskID string) error {
	if _, err := s.Get(ctx, userID, goalID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, keys.Goal(goalID), keys.Task(taskID), storage.Condition{{Attr: storage.AttrPK, Op: storage.OpExists}}); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return apperr.NotFound("task")
		}
		return apperr.Internal(err)
	}
	return nil
}

// GoalProgress is a goal with its derived progress and milestones.
type GoalProgress struct {
	Goal       model.Goal `json:"goal"`
	Completed  int        `json:"completedTasks"`
	Total      int        `json:"totalTasks"`
	Progress   int        `json:"progress"`
	Milestones []int      `json:"milestones"`
}

// ComputeProgress derives a goal's progress from its tasks and clock.
func (s *Service) ComputeProgress(ctx context.Context, userID, goalID string) (GoalProgress, error) {
	g, err := s.Get(ctx, userID, goalID)
	if err != nil {
		return GoalProgress{}, err
	}
	tasks, _, err := s.ListTasks(ctx, userID, goalID)
	if err != nil {
		return GoalProgress{}, err
	}
	completed := 0
	for _, t := range tasks {
		if t.Status == model.TaskStatusDone {
			completed++
		}
	}
	progress := Progress(completed, len(tasks), g.CreatedAt, g.Deadline, s.now())
	return GoalProgress{
		Goal:       g,
		Completed:  completed,
		Total:      len(tasks),
		Progress:   progress,
		Milestones: Milestones(progress),
	}, nil
}

// RecordMilestones marks thresholds as achieved on the goal row and
// returns the ones not seen before. The per-threshold guard makes each
// achievement fire exactly once however often progress is read.
func (s *Service) RecordMilestones(ctx context.Context, userID, goalID string, achieved []int) ([]int, error) {
	if _, err := s.Get(ctx, userID, goalID); err != nil {
		return nil, err
	}
	var fresh []int
	for _, threshold := range achieved {
		mark := strconv.Itoa(threshold)
		_, err := s.store.Update(ctx, storage.UpdateInput{
			PK:       keys.User(userID),
			SK:       keys.Goal(goalID),
			AddToSet: map[string][]string{"milestonesHit": {mark}},
			Condition: storage.Condition{
				{Attr: "milestonesHit", Op: storage.OpNotContains, Value: mark},
			},
		})
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, apperr.Internal(err)
		}
		fresh = append(fresh, threshold)
	}
	return fresh, nil
}

// CompletedCount returns how many completed goals a user has.
func (s *Service) CompletedCount(ctx context.Context, userID string) (int, error) {
	count := 0
	cursor := ""
	for {
		goals, next, err := s.List(ctx, userID, true, 100, cursor)
		if err != nil {
			return 0, err
		}
		for _, g := range goals {
			if g.Status == model.GoalStatusCompleted {
				count++
			}
		}
		if next == "" {
			return count, nil
		}
		cursor = next
	}
}

// ActiveCount returns how many active goals a user has.
func (s *Service) ActiveCount(ctx context.Context, userID string) (int, error) {
	count := 0
	cursor := ""
	for {
		goals, next, err := s.List(ctx, userID, false, 100, cursor)
		if err != nil {
			return 0, err
		}
		for _, g := range goals {
			if g.Status == model.GoalStatusActive {
				count++
			}
		}
		if next == "" {
			return count, nil
		}
		cursor = next
	}
}
