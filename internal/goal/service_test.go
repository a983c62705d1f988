package goal

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildhall-dev/guildhall/internal/apperr"
	"github.com/guildhall-dev/guildhall/internal/model"
	"github.com/guildhall-dev/guildhall/internal/storage/memory"
)

type testClock struct{ ts int64 }

func (c *testClock) now() int64 { c.ts += 1000; return c.ts }

func newTestService() (*Service, *testClock) {
	clock := &testClock{ts: 1_700_000_000_000}
	return New(memory.New(), clock.now, zerolog.Nop()), clock
}

func TestListExcludesArchivedByDefault(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	g1, err := s.Create(ctx, "u1", CreateInput{Title: "active one"})
	require.NoError(t, err)
	g2, err := s.Create(ctx, "u1", CreateInput{Title: "archived one"})
	require.NoError(t, err)

	archived := model.GoalStatusArchived
	_, err = s.Update(ctx, "u1", g2.ID, UpdateInput{Status: &archived})
	require.NoError(t, err)

	goals, _, err := s.List(ctx, "u1", false, 0, "")
	require.NoError(t, err)
	require.Len(t, goals, 1)
	assert.Equal(t, g1.ID, goals[0].ID)

	goals, _, err = s.List(ctx, "u1", true, 0, "")
	require.NoError(t, err)
	assert.Len(t, goals, 2)
}

func TestStatusTransitions(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	g, err := s.Create(ctx, "u1", CreateInput{Title: "g"})
	require.NoError(t, err)

	completed := model.GoalStatusCompleted
	g, err = s.Update(ctx, "u1", g.ID, UpdateInput{Status: &completed})
	require.NoError(t, err)
	assert.Equal(t, model.GoalStatusCompleted, g.Status)

	// A completed goal does not reactivate.
	active := model.GoalStatusActive
	_, err = s.Update(ctx, "u1", g.ID, UpdateInput{Status: &active})
	assert.Error(t, err)
}

func TestTaskToggle(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	g, err := s.Create(ctx, "u1", CreateInput{Title: "g"})
	require.NoError(t, err)
	task, err := s.CreateTask(ctx, "u1", g.ID, "step one")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusOpen, task.Status)

	task, err = s.ToggleTask(ctx, "u1", g.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusDone, task.Status)

	task, err = s.ToggleTask(ctx, "u1", g.ID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusOpen, task.Status)
}

func TestUpdateTaskRenames(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	g, err := s.Create(ctx, "u1", CreateInput{Title: "g"})
	require.NoError(t, err)
	task, err := s.CreateTask(ctx, "u1", g.ID, "step one")
	require.NoError(t, err)

	task, err = s.UpdateTask(ctx, "u1", g.ID, task.ID, "step one, revised")
	require.NoError(t, err)
	assert.Equal(t, "step one, revised", task.Title)
	assert.Equal(t, model.TaskStatusOpen, task.Status)

	_, err = s.UpdateTask(ctx, "u1", g.ID, task.ID, "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = s.UpdateTask(ctx, "u1", g.ID, "missing", "x")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = s.UpdateTask(ctx, "intruder", g.ID, task.ID, "x")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestDeleteCascadesTasks(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	g, err := s.Create(ctx, "u1", CreateInput{Title: "g"})
	require.NoError(t, err)
	for i := 0; i < 30; i++ {
		_, err := s.CreateTask(ctx, "u1", g.ID, "task")
		require.NoError(t, err)
	}

	require.NoError(t, s.Delete(ctx, "u1", g.ID))

	_, err = s.Get(ctx, "u1", g.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	tasks, _, err := s.ListTasks(ctx, "u1", g.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Empty(t, tasks)
}

func TestOwnerIsolation(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	g, err := s.Create(ctx, "owner", CreateInput{Title: "mine"})
	require.NoError(t, err)

	_, err = s.Get(ctx, "other", g.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestRecordMilestonesFiresOnce(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	g, err := s.Create(ctx, "u1", CreateInput{Title: "g"})
	require.NoError(t, err)

	fresh, err := s.RecordMilestones(ctx, "u1", g.ID, []int{25, 50})
	require.NoError(t, err)
	assert.Equal(t, []int{25, 50}, fresh)

	// Re-reading progress must not re-announce old thresholds.
	fresh, err = s.RecordMilestones(ctx, "u1", g.ID, []int{25, 50, 75})
	require.NoError(t, err)
	assert.Equal(t, []int{75}, fresh)

	fresh, err = s.RecordMilestones(ctx, "u1", g.ID, []int{25, 50, 75})
	require.NoError(t, err)
	assert.Empty(t, fresh)

	_, err = s.RecordMilestones(ctx, "other", g.ID, []int{25})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestComputeProgress(t *testing.T) {
	s, clock := newTestService()
	ctx := context.Background()

	deadline := clock.ts + 100_000
	g, err := s.Create(ctx, "u1", CreateInput{Title: "g", Deadline: deadline})
	require.NoError(t, err)

	t1, err := s.CreateTask(ctx, "u1", g.ID, "a")
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, "u1", g.ID, "b")
	require.NoError(t, err)
	_, err = s.ToggleTask(ctx, "u1", g.ID, t1.ID)
	require.NoError(t, err)

	p, err := s.ComputeProgress(ctx, "u1", g.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Completed)
	assert.Equal(t, 2, p.Total)
	assert.Equal(t, Progress(1, 2, g.CreatedAt, g.Deadline, clock.ts), p.Progress)
}
