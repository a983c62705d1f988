package goal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressTimeOnly(t *testing.T) {
	created := int64(1000)
	deadline := int64(2000)

	// Halfway through the window with no tasks.
	assert.Equal(t, 50, Progress(0, 0, created, deadline, 1500))
	// Before the window starts and after it ends, clamped.
	assert.Equal(t, 0, Progress(0, 0, created, deadline, 500))
	assert.Equal(t, 100, Progress(0, 0, created, deadline, 3000))
	// No deadline means no time signal.
	assert.Equal(t, 0, Progress(0, 0, created, 0, 1500))
}

func TestProgressBlended(t *testing.T) {
	created := int64(1000)
	deadline := int64(2000)

	// Two of four tasks done at the moment of creation: 0.7*0.5 = 35.
	assert.Equal(t, 35, Progress(2, 4, created, deadline, created))
	// All tasks done at the deadline.
	assert.Equal(t, 100, Progress(4, 4, created, deadline, deadline))
	// Half tasks, half time: 0.7*0.5 + 0.3*0.5 = 50.
	assert.Equal(t, 50, Progress(2, 4, created, deadline, 1500))
}

func TestMilestones(t *testing.T) {
	assert.Nil(t, Milestones(24))
	assert.Equal(t, []int{25}, Milestones(25))
	assert.Equal(t, []int{25, 50}, Milestones(60))
	assert.Equal(t, []int{25, 50, 75, 100}, Milestones(100))
}
