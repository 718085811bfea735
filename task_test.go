package taskkit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTaskState(t *testing.T) {
	now := time.Now()

	t.Run("pending when due in the future", func(t *testing.T) {
		task := &Task{DueAt: now.Add(time.Minute)}
		assert.Equal(t, TaskStatePending, task.State(now))
	})

	t.Run("ready when due and unassigned", func(t *testing.T) {
		task := &Task{DueAt: now.Add(-time.Minute)}
		assert.Equal(t, TaskStateReady, task.State(now))
	})

	t.Run("ready when assignee's lease already expired", func(t *testing.T) {
		task := &Task{
			DueAt:          now.Add(-time.Minute),
			Assignee:       "wk:default:1",
			LeaseExpiresAt: now.Add(-time.Second),
		}
		assert.Equal(t, TaskStateReady, task.State(now))
	})

	t.Run("running when lease unexpired", func(t *testing.T) {
		task := &Task{
			DueAt:          now.Add(-time.Minute),
			Assignee:       "wk:default:1",
			LeaseExpiresAt: now.Add(time.Minute),
		}
		assert.Equal(t, TaskStateRunning, task.State(now))
	})
}

func TestTaskStateString(t *testing.T) {
	assert.Equal(t, "pending", TaskStatePending.String())
	assert.Equal(t, "ready", TaskStateReady.String())
	assert.Equal(t, "running", TaskStateRunning.String())
	assert.Equal(t, "done", TaskStateDone.String())
	assert.Equal(t, "failed", TaskStateFailed.String())
	assert.Equal(t, "unknown", TaskState(99).String())
}

func TestNewTaskIDUnique(t *testing.T) {
	a := newTaskID()
	b := newTaskID()
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "tsk_")
}
