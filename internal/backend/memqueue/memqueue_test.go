package memqueue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskkit/taskkit/internal/backend/memqueue"
	"github.com/taskkit/taskkit/internal/base"
)

func TestEnqueueIsIdempotentOnID(t *testing.T) {
	b := memqueue.New()
	ctx := context.Background()
	due := time.Now().Add(-time.Second)

	require.NoError(t, b.Enqueue(ctx, &base.TaskMessage{ID: "t1", Group: "g", Name: "a", DueAt: due}))
	require.NoError(t, b.Enqueue(ctx, &base.TaskMessage{ID: "t1", Group: "g", Name: "b", DueAt: due}))

	msg, err := b.Assign(ctx, "g", "wk1", time.Minute, time.Now())
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "a", msg.Name, "second enqueue of the same id must be a no-op")

	// no second task should be eligible
	msg2, err := b.Assign(ctx, "g", "wk2", time.Minute, time.Now())
	require.NoError(t, err)
	assert.Nil(t, msg2)
}

func TestAssignOrdersByDueThenID(t *testing.T) {
	b := memqueue.New()
	ctx := context.Background()
	now := time.Now()

	// Same due_at; "a" should win the id tie-break.
	require.NoError(t, b.Enqueue(ctx, &base.TaskMessage{ID: "b", Group: "g", DueAt: now.Add(-time.Minute)}))
	require.NoError(t, b.Enqueue(ctx, &base.TaskMessage{ID: "a", Group: "g", DueAt: now.Add(-time.Minute)}))
	// Due later, must not be picked before the two above even though its id sorts first.
	require.NoError(t, b.Enqueue(ctx, &base.TaskMessage{ID: "0-later", Group: "g", DueAt: now.Add(time.Hour)}))

	first, err := b.Assign(ctx, "g", "wk1", time.Minute, now)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "a", first.ID)

	second, err := b.Assign(ctx, "g", "wk2", time.Minute, now)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "b", second.ID)

	third, err := b.Assign(ctx, "g", "wk3", time.Minute, now)
	require.NoError(t, err)
	assert.Nil(t, third, "the not-yet-due task must not be assignable")
}

func TestAssignSkipsUnexpiredLease(t *testing.T) {
	b := memqueue.New()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, b.Enqueue(ctx, &base.TaskMessage{ID: "t1", Group: "g", DueAt: now.Add(-time.Second)}))

	msg, err := b.Assign(ctx, "g", "wk1", time.Minute, now)
	require.NoError(t, err)
	require.NotNil(t, msg)

	again, err := b.Assign(ctx, "g", "wk2", time.Minute, now)
	require.NoError(t, err)
	assert.Nil(t, again, "a task with an unexpired lease must not be reassigned")
}

func TestAssignReclaimsExpiredLease(t *testing.T) {
	b := memqueue.New()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, b.Enqueue(ctx, &base.TaskMessage{ID: "t1", Group: "g", DueAt: now.Add(-time.Second)}))

	_, err := b.Assign(ctx, "g", "wk1", time.Millisecond, now)
	require.NoError(t, err)

	later := now.Add(time.Second)
	msg, err := b.Assign(ctx, "g", "wk2", time.Minute, later)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "wk2", msg.Assignee)
}

func TestRenewRejectsWrongHolderOrExpiredLease(t *testing.T) {
	b := memqueue.New()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, b.Enqueue(ctx, &base.TaskMessage{ID: "t1", Group: "g", DueAt: now.Add(-time.Second)}))
	_, err := b.Assign(ctx, "g", "wk1", time.Minute, now)
	require.NoError(t, err)

	ok, err := b.Renew(ctx, "g", "t1", "wk2", time.Minute, now)
	require.NoError(t, err)
	assert.False(t, ok, "a non-holder must not be able to renew")

	ok, err = b.Renew(ctx, "g", "t1", "wk1", time.Minute, now.Add(90*time.Second))
	require.NoError(t, err)
	assert.False(t, ok, "renewing after expiry must fail")
}

func TestCompleteDeletesTaskAndPersistsResult(t *testing.T) {
	b := memqueue.New()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, b.Enqueue(ctx, &base.TaskMessage{ID: "t1", Group: "g", DueAt: now.Add(-time.Second)}))
	msg, err := b.Assign(ctx, "g", "wk1", time.Minute, now)
	require.NoError(t, err)

	ok, err := b.Complete(ctx, "g", msg.ID, "wk1", &base.ResultMessage{TaskID: msg.ID, Payload: []byte("ok"), CreatedAt: now})
	require.NoError(t, err)
	assert.True(t, ok)

	again, err := b.Assign(ctx, "g", "wk2", time.Minute, now)
	require.NoError(t, err)
	assert.Nil(t, again, "a completed task must be gone from the queue")

	result, err := b.GetResult(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, base.ResultSuccess, result.Kind)
}

func TestCASOperationsRejectWrongHolder(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	newAssigned := func(t *testing.T) (*memqueue.Backend, *base.TaskMessage) {
		b := memqueue.New()
		require.NoError(t, b.Enqueue(ctx, &base.TaskMessage{ID: "t1", Group: "g", DueAt: now.Add(-time.Second)}))
		msg, err := b.Assign(ctx, "g", "wk1", time.Minute, now)
		require.NoError(t, err)
		return b, msg
	}

	t.Run("complete", func(t *testing.T) {
		b, msg := newAssigned(t)
		ok, err := b.Complete(ctx, "g", msg.ID, "intruder", &base.ResultMessage{TaskID: msg.ID, CreatedAt: now})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("reschedule", func(t *testing.T) {
		b, msg := newAssigned(t)
		ok, err := b.Reschedule(ctx, "g", msg.ID, "intruder", now.Add(time.Minute), 1)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("discard", func(t *testing.T) {
		b, msg := newAssigned(t)
		ok, err := b.Discard(ctx, "g", msg.ID, "intruder")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("fail_permanent", func(t *testing.T) {
		b, msg := newAssigned(t)
		ok, err := b.FailPermanent(ctx, "g", msg.ID, "intruder", &base.ResultMessage{TaskID: msg.ID, CreatedAt: now})
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRescheduleClearsAssigneeAndBumpsRetryCount(t *testing.T) {
	b := memqueue.New()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, b.Enqueue(ctx, &base.TaskMessage{ID: "t1", Group: "g", DueAt: now.Add(-time.Second)}))
	msg, err := b.Assign(ctx, "g", "wk1", time.Minute, now)
	require.NoError(t, err)

	newDue := now.Add(time.Hour)
	ok, err := b.Reschedule(ctx, "g", msg.ID, "wk1", newDue, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	again, err := b.Assign(ctx, "g", "wk2", time.Minute, newDue.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, 1, again.RetryCount)
	assert.Equal(t, "wk2", again.Assignee, "assignee reported by Assign should be the new holder, not the old one")
}

func TestSchedulerLockIsExclusive(t *testing.T) {
	b := memqueue.New()
	ctx := context.Background()
	now := time.Now()

	ok, err := b.AcquireScheduler(ctx, "sched", "holder-a", time.Minute, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.AcquireScheduler(ctx, "sched", "holder-b", time.Minute, now)
	require.NoError(t, err)
	assert.False(t, ok, "a second holder must not acquire a live lease")

	ok, err = b.AcquireScheduler(ctx, "sched", "holder-b", time.Minute, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok, "an expired lease must be acquirable by a new holder")
}

func TestScheduleEntryUpsertListDelete(t *testing.T) {
	b := memqueue.New()
	ctx := context.Background()

	require.NoError(t, b.UpsertScheduleEntry(ctx, "sched", &base.ScheduleEntryMessage{Key: "k1", Group: "g"}))
	entries, err := b.ListScheduleEntries(ctx, "sched")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, b.DeleteScheduleEntry(ctx, "sched", "k1"))
	entries, err = b.ListScheduleEntries(ctx, "sched")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeleteExpiredResultsRespectsBatchSize(t *testing.T) {
	b := memqueue.New()
	ctx := context.Background()
	now := time.Now()
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		require.NoError(t, b.Enqueue(ctx, &base.TaskMessage{ID: id, Group: "g", DueAt: now.Add(-time.Second)}))
		msg, err := b.Assign(ctx, "g", "wk", time.Minute, now)
		require.NoError(t, err)
		_, err = b.Complete(ctx, "g", msg.ID, "wk", &base.ResultMessage{
			TaskID: msg.ID, CreatedAt: now.Add(-2 * time.Hour), Retention: time.Hour,
		})
		require.NoError(t, err)
	}

	n, err := b.DeleteExpiredResults(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = b.DeleteExpiredResults(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
