package taskkit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskkit/taskkit/internal/backend/memqueue"
	"github.com/taskkit/taskkit/internal/base"
	"github.com/taskkit/taskkit/internal/log"
)

// A worker whose lease is reclaimed by another holder mid-handle must not
// let its own, now-stale, finalization land: once renew reports the lease
// gone, complete/reschedule/discard/fail_permanent are all suppressed.
func TestWorkerSuppressesFinalizationAfterLeaseLoss(t *testing.T) {
	backend := memqueue.New()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, backend.Enqueue(ctx, &base.TaskMessage{ID: "t1", Group: "g", Name: "slow", DueAt: now.Add(-time.Second)}))

	handler := &countingHandler{
		onHandle: func(task *Task) (any, error) {
			// Sleep long enough for the lease to expire and be reclaimed
			// by another holder before this handler returns.
			time.Sleep(150 * time.Millisecond)
			return "too late", nil
		},
	}

	w := newWorker("g", backend, handler, log.NewLogger(nil), 60*time.Millisecond, nil, nil)
	msg, err := backend.Assign(ctx, "g", w.id, w.leaseDuration, now)
	require.NoError(t, err)
	require.NotNil(t, msg)

	// Simulate the lease expiring and a second worker reclaiming the task
	// while the first worker's handler is still running.
	go func() {
		time.Sleep(80 * time.Millisecond)
		_, err := backend.Assign(ctx, "g", "wk-stealer", time.Minute, now.Add(time.Minute))
		assert.NoError(t, err)
	}()

	w.handleAssignment(ctx, msg)

	result, err := backend.GetResult(ctx, msg.ID)
	require.NoError(t, err)
	assert.Nil(t, result, "a lease-losing worker must never write a result")
}

// TestPoolProcessesReadyTasksInDueOrder exercises FIFO-by-due-time end to
// end through a single-worker pool: three tasks enqueued out of order must
// be handled in ascending due order.
func TestPoolProcessesReadyTasksInDueOrder(t *testing.T) {
	backend := memqueue.New()
	ctx := context.Background()
	baseTime := time.Now().Add(-time.Minute)

	require.NoError(t, backend.Enqueue(ctx, &base.TaskMessage{ID: "third", Group: "g", Name: "third", DueAt: baseTime.Add(3 * time.Second)}))
	require.NoError(t, backend.Enqueue(ctx, &base.TaskMessage{ID: "first", Group: "g", Name: "first", DueAt: baseTime.Add(1 * time.Second)}))
	require.NoError(t, backend.Enqueue(ctx, &base.TaskMessage{ID: "second", Group: "g", Name: "second", DueAt: baseTime.Add(2 * time.Second)}))

	var order []string
	done := make(chan struct{})
	handler := &countingHandler{
		onHandle: func(task *Task) (any, error) {
			order = append(order, task.Name)
			if len(order) == 3 {
				close(done)
			}
			return nil, nil
		},
	}

	p := newPool("g", 1, backend, handler, log.NewLogger(nil), PoolConfig{})
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.start(runCtx)
	defer p.shutdown(time.Second)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for all three tasks to be handled")
	}

	assert.Equal(t, []string{"first", "second", "third"}, order)
}
