package taskkit

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskkit/taskkit/internal/backend/memqueue"
)

// countingHandler is a minimal Handler for tests: it JSON-codes data/results
// and calls a caller-supplied hook for every Handle invocation.
type countingHandler struct {
	onHandle func(*Task) (any, error)
	retryFor func(*Task, error) (time.Duration, bool, error)
}

func (h *countingHandler) Handle(ctx context.Context, task *Task) (any, error) {
	if h.onHandle == nil {
		return nil, nil
	}
	return h.onHandle(task)
}

func (h *countingHandler) GetRetryInterval(task *Task, handlerErr error) (time.Duration, bool, error) {
	if h.retryFor == nil {
		return 0, false, nil
	}
	return h.retryFor(task, handlerErr)
}

func (h *countingHandler) EncodeData(group, name string, value any) ([]byte, error) {
	return json.Marshal(value)
}

func (h *countingHandler) EncodeResult(task *Task, value any) ([]byte, error) {
	if value == nil {
		return nil, nil
	}
	return json.Marshal(value)
}

func (h *countingHandler) DecodeResult(task *Task, payload []byte) (any, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func waitForClose(t *testing.T, ch <-chan struct{}, timeout time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for signal")
	}
}

func TestKitInitiateTaskRequiresRegisteredHandler(t *testing.T) {
	kit := NewKit(memqueue.New(), Config{})
	_, err := kit.InitiateTask(context.Background(), "default", "noop", nil)
	assert.Error(t, err)
}

func TestKitHappyPath(t *testing.T) {
	backend := memqueue.New()
	kit := NewKit(backend, Config{})

	done := make(chan struct{})
	var seen atomic.Value
	handler := &countingHandler{
		onHandle: func(task *Task) (any, error) {
			seen.Store(task.Name)
			close(done)
			return map[string]string{"ok": "yes"}, nil
		},
	}
	kit.RegisterGroup(GroupConfig{Group: "default", Concurrency: 2, Handler: handler})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, kit.StartProcesses(ctx))
	defer kit.Shutdown(time.Second)

	handle, err := kit.InitiateTask(context.Background(), "default", "greet", map[string]string{"who": "world"})
	require.NoError(t, err)

	waitForClose(t, done, 2*time.Second)
	assert.Equal(t, "greet", seen.Load())

	result, err := handle.Get(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"ok": "yes"}, result)
}

func TestKitRetryThenSucceed(t *testing.T) {
	backend := memqueue.New()
	kit := NewKit(backend, Config{})

	var attempts atomic.Int32
	handler := &countingHandler{
		onHandle: func(task *Task) (any, error) {
			n := attempts.Add(1)
			if n < 3 {
				return nil, errors.New("transient failure")
			}
			return "done", nil
		},
		retryFor: func(task *Task, err error) (time.Duration, bool, error) {
			return time.Millisecond, true, nil
		},
	}
	kit.RegisterGroup(GroupConfig{Group: "default", Concurrency: 1, Handler: handler})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, kit.StartProcesses(ctx))
	defer kit.Shutdown(time.Second)

	handle, err := kit.InitiateTask(context.Background(), "default", "flaky", nil)
	require.NoError(t, err)

	result, err := handle.Get(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestKitPermanentFailure(t *testing.T) {
	backend := memqueue.New()
	kit := NewKit(backend, Config{})

	handler := &countingHandler{
		onHandle: func(task *Task) (any, error) {
			return nil, errors.New("boom")
		},
		retryFor: func(task *Task, err error) (time.Duration, bool, error) {
			return 0, false, nil
		},
	}
	kit.RegisterGroup(GroupConfig{Group: "default", Concurrency: 1, Handler: handler})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, kit.StartProcesses(ctx))
	defer kit.Shutdown(time.Second)

	handle, err := kit.InitiateTask(context.Background(), "default", "always-fails", nil)
	require.NoError(t, err)

	_, err = handle.Get(context.Background(), 2*time.Second)
	require.Error(t, err)
	var failed *TaskFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, handle.TaskID(), failed.TaskID)
}

// A discarded task has its row deleted with no result ever written, so a
// waiter observes a plain timeout rather than a distinct discarded error;
// the task itself is not re-attempted.
func TestKitDiscardLeavesNoResult(t *testing.T) {
	backend := memqueue.New()
	kit := NewKit(backend, Config{})

	var attempts atomic.Int32
	handler := &countingHandler{
		onHandle: func(task *Task) (any, error) {
			attempts.Add(1)
			return nil, DiscardTask
		},
	}
	kit.RegisterGroup(GroupConfig{Group: "default", Concurrency: 1, Handler: handler})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, kit.StartProcesses(ctx))
	defer kit.Shutdown(time.Second)

	handle, err := kit.InitiateTask(context.Background(), "default", "skip-me", nil)
	require.NoError(t, err)

	_, err = handle.Get(context.Background(), 200*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimedOut)

	// give the discard a moment to land, then confirm it is never retried
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestKitPauseStopsNewAssignments(t *testing.T) {
	backend := memqueue.New()
	kit := NewKit(backend, Config{})

	var attempts atomic.Int32
	handler := &countingHandler{
		onHandle: func(task *Task) (any, error) {
			attempts.Add(1)
			return "ok", nil
		},
	}
	kit.RegisterGroup(GroupConfig{Group: "default", Concurrency: 2, Handler: handler})
	kit.Pause("default")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, kit.StartProcesses(ctx))
	defer kit.Shutdown(time.Second)

	_, err := kit.InitiateTask(context.Background(), "default", "held-back", nil)
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, attempts.Load(), "a paused group must not dispatch to its handler")

	kit.Resume("default")
	assert.Eventually(t, func() bool { return attempts.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestKitProcessInDelaysEligibility(t *testing.T) {
	backend := memqueue.New()
	kit := NewKit(backend, Config{})

	var fired atomic.Bool
	handler := &countingHandler{
		onHandle: func(task *Task) (any, error) {
			fired.Store(true)
			return nil, nil
		},
	}
	kit.RegisterGroup(GroupConfig{Group: "default", Concurrency: 1, Handler: handler})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, kit.StartProcesses(ctx))
	defer kit.Shutdown(time.Second)

	_, err := kit.InitiateTask(context.Background(), "default", "later", nil, ProcessIn(300*time.Millisecond))
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.False(t, fired.Load(), "a task scheduled in the future must not run early")

	assert.Eventually(t, func() bool { return fired.Load() }, 2*time.Second, 10*time.Millisecond)
}

func TestKitShutdownIsIdempotent(t *testing.T) {
	kit := NewKit(memqueue.New(), Config{})
	kit.RegisterGroup(GroupConfig{Group: "default", Handler: &countingHandler{}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, kit.StartProcesses(ctx))
	kit.Shutdown(time.Second)
	kit.Shutdown(time.Second) // must not panic or block
}

func TestKitRegisterSchedulerEncodesDictFormEntries(t *testing.T) {
	kit := NewKit(memqueue.New(), Config{})
	kit.RegisterGroup(GroupConfig{Group: "default", Handler: &countingHandler{}})

	cron, err := NewCronSchedule("* * * * *")
	require.NoError(t, err)

	entry := &ScheduleEntry{
		Key:      "heartbeat",
		Group:    "default",
		Name:     "tick",
		Value:    map[string]string{"kind": "heartbeat"},
		Schedule: cron,
	}
	require.NoError(t, kit.RegisterScheduler("sched", []*ScheduleEntry{entry}, time.UTC))

	assert.Equal(t, []byte(`{"kind":"heartbeat"}`), entry.Data)
}

func TestKitRegisterSchedulerRejectsDictFormEntryForUnknownGroup(t *testing.T) {
	kit := NewKit(memqueue.New(), Config{})

	cron, err := NewCronSchedule("* * * * *")
	require.NoError(t, err)

	entry := &ScheduleEntry{
		Key:      "heartbeat",
		Group:    "unregistered",
		Name:     "tick",
		Value:    map[string]string{"kind": "heartbeat"},
		Schedule: cron,
	}
	err = kit.RegisterScheduler("sched", []*ScheduleEntry{entry}, time.UTC)
	assert.Error(t, err)
}

func TestKitShutdownNeverStartedDoesNotHang(t *testing.T) {
	kit := NewKit(memqueue.New(), Config{})
	kit.RegisterGroup(GroupConfig{Group: "default", Handler: &countingHandler{}})

	done := make(chan struct{})
	go func() {
		kit.Shutdown(time.Second)
		close(done)
	}()
	waitForClose(t, done, time.Second)
}

func TestKitInitiateTaskRetentionSurvivesToResult(t *testing.T) {
	backend := memqueue.New()
	kit := NewKit(backend, Config{})

	done := make(chan struct{})
	handler := &countingHandler{
		onHandle: func(task *Task) (any, error) {
			close(done)
			return "ok", nil
		},
	}
	kit.RegisterGroup(GroupConfig{Group: "default", Concurrency: 1, Handler: handler})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, kit.StartProcesses(ctx))
	defer kit.Shutdown(time.Second)

	handle, err := kit.InitiateTask(context.Background(), "default", "retained", nil, Retention(time.Hour))
	require.NoError(t, err)

	waitForClose(t, done, 2*time.Second)

	_, err = handle.Get(context.Background(), 2*time.Second)
	require.NoError(t, err)

	result, err := backend.GetResult(context.Background(), handle.TaskID())
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, time.Hour, result.Retention)
}

func TestKitMethodsReturnErrServerClosedAfterShutdown(t *testing.T) {
	kit := NewKit(memqueue.New(), Config{})
	kit.RegisterGroup(GroupConfig{Group: "default", Handler: &countingHandler{}})
	kit.Shutdown(time.Second)

	_, err := kit.InitiateTask(context.Background(), "default", "noop", nil)
	assert.ErrorIs(t, err, ErrServerClosed)

	err = kit.StartProcesses(context.Background())
	assert.ErrorIs(t, err, ErrServerClosed)

	err = kit.Start(context.Background())
	assert.ErrorIs(t, err, ErrServerClosed)
}
