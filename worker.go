// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package taskkit

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/taskkit/taskkit/internal/base"
	"github.com/taskkit/taskkit/internal/log"
)

const (
	defaultPollBase      = 50 * time.Millisecond
	defaultPollMax       = 1 * time.Second
	defaultLeaseDuration = 60 * time.Second
	pollJitterFraction   = 0.25
)

// worker is a single concurrent actor bound to one group: it polls for an
// assignment, runs the handler, keeps the lease alive while running, and
// finalizes the outcome.
type worker struct {
	id      string
	group   string
	backend base.Backend
	handler Handler
	logger  *log.Logger

	leaseDuration time.Duration
	pollBase      time.Duration
	pollMax       time.Duration
	limiter       *rate.Limiter
	paused        *atomic.Bool
}

func newWorker(group string, backend base.Backend, handler Handler, logger *log.Logger, leaseDuration time.Duration, limiter *rate.Limiter, paused *atomic.Bool) *worker {
	if leaseDuration <= 0 {
		leaseDuration = defaultLeaseDuration
	}
	return &worker{
		id:            fmt.Sprintf("wk:%s:%s", group, uuid.NewString()),
		group:         group,
		backend:       backend,
		handler:       handler,
		logger:        logger,
		leaseDuration: leaseDuration,
		pollBase:      defaultPollBase,
		pollMax:       defaultPollMax,
		limiter:       limiter,
		paused:        paused,
	}
}

// run is the worker's main loop. It returns once ctx is canceled, after
// letting any in-flight handler invocation finish.
func (w *worker) run(ctx context.Context) {
	backoff := w.pollBase
	for {
		if ctx.Err() != nil {
			return
		}
		if w.paused != nil && w.paused.Load() {
			if !sleepWithJitter(ctx, w.pollMax) {
				return
			}
			continue
		}
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
		}
		msg, err := w.backend.Assign(ctx, w.group, w.id, w.leaseDuration, time.Now().UTC())
		if err != nil {
			w.logger.Errorf("[%s] assign failed: %v", w.id, err)
			if !sleepWithJitter(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, w.pollMax)
			continue
		}
		if msg == nil {
			if !sleepWithJitter(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, w.pollMax)
			continue
		}
		backoff = w.pollBase
		w.handleAssignment(ctx, msg)
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		next = max
	}
	return next
}

// sleepWithJitter sleeps for d ± 25%, returning false if ctx was canceled
// first.
func sleepWithJitter(ctx context.Context, d time.Duration) bool {
	jitter := time.Duration((rand.Float64()*2 - 1) * pollJitterFraction * float64(d))
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d + jitter):
		return true
	}
}

// handlerOutcome carries a Handler's return values across the goroutine
// boundary so handleAssignment can select on it alongside lease loss.
type handlerOutcome struct {
	value any
	err   error
}

func (w *worker) handleAssignment(ctx context.Context, msg *base.TaskMessage) {
	task := taskFromMessage(msg)
	w.logger.Infof("[%s] handle task (%s: %s)", w.id, task.ID, task.Name)

	lease := base.NewLease(time.Now().UTC().Add(w.leaseDuration))
	renewCtx, stopRenew := context.WithCancel(ctx)
	defer stopRenew()
	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		w.renewLoop(renewCtx, task, lease)
	}()

	resultCh := make(chan handlerOutcome, 1)
	go func() {
		value, err := w.handler.Handle(ctx, task)
		resultCh <- handlerOutcome{value: value, err: err}
	}()

	var outcome handlerOutcome
	leaseLost := false
	select {
	case <-lease.Done():
		leaseLost = true
	case outcome = <-resultCh:
	}

	stopRenew()
	<-renewDone

	if leaseLost || !lease.IsValid() {
		w.logger.Infof("[%s] lease lost for task %s; finalization suppressed", w.id, task.ID)
		return
	}

	if outcome.err == nil {
		w.finalizeSuccess(ctx, task, outcome.value)
		return
	}
	if errors.Is(outcome.err, DiscardTask) {
		w.discard(ctx, task)
		return
	}
	w.finalizeError(ctx, task, outcome.err)
}

// renewLoop extends lease at leaseDuration/3 intervals, mirroring the
// backend's own lease forward on every successful renew, until ctx is
// canceled (handler returned) or a renewal is rejected, at which point it
// forces lease into the past and notifies its waiter.
func (w *worker) renewLoop(ctx context.Context, task *Task, lease *base.Lease) {
	interval := w.leaseDuration / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			ok, err := w.backend.Renew(ctx, task.Group, task.ID, w.id, w.leaseDuration, now)
			if err != nil {
				w.logger.Errorf("[%s] renew failed for task %s: %v", w.id, task.ID, err)
				continue
			}
			if !ok {
				lease.Reset(now.Add(-time.Second))
				lease.NotifyExpiration()
				return
			}
			lease.Reset(now.Add(w.leaseDuration))
		}
	}
}

func (w *worker) finalizeSuccess(ctx context.Context, task *Task, value any) {
	payload, err := w.handler.EncodeResult(task, value)
	if err != nil {
		w.finalizeError(ctx, task, fmt.Errorf("taskkit: encode result: %w", err))
		return
	}
	result := &base.ResultMessage{TaskID: task.ID, Payload: payload, CreatedAt: time.Now().UTC(), Retention: task.Retention}
	ok, err := w.backend.Complete(ctx, task.Group, task.ID, w.id, result)
	if err != nil {
		w.logger.Errorf("[%s] complete failed for task %s: %v", w.id, task.ID, err)
		return
	}
	if !ok {
		w.logger.Infof("[%s] lease lost before complete for task %s", w.id, task.ID)
	}
}

func (w *worker) discard(ctx context.Context, task *Task) {
	w.logger.Infof("[%s] task discarded (%s: %s)", w.id, task.ID, task.Name)
	ok, err := w.backend.Discard(ctx, task.Group, task.ID, w.id)
	if err != nil {
		w.logger.Errorf("[%s] discard failed for task %s: %v", w.id, task.ID, err)
		return
	}
	if !ok {
		w.logger.Infof("[%s] lease lost before discard for task %s", w.id, task.ID)
	}
}

func (w *worker) finalizeError(ctx context.Context, task *Task, handlerErr error) {
	interval, ok, err := w.handler.GetRetryInterval(task, handlerErr)
	switch {
	case err != nil && errors.Is(err, DiscardTask):
		w.discard(ctx, task)
		return
	case err != nil:
		w.logger.Errorf("[%s] GetRetryInterval errored for task %s; failing permanently: %v", w.id, task.ID, err)
		w.failPermanent(ctx, task, handlerErr)
		return
	case !ok:
		w.failPermanent(ctx, task, handlerErr)
		return
	default:
		w.retry(ctx, task, interval)
	}
}

func (w *worker) retry(ctx context.Context, task *Task, interval time.Duration) {
	if interval < 0 {
		interval = 0
	}
	newDue := time.Now().UTC().Add(interval)
	retryCount := task.RetryCount + 1
	w.logger.Infof("[%s] retry n%d (%s: %s)", w.id, retryCount, task.ID, task.Name)
	ok, err := w.backend.Reschedule(ctx, task.Group, task.ID, w.id, newDue, retryCount)
	if err != nil {
		w.logger.Errorf("[%s] reschedule failed for task %s: %v", w.id, task.ID, err)
		return
	}
	if !ok {
		w.logger.Infof("[%s] lease lost before reschedule for task %s", w.id, task.ID)
	}
}

func (w *worker) failPermanent(ctx context.Context, task *Task, handlerErr error) {
	w.logger.Infof("[%s] task failed permanently (%s: %s)", w.id, task.ID, task.Name)
	desc := &base.ErrorDescriptor{Type: fmt.Sprintf("%T", handlerErr), Message: handlerErr.Error()}
	payload, err := base.EncodeErrorDescriptor(desc)
	if err != nil {
		w.logger.Errorf("[%s] encode error descriptor failed for task %s: %v", w.id, task.ID, err)
		return
	}
	result := &base.ResultMessage{TaskID: task.ID, Payload: payload, CreatedAt: time.Now().UTC(), Retention: task.Retention}
	ok, err := w.backend.FailPermanent(ctx, task.Group, task.ID, w.id, result)
	if err != nil {
		w.logger.Errorf("[%s] fail_permanent failed for task %s: %v", w.id, task.ID, err)
		return
	}
	if !ok {
		w.logger.Infof("[%s] lease lost before fail_permanent for task %s", w.id, task.ID)
	}
}
