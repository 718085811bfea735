// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package taskkit

import (
	"context"
	"time"

	"github.com/taskkit/taskkit/internal/base"
)

// resultPollInterval is how often ResultHandle.Get polls the backend while
// waiting. The backend contract allows an adapter to implement
// notification instead; this reference implementation polls.
const resultPollInterval = 50 * time.Millisecond

// ResultHandle lets a caller anywhere in the cluster wait on the outcome
// of a task it (or another caller) enqueued.
type ResultHandle struct {
	backend base.Backend
	handler Handler
	taskID  string
	// stub carries just enough of the originating Task for DecodeResult
	// to dispatch on (group/name), since the task row itself may already
	// be gone by the time Get is called.
	stub *Task
}

// TaskID returns the id of the task this handle was bound to.
func (h *ResultHandle) TaskID() string {
	return h.taskID
}

// Get blocks until a result is available or timeout elapses, whichever
// comes first.
//
// On success it returns the decoded value. On permanent failure it
// returns a *TaskFailedError. For a stored result of the discarded kind it
// returns a *DiscardedError; a task discarded by its worker has no result
// written, so Get on it returns ErrTimedOut. If timeout elapses first it
// returns ErrTimedOut; the task itself is unaffected and continues running.
func (h *ResultHandle) Get(ctx context.Context, timeout time.Duration) (any, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(resultPollInterval)
	defer ticker.Stop()
	for {
		msg, err := h.backend.GetResult(ctx, h.taskID)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return h.decode(msg)
		}
		if !time.Now().Before(deadline) {
			return nil, ErrTimedOut
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		case <-time.After(time.Until(deadline)):
			// Loop once more immediately so a result written right at
			// the deadline is still observed before reporting timeout.
		}
	}
}

func (h *ResultHandle) decode(msg *base.ResultMessage) (any, error) {
	switch msg.Kind {
	case base.ResultSuccess:
		return h.handler.DecodeResult(h.stub, msg.Payload)
	case base.ResultDiscarded:
		return nil, &DiscardedError{TaskID: h.taskID}
	case base.ResultError:
		desc, err := base.DecodeErrorDescriptor(msg.Payload)
		if err != nil {
			return nil, &TaskFailedError{TaskID: h.taskID, Type: "unknown", Message: string(msg.Payload)}
		}
		return nil, &TaskFailedError{TaskID: h.taskID, Type: desc.Type, Message: desc.Message}
	default:
		return nil, &TaskFailedError{TaskID: h.taskID, Type: "unknown", Message: "unrecognized result kind"}
	}
}
