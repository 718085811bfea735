// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package taskkit

import (
	"context"
	"errors"
	"time"
)

// DiscardTask is a sentinel a Handler returns from Handle or
// GetRetryInterval to signal that a task should be dropped with no result
// recorded, rather than retried or failed. Wrap it with fmt.Errorf's %w if
// you want to attach additional context; callers should test for it with
// errors.Is(err, taskkit.DiscardTask).
var DiscardTask = errors.New("taskkit: discard task")

// Handler is the user-supplied, opaque logic a worker delegates to for
// every task it is assigned. The core never interprets Data or a result's
// payload bytes; encoding and decoding are entirely this interface's
// responsibility.
type Handler interface {
	// Handle runs the task's domain logic. Returning DiscardTask (or an
	// error satisfying errors.Is(err, DiscardTask)) drops the task with
	// no result. Any other non-nil error is routed to GetRetryInterval.
	Handle(ctx context.Context, task *Task) (result any, err error)

	// GetRetryInterval is called when Handle (or EncodeResult) returns a
	// non-DiscardTask error. Returning (d, true, nil) reschedules the task
	// after d; returning (_, false, nil) fails it permanently. Returning
	// an error satisfying errors.Is(err, DiscardTask) discards it instead.
	// Any other error returned here is treated as a permanent failure,
	// logged, rather than silently retried, since a handler that cannot
	// even decide its own retry policy should not keep consuming worker
	// capacity.
	GetRetryInterval(task *Task, handlerErr error) (interval time.Duration, ok bool, err error)

	// EncodeData encodes value into the opaque bytes stored as a new
	// task's Data, for the given dispatch (group, name).
	EncodeData(group, name string, value any) ([]byte, error)

	// EncodeResult encodes a successful Handle return value into the
	// bytes stored as the task's success Result payload. An error here is
	// treated exactly like a Handle error: it is routed to
	// GetRetryInterval (spec: codec errors use the retry path).
	EncodeResult(task *Task, value any) ([]byte, error)

	// DecodeResult decodes a success Result payload back into a value for
	// a ResultHandle.Get caller.
	DecodeResult(task *Task, payload []byte) (any, error)
}
