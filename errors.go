// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package taskkit

import (
	"errors"
	"fmt"
)

// ErrTimedOut is returned by ResultHandle.Get when the timeout elapses
// before a result is written. It is distinct from task failure: the task
// itself continues running, unaffected by the waiter giving up.
var ErrTimedOut = errors.New("taskkit: timed out waiting for result")

// DiscardedError is returned by ResultHandle.Get when the stored result is
// of the discarded kind. A worker that discards a task (on DiscardTask from
// Handle or GetRetryInterval) writes no result, so Get on such a task
// returns ErrTimedOut rather than this error.
type DiscardedError struct {
	TaskID string
}

func (e *DiscardedError) Error() string {
	return fmt.Sprintf("taskkit: task %s was discarded", e.TaskID)
}

// TaskFailedError is returned by ResultHandle.Get when the task exhausted
// its retries (or its Handler returned a codec error with no retry
// interval) and was archived as a permanent failure.
type TaskFailedError struct {
	TaskID  string
	Type    string
	Message string
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("taskkit: task %s failed: %s: %s", e.TaskID, e.Type, e.Message)
}

// ErrServerClosed is returned by Kit lifecycle methods once Shutdown has
// completed.
var ErrServerClosed = errors.New("taskkit: kit closed")
