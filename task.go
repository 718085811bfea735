// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package taskkit

import (
	"time"

	"github.com/google/uuid"

	"github.com/taskkit/taskkit/internal/base"
)

// newTaskID mints an opaque task id with at least 128 bits of entropy.
func newTaskID() string {
	return "tsk_" + uuid.NewString()
}

// TaskState is the derived lifecycle state of a Task, computed from its
// due time and lease rather than stored directly.
type TaskState int

const (
	// TaskStatePending means DueAt is in the future and no one holds it.
	TaskStatePending TaskState = iota + 1
	// TaskStateReady means DueAt has passed and no one holds an unexpired
	// lease on it.
	TaskStateReady
	// TaskStateRunning means a worker holds an unexpired lease on it.
	TaskStateRunning
	// TaskStateDone means a Result row exists for it.
	TaskStateDone
	// TaskStateFailed means its retries were exhausted and it was
	// archived as a permanent failure. Callers observe this only through
	// the stored Result, since the task row itself is deleted on
	// completion; it is listed here for documentation of the full state
	// space described by the task model.
	TaskStateFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskStatePending:
		return "pending"
	case TaskStateReady:
		return "ready"
	case TaskStateRunning:
		return "running"
	case TaskStateDone:
		return "done"
	case TaskStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Task is the unit of work pulled off a group's queue and handed to a
// Handler.
type Task struct {
	// ID is an opaque, unique identifier with at least 128 bits of entropy.
	ID string
	// Group is the routing key that determines which pools may claim it.
	Group string
	// Name is the handler dispatch key within Group.
	Name string
	// Data is an opaque byte string the Handler alone interprets.
	Data []byte
	// DueAt is the earliest instant at which the task becomes eligible
	// for assignment.
	DueAt time.Time
	// RetryCount is the number of prior failed attempts.
	RetryCount int
	// Assignee is the worker id currently holding the lease, if any.
	Assignee string
	// LeaseExpiresAt is when the current assignee's lease lapses, if any.
	LeaseExpiresAt time.Time
	// Retention is how long the result should be kept after this task
	// finalizes, as requested at InitiateTask time via the Retention
	// option. Zero means the backend's default.
	Retention time.Duration
}

// State derives this Task's lifecycle state as of now. It never returns
// TaskStateDone or TaskStateFailed: by the time a Result exists the task
// row has already been deleted by the backend, so a live Task value is
// always pending, ready, or running.
func (t *Task) State(now time.Time) TaskState {
	switch {
	case t.Assignee != "" && t.LeaseExpiresAt.After(now):
		return TaskStateRunning
	case t.DueAt.After(now):
		return TaskStatePending
	default:
		return TaskStateReady
	}
}

func taskFromMessage(m *base.TaskMessage) *Task {
	return &Task{
		ID:             m.ID,
		Group:          m.Group,
		Name:           m.Name,
		Data:           m.Data,
		DueAt:          m.DueAt,
		RetryCount:     m.RetryCount,
		Assignee:       m.Assignee,
		LeaseExpiresAt: m.LeaseExpiresAt,
		Retention:      m.Retention,
	}
}

func (t *Task) toMessage() *base.TaskMessage {
	return &base.TaskMessage{
		ID:             t.ID,
		Group:          t.Group,
		Name:           t.Name,
		Data:           t.Data,
		DueAt:          t.DueAt,
		RetryCount:     t.RetryCount,
		Assignee:       t.Assignee,
		LeaseExpiresAt: t.LeaseExpiresAt,
		Retention:      t.Retention,
	}
}
