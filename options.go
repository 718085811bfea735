// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package taskkit

import "time"

// initiateOptions collects the optional settings InitiateTask accepts.
type initiateOptions struct {
	due       time.Time
	taskID    string
	retention time.Duration
}

// InitiateOption configures a single InitiateTask call.
type InitiateOption interface {
	apply(*initiateOptions)
}

type initiateOptionFunc func(*initiateOptions)

func (f initiateOptionFunc) apply(o *initiateOptions) { f(o) }

// Due schedules the task to become eligible for assignment at t rather
// than immediately.
func Due(t time.Time) InitiateOption {
	return initiateOptionFunc(func(o *initiateOptions) { o.due = t })
}

// ProcessIn is shorthand for Due(time.Now().Add(d)).
func ProcessIn(d time.Duration) InitiateOption {
	return initiateOptionFunc(func(o *initiateOptions) { o.due = time.Now().Add(d) })
}

// TaskID overrides the generated task id with a caller-chosen one. The
// caller is responsible for keeping it unique, or relying on Enqueue's
// idempotence for intentional deduplication.
func TaskID(id string) InitiateOption {
	return initiateOptionFunc(func(o *initiateOptions) { o.taskID = id })
}

// Retention sets how long the result is retained after the task completes,
// before the janitor is free to delete it.
func Retention(d time.Duration) InitiateOption {
	return initiateOptionFunc(func(o *initiateOptions) { o.retention = d })
}
