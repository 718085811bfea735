// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

// Package base defines the backend contract (the linearizable queue
// protocol the core depends on) plus the wire types and Redis-style key
// helpers shared by the concrete adapters in internal/backend.
package base

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/taskkit/taskkit/internal/errors"
	"github.com/taskkit/taskkit/internal/timeutil"
)

// Version of the taskkit library.
const Version = "1.0.0"

// DefaultQueueName is the group used if a caller does not specify one.
const DefaultQueueName = "default"

// Global keys, namespaced under the "taskkit:" prefix.
const (
	GroupsSetKey     = "taskkit:groups"        // SET of known group names
	ResultExpiryZKey = "taskkit:results:expiry" // ZSET task_id -> expire_at unix
	SchedulersSetKey = "taskkit:schedulers"     // SET of known scheduler names
)

// GroupKeyPrefix returns the key prefix for all keys belonging to a group.
// The hash-tag braces keep a group's keys on one Redis Cluster slot.
func GroupKeyPrefix(group string) string {
	return "taskkit:{" + group + "}:"
}

// TasksZKey returns the sorted-set key holding ready/pending task ids for
// a group, scored by due_at (as a float Unix timestamp). Ties in score are
// broken by Redis's own lexicographic ordering of equal-score members,
// which is exactly id-ascending.
func TasksZKey(group string) string {
	return GroupKeyPrefix(group) + "tasks"
}

// TaskKeyPrefix returns the key prefix for a task hash within a group.
func TaskKeyPrefix(group string) string {
	return GroupKeyPrefix(group) + "t:"
}

// TaskKey returns the hash key for a single task.
func TaskKey(group, id string) string {
	return TaskKeyPrefix(group) + id
}

// ResultKey returns the key holding the encoded result for a task id.
func ResultKey(taskID string) string {
	return "taskkit:result:" + taskID
}

// SchedulerLockKey returns the key holding the mutual-exclusion lock for a
// scheduler name.
func SchedulerLockKey(name string) string {
	return "taskkit:sched:{" + name + "}:lock"
}

// ScheduleEntriesKey returns the hash key holding the declared schedule
// entries for a scheduler name, field = entry key.
func ScheduleEntriesKey(name string) string {
	return "taskkit:sched:{" + name + "}:entries"
}

// TaskMessage is the wire representation of a Task.
type TaskMessage struct {
	ID             string        `json:"id"`
	Group          string        `json:"group"`
	Name           string        `json:"name"`
	Data           []byte        `json:"data"`
	DueAt          time.Time     `json:"due_at"`
	RetryCount     int           `json:"retry_count"`
	Assignee       string        `json:"assignee,omitempty"`
	LeaseExpiresAt time.Time     `json:"lease_expires_at,omitempty"`
	// Retention is how long the eventual ResultMessage should be kept
	// after completion. Carried on the task so it survives from
	// InitiateTask through to whichever worker finalizes it. Zero means
	// the backend's default.
	Retention time.Duration `json:"retention,omitempty"`
}

// ResultKind identifies the outcome kind stored in a ResultMessage.
type ResultKind string

const (
	ResultSuccess   ResultKind = "success"
	ResultError     ResultKind = "error"
	ResultDiscarded ResultKind = "discarded"
)

// ResultMessage is the wire representation of a Result.
type ResultMessage struct {
	TaskID    string     `json:"task_id"`
	Kind      ResultKind `json:"kind"`
	Payload   []byte     `json:"payload,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	// Retention is how long after CreatedAt the result may be garbage
	// collected by the janitor. Zero means the backend's default.
	Retention time.Duration `json:"retention,omitempty"`
}

// ScheduleEntryMessage is the wire representation of a schedule entry.
type ScheduleEntryMessage struct {
	Key          string     `json:"key"`
	Group        string     `json:"group"`
	Name         string     `json:"name"`
	Data         []byte     `json:"data"`
	ScheduleBlob []byte     `json:"schedule_blob"`
	LastFiredAt  *time.Time `json:"last_fired_at,omitempty"`
}

// EncodeTaskMessage and DecodeTaskMessage marshal/unmarshal a TaskMessage.
func EncodeTaskMessage(m *TaskMessage) ([]byte, error) { return json.Marshal(m) }
func DecodeTaskMessage(b []byte) (*TaskMessage, error) {
	var m TaskMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.E(errors.Internal, "decode task message", err)
	}
	return &m, nil
}

// EncodeResultMessage and DecodeResultMessage marshal/unmarshal a ResultMessage.
func EncodeResultMessage(m *ResultMessage) ([]byte, error) { return json.Marshal(m) }
func DecodeResultMessage(b []byte) (*ResultMessage, error) {
	var m ResultMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.E(errors.Internal, "decode result message", err)
	}
	return &m, nil
}

// EncodeScheduleEntryMessage and DecodeScheduleEntryMessage marshal/unmarshal
// a ScheduleEntryMessage.
func EncodeScheduleEntryMessage(m *ScheduleEntryMessage) ([]byte, error) { return json.Marshal(m) }
func DecodeScheduleEntryMessage(b []byte) (*ScheduleEntryMessage, error) {
	var m ScheduleEntryMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.E(errors.Internal, "decode schedule entry message", err)
	}
	return &m, nil
}

// OccurrenceID deterministically derives the task id for a schedule
// entry's firing at instant t, so that repeated materialization (e.g.
// across scheduler failovers) collides on the same id and is absorbed by
// Enqueue's idempotence.
func OccurrenceID(schedulerName, entryKey string, t time.Time) string {
	sum := sha256.Sum256([]byte(schedulerName + "\x00" + entryKey + "\x00" + t.UTC().Format(time.RFC3339Nano)))
	return "occ_" + hex.EncodeToString(sum[:16])
}

// Backend is the linearizable queue protocol every adapter must implement.
// See internal/backend/redisqueue for the reference implementation over
// Redis, and internal/backend/memqueue for an in-process implementation
// used by tests.
type Backend interface {
	// Enqueue inserts a task with RetryCount=0 and no assignee.
	// Idempotent on ID: a duplicate insert is a no-op.
	Enqueue(ctx context.Context, msg *TaskMessage) error

	// Assign atomically selects the eligible task in group with the
	// smallest (due_at, id) and leases it to workerID, or returns nil if
	// none is eligible.
	Assign(ctx context.Context, group, workerID string, leaseDuration time.Duration, now time.Time) (*TaskMessage, error)

	// Renew extends the lease iff workerID still holds it and it has not
	// yet expired. group is threaded through (rather than just taskID) so
	// adapters can key tasks per group without a global task-id index; a
	// caller always has it since it comes from the Task it is renewing.
	Renew(ctx context.Context, group, taskID, workerID string, leaseDuration time.Duration, now time.Time) (bool, error)

	// Complete atomically writes result and deletes the task row iff
	// workerID still holds the lease.
	Complete(ctx context.Context, group, taskID, workerID string, result *ResultMessage) (bool, error)

	// Reschedule clears the assignee and sets a new due_at/retry_count iff
	// workerID still holds the lease.
	Reschedule(ctx context.Context, group, taskID, workerID string, newDueAt time.Time, retryCount int) (bool, error)

	// Discard deletes the task row (no result) iff workerID holds the lease.
	Discard(ctx context.Context, group, taskID, workerID string) (bool, error)

	// FailPermanent writes an error result and deletes the task row iff
	// workerID holds the lease.
	FailPermanent(ctx context.Context, group, taskID, workerID string, result *ResultMessage) (bool, error)

	// GetResult returns the result for taskID if one has been written, or
	// nil if not. Callers wanting to block poll this method themselves.
	GetResult(ctx context.Context, taskID string) (*ResultMessage, error)

	// AcquireScheduler is a compare-and-swap: it succeeds if no holder
	// currently owns name's lease, or the existing lease has expired.
	AcquireScheduler(ctx context.Context, name, holder string, leaseDuration time.Duration, now time.Time) (bool, error)

	// RenewScheduler extends holder's scheduler lease iff it still owns it.
	RenewScheduler(ctx context.Context, name, holder string, leaseDuration time.Duration, now time.Time) (bool, error)

	// ReleaseScheduler releases holder's scheduler lease, best-effort.
	ReleaseScheduler(ctx context.Context, name, holder string) error

	// ListScheduleEntries returns the currently persisted entries for name.
	ListScheduleEntries(ctx context.Context, name string) ([]*ScheduleEntryMessage, error)

	// UpsertScheduleEntry creates or replaces an entry.
	UpsertScheduleEntry(ctx context.Context, name string, entry *ScheduleEntryMessage) error

	// DeleteScheduleEntry removes an entry by key.
	DeleteScheduleEntry(ctx context.Context, name, key string) error

	// DeleteExpiredResults deletes up to batchSize results whose retention
	// window has elapsed, returning the count deleted.
	DeleteExpiredResults(ctx context.Context, batchSize int) (int, error)

	// Ping checks connectivity to the backend.
	Ping(ctx context.Context) error

	// Close releases any resources held by the backend.
	Close() error
}

// ErrorDescriptor is a bounded (type name + message) description of a
// handler failure, suitable for persisting as an error Result payload.
// Stacks are never persisted.
type ErrorDescriptor struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// EncodeErrorDescriptor and DecodeErrorDescriptor marshal/unmarshal an
// ErrorDescriptor.
func EncodeErrorDescriptor(d *ErrorDescriptor) ([]byte, error) { return json.Marshal(d) }
func DecodeErrorDescriptor(b []byte) (*ErrorDescriptor, error) {
	var d ErrorDescriptor
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, errors.E(errors.Internal, "decode error descriptor", err)
	}
	return &d, nil
}

// Lease is a time-bound client-side view of a worker's task lease. It
// provides a channel the lease-renewal goroutine can close to notify the
// handler-running goroutine that the lease was lost, mirroring how the
// backend's CAS-based renew/complete calls remain the real source of
// truth: losing the Lease only suppresses the local finalization write.
type Lease struct {
	once sync.Once
	ch   chan struct{}

	Clock timeutil.Clock

	mu       sync.Mutex
	expireAt time.Time
}

// NewLease returns a Lease that is valid until expirationTime.
func NewLease(expirationTime time.Time) *Lease {
	return &Lease{
		ch:       make(chan struct{}),
		expireAt: expirationTime,
		Clock:    timeutil.NewRealClock(),
	}
}

// Reset moves the lease's expiration forward. Returns false if the lease
// had already been marked expired.
func (l *Lease) Reset(expirationTime time.Time) bool {
	if !l.IsValid() {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.expireAt = expirationTime
	return true
}

// NotifyExpiration closes the Done channel the first time the lease is
// observed to be expired. Returns true if it sent the notification.
func (l *Lease) NotifyExpiration() bool {
	if l.IsValid() {
		return false
	}
	l.once.Do(func() { close(l.ch) })
	return true
}

// Done returns a channel that is closed once the lease is known to be
// expired or lost.
func (l *Lease) Done() <-chan struct{} {
	return l.ch
}

// IsValid reports whether the lease's expiration is still in the future.
func (l *Lease) IsValid() bool {
	now := l.Clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.expireAt.After(now) || l.expireAt.Equal(now)
}

// Deadline returns the lease's current expiration time.
func (l *Lease) Deadline() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.expireAt
}

// ValidateGroupName rejects empty/blank group names.
func ValidateGroupName(group string) error {
	for _, r := range group {
		if r != ' ' && r != '\t' {
			return nil
		}
	}
	return errors.E(errors.FailedPrecondition, "group name must contain one or more non-space characters")
}
