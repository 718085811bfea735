// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

// Package memqueue is an in-process implementation of base.Backend used by
// tests and single-process deployments; it implements the same linearizable
// contract as internal/backend/redisqueue, guarded by a single mutex
// rather than Lua scripts.
package memqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/taskkit/taskkit/internal/base"
)

type taskRow struct {
	msg *base.TaskMessage
}

type resultRow struct {
	msg       *base.ResultMessage
	expiresAt time.Time
}

// Backend is an in-memory base.Backend.
type Backend struct {
	mu        sync.Mutex
	tasks     map[string]map[string]*taskRow // group -> id -> row
	results   map[string]*resultRow
	schedLock map[string]schedLockRow
	schedSet  map[string]map[string]*base.ScheduleEntryMessage // scheduler name -> key -> entry
}

type schedLockRow struct {
	holder   string
	expireAt time.Time
}

// New returns an empty in-memory Backend.
func New() *Backend {
	return &Backend{
		tasks:     make(map[string]map[string]*taskRow),
		results:   make(map[string]*resultRow),
		schedLock: make(map[string]schedLockRow),
		schedSet:  make(map[string]map[string]*base.ScheduleEntryMessage),
	}
}

func (b *Backend) Close() error         { return nil }
func (b *Backend) Ping(context.Context) error { return nil }

func (b *Backend) Enqueue(ctx context.Context, msg *base.TaskMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.tasks[msg.Group]
	if !ok {
		g = make(map[string]*taskRow)
		b.tasks[msg.Group] = g
	}
	if _, exists := g[msg.ID]; exists {
		return nil
	}
	cp := *msg
	g[msg.ID] = &taskRow{msg: &cp}
	return nil
}

func (b *Backend) Assign(ctx context.Context, group, workerID string, leaseDuration time.Duration, now time.Time) (*base.TaskMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g := b.tasks[group]
	if len(g) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := g[ids[i]].msg, g[ids[j]].msg
		if !ti.DueAt.Equal(tj.DueAt) {
			return ti.DueAt.Before(tj.DueAt)
		}
		return ids[i] < ids[j]
	})
	for _, id := range ids {
		row := g[id]
		if row.msg.DueAt.After(now) {
			continue
		}
		eligible := row.msg.Assignee == "" || !row.msg.LeaseExpiresAt.After(now)
		if !eligible {
			continue
		}
		row.msg.Assignee = workerID
		row.msg.LeaseExpiresAt = now.Add(leaseDuration)
		cp := *row.msg
		return &cp, nil
	}
	return nil, nil
}

func (b *Backend) Renew(ctx context.Context, group, taskID, workerID string, leaseDuration time.Duration, now time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	row := b.lookup(group, taskID)
	if row == nil || row.msg.Assignee != workerID || !row.msg.LeaseExpiresAt.After(now) {
		return false, nil
	}
	row.msg.LeaseExpiresAt = now.Add(leaseDuration)
	return true, nil
}

func (b *Backend) Complete(ctx context.Context, group, taskID, workerID string, result *base.ResultMessage) (bool, error) {
	result.Kind = base.ResultSuccess
	return b.finish(group, taskID, workerID, result)
}

func (b *Backend) FailPermanent(ctx context.Context, group, taskID, workerID string, result *base.ResultMessage) (bool, error) {
	result.Kind = base.ResultError
	return b.finish(group, taskID, workerID, result)
}

func (b *Backend) finish(group, taskID, workerID string, result *base.ResultMessage) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	row := b.lookup(group, taskID)
	if row == nil || row.msg.Assignee != workerID {
		return false, nil
	}
	retention := result.Retention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	cp := *result
	b.results[taskID] = &resultRow{msg: &cp, expiresAt: result.CreatedAt.Add(retention)}
	delete(b.tasks[group], taskID)
	return true, nil
}

func (b *Backend) Reschedule(ctx context.Context, group, taskID, workerID string, newDueAt time.Time, retryCount int) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	row := b.lookup(group, taskID)
	if row == nil || row.msg.Assignee != workerID {
		return false, nil
	}
	row.msg.Assignee = ""
	row.msg.LeaseExpiresAt = time.Time{}
	row.msg.DueAt = newDueAt
	row.msg.RetryCount = retryCount
	return true, nil
}

func (b *Backend) Discard(ctx context.Context, group, taskID, workerID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	row := b.lookup(group, taskID)
	if row == nil || row.msg.Assignee != workerID {
		return false, nil
	}
	delete(b.tasks[group], taskID)
	return true, nil
}

func (b *Backend) lookup(group, taskID string) *taskRow {
	g := b.tasks[group]
	if g == nil {
		return nil
	}
	return g[taskID]
}

func (b *Backend) GetResult(ctx context.Context, taskID string) (*base.ResultMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	row, ok := b.results[taskID]
	if !ok {
		return nil, nil
	}
	cp := *row.msg
	return &cp, nil
}

func (b *Backend) AcquireScheduler(ctx context.Context, name, holder string, leaseDuration time.Duration, now time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.schedLock[name]
	if ok && cur.holder != holder && cur.expireAt.After(now) {
		return false, nil
	}
	b.schedLock[name] = schedLockRow{holder: holder, expireAt: now.Add(leaseDuration)}
	return true, nil
}

func (b *Backend) RenewScheduler(ctx context.Context, name, holder string, leaseDuration time.Duration, now time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.schedLock[name]
	if !ok || cur.holder != holder {
		return false, nil
	}
	b.schedLock[name] = schedLockRow{holder: holder, expireAt: now.Add(leaseDuration)}
	return true, nil
}

func (b *Backend) ReleaseScheduler(ctx context.Context, name, holder string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.schedLock[name]; ok && cur.holder == holder {
		delete(b.schedLock, name)
	}
	return nil
}

func (b *Backend) ListScheduleEntries(ctx context.Context, name string) ([]*base.ScheduleEntryMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := make([]*base.ScheduleEntryMessage, 0, len(b.schedSet[name]))
	for _, e := range b.schedSet[name] {
		cp := *e
		entries = append(entries, &cp)
	}
	return entries, nil
}

func (b *Backend) UpsertScheduleEntry(ctx context.Context, name string, entry *base.ScheduleEntryMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.schedSet[name]
	if !ok {
		m = make(map[string]*base.ScheduleEntryMessage)
		b.schedSet[name] = m
	}
	cp := *entry
	m[entry.Key] = &cp
	return nil
}

func (b *Backend) DeleteScheduleEntry(ctx context.Context, name, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.schedSet[name], key)
	return nil
}

func (b *Backend) DeleteExpiredResults(ctx context.Context, batchSize int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	n := 0
	for id, row := range b.results {
		if n >= batchSize {
			break
		}
		if row.expiresAt.After(now) {
			continue
		}
		delete(b.results, id)
		n++
	}
	return n, nil
}
