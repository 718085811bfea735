// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskkit/taskkit/internal/base"
)

// Inspector provides read-only access to a taskkit keyspace in Redis.
type Inspector struct {
	client redis.UniversalClient
}

// NewInspector creates a new Inspector with the given Redis client.
func NewInspector(client redis.UniversalClient) *Inspector {
	return &Inspector{client: client}
}

// GroupInfo summarizes one group's queue.
type GroupInfo struct {
	Name    string
	Pending int64 // DueAt in the future
	Ready   int64 // DueAt elapsed, unassigned
	Running int64 // unexpired lease held
}

// TaskInfo summarizes one task row.
type TaskInfo struct {
	ID             string
	Group          string
	Name           string
	DueAt          time.Time
	RetryCount     int
	Assignee       string
	LeaseExpiresAt time.Time
}

// SchedulerInfo summarizes one scheduler's lock and entry count.
type SchedulerInfo struct {
	Name        string
	Holder      string
	EntryCount  int
	LeaseActive bool
}

// DashboardStats holds aggregated counters for the landing page.
type DashboardStats struct {
	TotalGroups     int
	TotalPending    int64
	TotalReady      int64
	TotalRunning    int64
	TotalSchedulers int
}

// GetGroups returns a summary of every known group.
func (i *Inspector) GetGroups(ctx context.Context) ([]GroupInfo, error) {
	names, err := i.client.SMembers(ctx, base.GroupsSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	groups := make([]GroupInfo, 0, len(names))
	for _, name := range names {
		info, err := i.getGroupInfo(ctx, name)
		if err != nil {
			continue
		}
		groups = append(groups, info)
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a].Name < groups[b].Name })
	return groups, nil
}

func (i *Inspector) getGroupInfo(ctx context.Context, group string) (GroupInfo, error) {
	now := float64(time.Now().UnixNano()) / 1e9
	ids, err := i.client.ZRangeWithScores(ctx, base.TasksZKey(group), 0, -1).Result()
	if err != nil {
		return GroupInfo{}, fmt.Errorf("list tasks for %q: %w", group, err)
	}
	info := GroupInfo{Name: group}
	for _, z := range ids {
		if z.Score > now {
			info.Pending++
			continue
		}
		id, _ := z.Member.(string)
		leaseStr, _ := i.client.HGet(ctx, base.TaskKey(group, id), "lease_expires_at").Result()
		var lease float64
		fmt.Sscanf(leaseStr, "%f", &lease)
		if lease > now {
			info.Running++
		} else {
			info.Ready++
		}
	}
	return info, nil
}

// GetTasks returns up to limit tasks for a group, ordered by due time.
func (i *Inspector) GetTasks(ctx context.Context, group string, limit int) ([]TaskInfo, error) {
	ids, err := i.client.ZRange(ctx, base.TasksZKey(group), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list tasks for %q: %w", group, err)
	}
	tasks := make([]TaskInfo, 0, len(ids))
	for _, id := range ids {
		fields, err := i.client.HGetAll(ctx, base.TaskKey(group, id)).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		tasks = append(tasks, taskInfoFromFields(group, fields))
	}
	return tasks, nil
}

func taskInfoFromFields(group string, f map[string]string) TaskInfo {
	due := parseUnix(f["due_at"])
	lease := parseUnix(f["lease_expires_at"])
	var retry int
	fmt.Sscanf(f["retry_count"], "%d", &retry)
	return TaskInfo{
		ID:             f["id"],
		Group:          group,
		Name:           f["name"],
		DueAt:          due,
		RetryCount:     retry,
		Assignee:       f["assignee"],
		LeaseExpiresAt: lease,
	}
}

func parseUnix(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	var f float64
	if _, err := fmt.Sscanf(s, "%f", &f); err != nil {
		return time.Time{}
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// GetSchedulers returns a summary of every known scheduler.
func (i *Inspector) GetSchedulers(ctx context.Context) ([]SchedulerInfo, error) {
	names, err := i.client.SMembers(ctx, base.SchedulersSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list schedulers: %w", err)
	}
	out := make([]SchedulerInfo, 0, len(names))
	for _, name := range names {
		fields, err := i.client.HGetAll(ctx, base.SchedulerLockKey(name)).Result()
		if err != nil {
			continue
		}
		count, _ := i.client.HLen(ctx, base.ScheduleEntriesKey(name)).Result()
		var lease float64
		fmt.Sscanf(fields["lease_expires_at"], "%f", &lease)
		out = append(out, SchedulerInfo{
			Name:        name,
			Holder:      fields["holder"],
			EntryCount:  int(count),
			LeaseActive: lease > float64(time.Now().Unix()),
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out, nil
}

// GetDashboardStats returns aggregated statistics for the landing page.
func (i *Inspector) GetDashboardStats(ctx context.Context) (DashboardStats, error) {
	groups, err := i.GetGroups(ctx)
	if err != nil {
		return DashboardStats{}, err
	}
	schedulers, err := i.GetSchedulers(ctx)
	if err != nil {
		return DashboardStats{}, err
	}
	stats := DashboardStats{TotalGroups: len(groups), TotalSchedulers: len(schedulers)}
	for _, g := range groups {
		stats.TotalPending += g.Pending
		stats.TotalReady += g.Ready
		stats.TotalRunning += g.Running
	}
	return stats, nil
}
