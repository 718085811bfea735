// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

// Package redisqueue is the reference Backend adapter: it implements the
// base.Backend contract over Redis, using Lua scripts for every
// compare-and-swap step so assignment, lease renewal, and finalization
// stay linearizable with respect to each other even across processes and
// machines.
package redisqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskkit/taskkit/internal/base"
	"github.com/taskkit/taskkit/internal/errors"
)

// RDB adapts a redis.UniversalClient to base.Backend.
type RDB struct {
	client redis.UniversalClient
}

// NewRDB returns a Backend backed by the given Redis client.
func NewRDB(client redis.UniversalClient) *RDB {
	return &RDB{client: client}
}

func (r *RDB) Close() error {
	return r.client.Close()
}

func (r *RDB) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// defaultResultRetention is used when a ResultMessage carries a zero
// Retention.
const defaultResultRetention = 7 * 24 * time.Hour

var enqueueCmd = redis.NewScript(`
-- KEYS[1]: task hash key
-- KEYS[2]: group zset key
-- KEYS[3]: groups set key
-- ARGV[1]: task id
-- ARGV[2]: group
-- ARGV[3]: name
-- ARGV[4]: data
-- ARGV[5]: due_at (unix float seconds)
-- ARGV[6]: retry_count
-- ARGV[7]: retention (nanoseconds, as a time.Duration int64)
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1],
	'id', ARGV[1],
	'group', ARGV[2],
	'name', ARGV[3],
	'data', ARGV[4],
	'due_at', ARGV[5],
	'retry_count', ARGV[6],
	'retention', ARGV[7])
redis.call('ZADD', KEYS[2], ARGV[5], ARGV[1])
redis.call('SADD', KEYS[3], ARGV[2])
return 1
`)

// Enqueue implements base.Backend.
func (r *RDB) Enqueue(ctx context.Context, msg *base.TaskMessage) error {
	keys := []string{base.TaskKey(msg.Group, msg.ID), base.TasksZKey(msg.Group), base.GroupsSetKey}
	_, err := enqueueCmd.Run(ctx, r.client, keys,
		msg.ID, msg.Group, msg.Name, msg.Data, unixFloat(msg.DueAt), msg.RetryCount, int64(msg.Retention)).Result()
	if err != nil {
		return errors.E(errors.Unavailable, "redis enqueue failed", err)
	}
	return nil
}

var assignCmd = redis.NewScript(`
-- KEYS[1]: group zset key
-- ARGV[1]: now (unix float seconds)
-- ARGV[2]: worker id
-- ARGV[3]: new lease_expires_at (unix float seconds)
-- ARGV[4]: task key prefix
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
	local taskKey = ARGV[4] .. id
	local assignee = redis.call('HGET', taskKey, 'assignee')
	local lease = redis.call('HGET', taskKey, 'lease_expires_at')
	local eligible = false
	if (not assignee) or assignee == '' then
		eligible = true
	elseif tonumber(lease) ~= nil and tonumber(lease) <= tonumber(ARGV[1]) then
		eligible = true
	end
	if eligible then
		redis.call('HSET', taskKey, 'assignee', ARGV[2], 'lease_expires_at', ARGV[3])
		return redis.call('HGETALL', taskKey)
	end
end
return false
`)

// Assign implements base.Backend.
func (r *RDB) Assign(ctx context.Context, group, workerID string, leaseDuration time.Duration, now time.Time) (*base.TaskMessage, error) {
	res, err := assignCmd.Run(ctx, r.client, []string{base.TasksZKey(group)},
		unixFloat(now), workerID, unixFloat(now.Add(leaseDuration)), base.TaskKeyPrefix(group)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.E(errors.Unavailable, "redis assign failed", err)
	}
	fields, ok := res.([]interface{})
	if !ok || len(fields) == 0 {
		return nil, nil
	}
	return taskMessageFromFields(group, fields)
}

var renewCmd = redis.NewScript(`
-- KEYS[1]: task key
-- ARGV[1]: worker id
-- ARGV[2]: now (unix float seconds)
-- ARGV[3]: new lease_expires_at
local assignee = redis.call('HGET', KEYS[1], 'assignee')
local lease = redis.call('HGET', KEYS[1], 'lease_expires_at')
if assignee ~= ARGV[1] then
	return 0
end
if tonumber(lease) == nil or tonumber(lease) <= tonumber(ARGV[2]) then
	return 0
end
redis.call('HSET', KEYS[1], 'lease_expires_at', ARGV[3])
return 1
`)

// Renew implements base.Backend.
func (r *RDB) Renew(ctx context.Context, group, taskID, workerID string, leaseDuration time.Duration, now time.Time) (bool, error) {
	n, err := renewCmd.Run(ctx, r.client, []string{base.TaskKey(group, taskID)}, workerID, unixFloat(now), unixFloat(now.Add(leaseDuration))).Int()
	if err != nil {
		return false, errors.E(errors.Unavailable, "redis renew failed", err)
	}
	return n == 1, nil
}

var completeCmd = redis.NewScript(`
-- KEYS[1]: task key
-- KEYS[2]: group zset key
-- KEYS[3]: result key
-- KEYS[4]: result expiry zset key
-- ARGV[1]: worker id
-- ARGV[2]: task id
-- ARGV[3]: result blob
-- ARGV[4]: result ttl seconds
-- ARGV[5]: expire_at (unix float seconds)
local assignee = redis.call('HGET', KEYS[1], 'assignee')
if assignee ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[3], ARGV[3])
if tonumber(ARGV[4]) > 0 then
	redis.call('EXPIRE', KEYS[3], ARGV[4])
end
redis.call('ZADD', KEYS[4], ARGV[5], ARGV[2])
redis.call('ZREM', KEYS[2], ARGV[2])
redis.call('DEL', KEYS[1])
return 1
`)

func (r *RDB) writeTerminalResult(ctx context.Context, group, taskID, workerID string, result *base.ResultMessage) (bool, error) {
	blob, err := base.EncodeResultMessage(result)
	if err != nil {
		return false, errors.E(errors.Internal, "encode result failed", err)
	}
	retention := result.Retention
	if retention <= 0 {
		retention = defaultResultRetention
	}
	keys := []string{base.TaskKey(group, taskID), base.TasksZKey(group), base.ResultKey(taskID), base.ResultExpiryZKey}
	n, err := completeCmd.Run(ctx, r.client, keys,
		workerID, taskID, blob, int(retention.Seconds()), unixFloat(result.CreatedAt.Add(retention))).Int()
	if err != nil {
		return false, errors.E(errors.Unavailable, "redis complete failed", err)
	}
	return n == 1, nil
}

// Complete implements base.Backend: writes a success result and releases
// the task.
func (r *RDB) Complete(ctx context.Context, group, taskID, workerID string, result *base.ResultMessage) (bool, error) {
	result.Kind = base.ResultSuccess
	return r.writeTerminalResult(ctx, group, taskID, workerID, result)
}

var rescheduleCmd = redis.NewScript(`
-- KEYS[1]: task key
-- KEYS[2]: group zset key
-- ARGV[1]: worker id
-- ARGV[2]: task id
-- ARGV[3]: new due_at (unix float seconds)
-- ARGV[4]: new retry_count
local assignee = redis.call('HGET', KEYS[1], 'assignee')
if assignee ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'due_at', ARGV[3], 'retry_count', ARGV[4])
redis.call('HDEL', KEYS[1], 'assignee', 'lease_expires_at')
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[2])
return 1
`)

// Reschedule implements base.Backend.
func (r *RDB) Reschedule(ctx context.Context, group, taskID, workerID string, newDueAt time.Time, retryCount int) (bool, error) {
	keys := []string{base.TaskKey(group, taskID), base.TasksZKey(group)}
	n, err := rescheduleCmd.Run(ctx, r.client, keys, workerID, taskID, unixFloat(newDueAt), retryCount).Int()
	if err != nil {
		return false, errors.E(errors.Unavailable, "redis reschedule failed", err)
	}
	return n == 1, nil
}

var discardCmd = redis.NewScript(`
-- KEYS[1]: task key
-- KEYS[2]: group zset key
-- ARGV[1]: worker id
-- ARGV[2]: task id
local assignee = redis.call('HGET', KEYS[1], 'assignee')
if assignee ~= ARGV[1] then
	return 0
end
redis.call('ZREM', KEYS[2], ARGV[2])
redis.call('DEL', KEYS[1])
return 1
`)

// Discard implements base.Backend.
func (r *RDB) Discard(ctx context.Context, group, taskID, workerID string) (bool, error) {
	keys := []string{base.TaskKey(group, taskID), base.TasksZKey(group)}
	n, err := discardCmd.Run(ctx, r.client, keys, workerID, taskID).Int()
	if err != nil {
		return false, errors.E(errors.Unavailable, "redis discard failed", err)
	}
	return n == 1, nil
}

// FailPermanent implements base.Backend: writes an error result and
// releases the task.
func (r *RDB) FailPermanent(ctx context.Context, group, taskID, workerID string, result *base.ResultMessage) (bool, error) {
	result.Kind = base.ResultError
	return r.writeTerminalResult(ctx, group, taskID, workerID, result)
}

// GetResult implements base.Backend.
func (r *RDB) GetResult(ctx context.Context, taskID string) (*base.ResultMessage, error) {
	b, err := r.client.Get(ctx, base.ResultKey(taskID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.E(errors.Unavailable, "redis get result failed", err)
	}
	return base.DecodeResultMessage(b)
}

var acquireSchedulerCmd = redis.NewScript(`
-- KEYS[1]: scheduler lock key
-- ARGV[1]: holder
-- ARGV[2]: now (unix float seconds)
-- ARGV[3]: new lease_expires_at
local cur = redis.call('HMGET', KEYS[1], 'holder', 'lease_expires_at')
local holder, lease = cur[1], cur[2]
if holder and holder ~= '' and tonumber(lease) ~= nil and tonumber(lease) > tonumber(ARGV[2]) and holder ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'holder', ARGV[1], 'lease_expires_at', ARGV[3])
return 1
`)

// AcquireScheduler implements base.Backend.
func (r *RDB) AcquireScheduler(ctx context.Context, name, holder string, leaseDuration time.Duration, now time.Time) (bool, error) {
	n, err := acquireSchedulerCmd.Run(ctx, r.client, []string{base.SchedulerLockKey(name)},
		holder, unixFloat(now), unixFloat(now.Add(leaseDuration))).Int()
	if err != nil {
		return false, errors.E(errors.Unavailable, "redis acquire scheduler failed", err)
	}
	if n == 1 {
		r.client.SAdd(ctx, base.SchedulersSetKey, name)
	}
	return n == 1, nil
}

var renewSchedulerCmd = redis.NewScript(`
-- KEYS[1]: scheduler lock key
-- ARGV[1]: holder
-- ARGV[2]: new lease_expires_at
local holder = redis.call('HGET', KEYS[1], 'holder')
if holder ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'lease_expires_at', ARGV[2])
return 1
`)

// RenewScheduler implements base.Backend.
func (r *RDB) RenewScheduler(ctx context.Context, name, holder string, leaseDuration time.Duration, now time.Time) (bool, error) {
	n, err := renewSchedulerCmd.Run(ctx, r.client, []string{base.SchedulerLockKey(name)}, holder, unixFloat(now.Add(leaseDuration))).Int()
	if err != nil {
		return false, errors.E(errors.Unavailable, "redis renew scheduler failed", err)
	}
	return n == 1, nil
}

var releaseSchedulerCmd = redis.NewScript(`
local holder = redis.call('HGET', KEYS[1], 'holder')
if holder == ARGV[1] then
	redis.call('DEL', KEYS[1])
end
return 1
`)

// ReleaseScheduler implements base.Backend.
func (r *RDB) ReleaseScheduler(ctx context.Context, name, holder string) error {
	_, err := releaseSchedulerCmd.Run(ctx, r.client, []string{base.SchedulerLockKey(name)}, holder).Result()
	if err != nil {
		return errors.E(errors.Unavailable, "redis release scheduler failed", err)
	}
	return nil
}

// ListScheduleEntries implements base.Backend.
func (r *RDB) ListScheduleEntries(ctx context.Context, name string) ([]*base.ScheduleEntryMessage, error) {
	fields, err := r.client.HGetAll(ctx, base.ScheduleEntriesKey(name)).Result()
	if err != nil {
		return nil, errors.E(errors.Unavailable, "redis list schedule entries failed", err)
	}
	entries := make([]*base.ScheduleEntryMessage, 0, len(fields))
	for _, blob := range fields {
		e, err := base.DecodeScheduleEntryMessage([]byte(blob))
		if err != nil {
			return nil, errors.E(errors.Internal, "decode schedule entry failed", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// UpsertScheduleEntry implements base.Backend.
func (r *RDB) UpsertScheduleEntry(ctx context.Context, name string, entry *base.ScheduleEntryMessage) error {
	blob, err := base.EncodeScheduleEntryMessage(entry)
	if err != nil {
		return errors.E(errors.Internal, "encode schedule entry failed", err)
	}
	if err := r.client.HSet(ctx, base.ScheduleEntriesKey(name), entry.Key, blob).Err(); err != nil {
		return errors.E(errors.Unavailable, "redis upsert schedule entry failed", err)
	}
	return nil
}

// DeleteScheduleEntry implements base.Backend.
func (r *RDB) DeleteScheduleEntry(ctx context.Context, name, key string) error {
	if err := r.client.HDel(ctx, base.ScheduleEntriesKey(name), key).Err(); err != nil {
		return errors.E(errors.Unavailable, "redis delete schedule entry failed", err)
	}
	return nil
}

// DeleteExpiredResults implements base.Backend.
func (r *RDB) DeleteExpiredResults(ctx context.Context, batchSize int) (int, error) {
	ids, err := r.client.ZRangeByScore(ctx, base.ResultExpiryZKey, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", unixFloat(time.Now())), Count: int64(batchSize),
	}).Result()
	if err != nil {
		return 0, errors.E(errors.Unavailable, "redis list expired results failed", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	pipe := r.client.Pipeline()
	for _, id := range ids {
		pipe.Del(ctx, base.ResultKey(id))
	}
	pipe.ZRem(ctx, base.ResultExpiryZKey, toAnySlice(ids)...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.E(errors.Unavailable, "redis delete expired results failed", err)
	}
	return len(ids), nil
}

func unixFloat(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

func toAnySlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func taskMessageFromFields(group string, fields []interface{}) (*base.TaskMessage, error) {
	m := map[string]string{}
	for i := 0; i+1 < len(fields); i += 2 {
		k, _ := fields[i].(string)
		v, _ := fields[i+1].(string)
		m[k] = v
	}
	due, err := parseUnixFloat(m["due_at"])
	if err != nil {
		return nil, err
	}
	lease, _ := parseUnixFloat(m["lease_expires_at"])
	retry := 0
	fmt.Sscanf(m["retry_count"], "%d", &retry)
	var retentionNanos int64
	fmt.Sscanf(m["retention"], "%d", &retentionNanos)
	return &base.TaskMessage{
		ID:             m["id"],
		Group:          group,
		Name:           m["name"],
		Data:           []byte(m["data"]),
		DueAt:          due,
		RetryCount:     retry,
		Assignee:       m["assignee"],
		LeaseExpiresAt: lease,
		Retention:      time.Duration(retentionNanos),
	}, nil
}

func parseUnixFloat(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	var f float64
	if _, err := fmt.Sscanf(s, "%f", &f); err != nil {
		return time.Time{}, errors.E(errors.Internal, fmt.Sprintf("malformed timestamp %q", s), err)
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC(), nil
}
