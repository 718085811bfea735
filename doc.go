// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

/*
Package taskkit provides a distributed task runner backed by Redis.

Producers enqueue named tasks with a due time; a pool of workers per group
pulls due tasks, leases them exclusively, and executes them through a
user-supplied Handler. Results are persisted and can be awaited from any
process sharing the backend. A scheduler materializes recurring tasks from
declared entries, exactly once per occurrence across a cluster of
contending schedulers.

# Quick Start

Defining a Kit and a group:

	backend := redisqueue.NewRDB(redis.NewClient(&redis.Options{Addr: "localhost:6379"}))
	kit := taskkit.NewKit(backend, taskkit.Config{})
	kit.RegisterGroup(taskkit.GroupConfig{
		Group:       "emails",
		Concurrency: 10,
		Handler:     myHandler,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := kit.StartProcesses(ctx); err != nil {
		log.Fatal(err)
	}
	defer kit.Shutdown(30 * time.Second)

Enqueuing work and waiting on its result:

	handle, err := kit.InitiateTask(ctx, "emails", "welcome", payload, taskkit.ProcessIn(time.Minute))
	if err != nil {
		log.Fatal(err)
	}
	result, err := handle.Get(ctx, 5*time.Minute)

# Architecture

taskkit separates the backend contract (internal/base.Backend) from the
orchestration logic above it. internal/backend/redisqueue is the reference
Redis adapter: every compare-and-swap step of the contract (assignment,
lease renewal, completion, reschedule, discard, permanent failure) runs as
a Lua script so the contract stays linearizable across processes.
internal/backend/memqueue implements the same contract in-process, used by
the test suite and suitable for single-process deployments.

A Kit spawns one worker pool per registered group. Each worker polls for
an assignment with exponential backoff and jitter, renews its lease on a
ticker while the handler runs, and finalizes the outcome (complete,
reschedule, discard, or permanent failure) based on the handler's return
value and its GetRetryInterval decision. A scheduler contends for a named
lock so exactly one process drives a given recurring schedule at a time,
and deterministically derives each occurrence's task id so a scheduler
failover never double-fires an occurrence.

# Monitoring

cmd/taskkit-dashboard is a read-only web dashboard over the Redis
adapter's keyspace. Start it with:

	go run ./cmd/taskkit-dashboard -redis localhost:6379

Then visit http://localhost:8080 to view groups, tasks, and schedulers.
*/
package taskkit
