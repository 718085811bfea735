// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package taskkit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cast"

	"github.com/taskkit/taskkit/internal/base"
	"github.com/taskkit/taskkit/internal/log"
)

const (
	defaultHealthcheckInterval = 15 * time.Second
	defaultJanitorInterval     = 1 * time.Minute
	defaultJanitorBatchSize    = 100
	defaultShutdownGrace       = 30 * time.Second
)

// Config configures a Kit.
type Config struct {
	// Logger receives the Kit's and its pools'/schedulers' log output. If
	// nil, a default stderr logger is used.
	Logger log.Base
	// LogLevel gates Logger's output. Defaults to log.InfoLevel.
	LogLevel log.Level
	// HealthCheckInterval is how often the backend is pinged. Defaults to
	// 15s. HealthCheckFunc, if set, is invoked with the ping's result (nil
	// on success) on every check.
	HealthCheckInterval time.Duration
	HealthCheckFunc     func(error)
	// JanitorInterval is how often expired results are swept. Defaults to
	// 1m. JanitorBatchSize caps how many are deleted per sweep; defaults
	// to 100.
	JanitorInterval  time.Duration
	JanitorBatchSize int
	// ShutdownGrace bounds how long Shutdown waits for in-flight handler
	// invocations to finish before returning anyway. Defaults to 30s.
	ShutdownGrace time.Duration
}

// GroupConfig declares one group's worker pool: how many workers service
// it and which Handler they dispatch to.
type GroupConfig struct {
	Group       string
	Concurrency int
	Handler     Handler
	Pool        PoolConfig
}

// Kit is the top-level orchestrator: it owns the backend connection, a
// worker pool per registered group, any running schedulers, and the
// ambient health-check and janitor loops, and exposes InitiateTask as the
// single entry point for producing work.
type Kit struct {
	backend base.Backend
	logger  *log.Logger
	cfg     Config

	mu         sync.Mutex
	pools      map[string]*pool
	handlers   map[string]Handler
	schedulers map[string]*scheduler

	hc  *healthchecker
	jan *janitor

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	started bool
	closed  bool
}

// NewKit constructs a Kit bound to backend. Groups and schedulers are
// registered with RegisterGroup/RegisterScheduler before Start or
// StartProcesses is called; InitiateTask works immediately since it only
// needs the backend.
func NewKit(backend base.Backend, cfg Config) *Kit {
	logger := log.NewLogger(cfg.Logger)
	logger.SetLevel(cfg.LogLevel)
	k := &Kit{
		backend:    backend,
		logger:     logger,
		cfg:        cfg,
		pools:      make(map[string]*pool),
		handlers:   make(map[string]Handler),
		schedulers: make(map[string]*scheduler),
	}
	k.hc = newHealthChecker(healthcheckerParams{
		logger:          logger,
		backend:         backend,
		interval:        orDefault(cfg.HealthCheckInterval, defaultHealthcheckInterval),
		healthcheckFunc: cfg.HealthCheckFunc,
	})
	batch := cfg.JanitorBatchSize
	if batch <= 0 {
		batch = defaultJanitorBatchSize
	}
	k.jan = newJanitor(janitorParams{
		logger:    logger,
		backend:   backend,
		interval:  orDefault(cfg.JanitorInterval, defaultJanitorInterval),
		batchSize: batch,
	})
	return k
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// RegisterGroup declares a group's worker pool. It must be called before
// Start/StartProcesses; registering the same group twice replaces the
// prior registration.
func (k *Kit) RegisterGroup(gc GroupConfig) {
	k.mu.Lock()
	defer k.mu.Unlock()
	concurrency := gc.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	k.pools[gc.Group] = newPool(gc.Group, concurrency, k.backend, gc.Handler, k.logger, gc.Pool)
	k.handlers[gc.Group] = gc.Handler
}

// RegisterScheduler declares a named scheduler over a set of recurring
// entries. Only one process cluster-wide will actually be driving it at
// once; every Kit that registers the same name contends for its lock.
//
// An entry may be given either fully-formed, with Data already encoded,
// or in dict form: Value set to an unencoded map-like value (map[string]any,
// map[string]string, a JSON object string, or any other map cast can
// coerce to a string map; structs are not accepted) and Data left nil.
// RegisterScheduler coerces Value with cast and encodes
// it through the entry's group's registered Handler.EncodeData before the
// scheduler ever persists or fires it.
func (k *Kit) RegisterScheduler(name string, entries []*ScheduleEntry, tz *time.Location) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, e := range entries {
		if e.Data != nil || e.Value == nil {
			continue
		}
		handler, ok := k.handlers[e.Group]
		if !ok {
			return fmt.Errorf("taskkit: no handler registered for group %q (entry %q)", e.Group, e.Key)
		}
		dict, err := cast.ToStringMapE(e.Value)
		if err != nil {
			strMap, strErr := cast.ToStringMapStringE(e.Value)
			if strErr != nil {
				return fmt.Errorf("taskkit: coerce dict data for entry %q: %w", e.Key, err)
			}
			dict = make(map[string]any, len(strMap))
			for k, v := range strMap {
				dict[k] = v
			}
		}
		data, err := handler.EncodeData(e.Group, e.Name, dict)
		if err != nil {
			return fmt.Errorf("taskkit: encode dict data for entry %q: %w", e.Key, err)
		}
		e.Data = data
	}
	k.schedulers[name] = newScheduler(name, entries, tz, k.backend, k.logger)
	return nil
}

// Start runs every registered pool and scheduler plus the health checker
// and janitor, and blocks until ctx is canceled, at which point it drains
// and returns. It is equivalent to StartProcesses followed by waiting on
// ctx.Done() and Shutdown.
func (k *Kit) Start(ctx context.Context) error {
	if err := k.StartProcesses(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	k.Shutdown(orDefault(k.cfg.ShutdownGrace, defaultShutdownGrace))
	return nil
}

// Run starts every registered pool and scheduler and blocks until an os
// signal asks it to stop: SIGINT/SIGTERM shut it down, and on unix
// SIGTSTP toggles pause/resume on the named groups (or every registered
// group if none are named) without exiting. Once it receives a shutdown
// signal it drains and returns.
func (k *Kit) Run(groups ...string) error {
	if err := k.StartProcesses(context.Background()); err != nil {
		return err
	}
	k.waitForSignals(groups...)
	k.Shutdown(orDefault(k.cfg.ShutdownGrace, defaultShutdownGrace))
	return nil
}

// StartProcesses spawns every registered pool's workers, every registered
// scheduler, and the health checker/janitor, then returns immediately.
// Callers that want a blocking call should use Start or Run, or wait on
// their own signal and call Shutdown themselves. It returns ErrServerClosed
// if the Kit has already been through Shutdown.
func (k *Kit) StartProcesses(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return ErrServerClosed
	}
	k.started = true
	k.runCtx, k.runCancel = context.WithCancel(ctx)
	for group, p := range k.pools {
		k.logger.Infof("starting pool for group %q with %d workers", group, len(p.workers))
		p.start(k.runCtx)
	}
	for name, s := range k.schedulers {
		k.wg.Add(1)
		go func(name string, s *scheduler) {
			defer k.wg.Done()
			s.run(k.runCtx)
		}(name, s)
	}
	k.hc.start(&k.wg)
	k.jan.start(&k.wg)
	return nil
}

// Shutdown stops every pool and scheduler, waiting up to grace for
// in-flight handler invocations to finish. After Shutdown returns, the Kit
// no longer dispatches tasks, and InitiateTask, StartProcesses, Start and
// Run return ErrServerClosed. Waiting on a ResultHandle obtained earlier
// still works since it only touches the backend.
//
// A Kit on which StartProcesses/Start/Run was never called (a
// producer-only Kit, per NewKit's own doc comment) has no healthchecker
// or janitor goroutine listening on their done channels; calling Shutdown
// on one just marks it closed instead of blocking on those sends forever.
func (k *Kit) Shutdown(grace time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return
	}
	k.closed = true
	if !k.started {
		return
	}
	k.logger.Info("shutting down...")
	for _, p := range k.pools {
		p.shutdown(grace)
	}
	if k.runCancel != nil {
		k.runCancel()
	}
	k.hc.shutdown()
	k.jan.shutdown()
	k.wg.Wait()
	k.logger.Info("shutdown complete")
}

// Pause stops the named groups' pools from pulling new assignments,
// leaving tasks already in flight to finish normally. Unregistered group
// names are ignored.
func (k *Kit) Pause(groups ...string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, g := range groups {
		if p, ok := k.pools[g]; ok {
			p.pause()
			k.logger.Infof("paused group %q", g)
		}
	}
}

// Resume lets the named groups' pools pull new assignments again.
func (k *Kit) Resume(groups ...string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, g := range groups {
		if p, ok := k.pools[g]; ok {
			p.resume()
			k.logger.Infof("resumed group %q", g)
		}
	}
}

// groupNames returns every currently registered group, for callers (like
// waitForSignals) that want to act on "all groups" without the caller
// having to track the list itself.
func (k *Kit) groupNames() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	names := make([]string, 0, len(k.pools))
	for g := range k.pools {
		names = append(names, g)
	}
	return names
}

// InitiateTask enqueues a new task in group dispatching to name, encoding
// value via the group's registered Handler, and returns a ResultHandle the
// caller (or any other process sharing the backend) can use to await its
// outcome. It works whether or not this Kit has started any processes,
// since enqueuing only needs the backend and the handler's codec.
func (k *Kit) InitiateTask(ctx context.Context, group, name string, value any, opts ...InitiateOption) (*ResultHandle, error) {
	if err := base.ValidateGroupName(group); err != nil {
		return nil, err
	}
	k.mu.Lock()
	closed := k.closed
	handler, ok := k.handlers[group]
	k.mu.Unlock()
	if closed {
		return nil, ErrServerClosed
	}
	if !ok {
		return nil, fmt.Errorf("taskkit: no handler registered for group %q", group)
	}
	data, err := handler.EncodeData(group, name, value)
	if err != nil {
		return nil, fmt.Errorf("taskkit: encode task data: %w", err)
	}
	return k.initiateEncoded(ctx, group, name, data, handler, opts...)
}

// initiateEncoded is the tail of InitiateTask once data has been encoded:
// it applies the options, enqueues the task and builds its ResultHandle.
func (k *Kit) initiateEncoded(ctx context.Context, group, name string, data []byte, handler Handler, opts ...InitiateOption) (*ResultHandle, error) {
	var o initiateOptions
	for _, opt := range opts {
		opt.apply(&o)
	}
	id := o.taskID
	if id == "" {
		id = newTaskID()
	}
	due := o.due
	if due.IsZero() {
		due = time.Now().UTC()
	}
	msg := &base.TaskMessage{ID: id, Group: group, Name: name, Data: data, DueAt: due, Retention: o.retention}
	if err := k.backend.Enqueue(ctx, msg); err != nil {
		return nil, err
	}
	stub := &Task{ID: id, Group: group, Name: name, Retention: o.retention}
	return &ResultHandle{backend: k.backend, handler: handler, taskID: id, stub: stub}, nil
}

// Ping checks connectivity to the backend.
func (k *Kit) Ping(ctx context.Context) error {
	return k.backend.Ping(ctx)
}

// Close releases the backend connection. It does not stop any running
// pools/schedulers; call Shutdown first.
func (k *Kit) Close() error {
	return k.backend.Close()
}
