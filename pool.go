// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package taskkit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/taskkit/taskkit/internal/base"
	"github.com/taskkit/taskkit/internal/log"
)

// PoolConfig configures a group's worker pool.
type PoolConfig struct {
	// LeaseDuration is how long a worker's claim on a task lasts before
	// it is considered abandoned. It should comfortably exceed the p99
	// task runtime; it defaults to 60s.
	LeaseDuration time.Duration

	// MaxAssignRate, if positive, caps how many Assign calls per second
	// the pool's workers collectively issue, bounding how hard a backoff
	// storm hammers the backend. Zero means unlimited.
	MaxAssignRate float64
}

// pool owns the fixed-size set of workers servicing one group.
type pool struct {
	group   string
	workers []*worker
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	paused  atomic.Bool
}

func newPool(group string, count int, backend base.Backend, handler Handler, logger *log.Logger, cfg PoolConfig) *pool {
	var limiter *rate.Limiter
	if cfg.MaxAssignRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxAssignRate), maxInt(1, int(cfg.MaxAssignRate)))
	}
	p := &pool{group: group}
	for i := 0; i < count; i++ {
		p.workers = append(p.workers, newWorker(group, backend, handler, logger, cfg.LeaseDuration, limiter, &p.paused))
	}
	return p
}

// pause stops the pool's workers from pulling new assignments; tasks
// already in flight run to completion.
func (p *pool) pause() { p.paused.Store(true) }

// resume lets the pool's workers pull new assignments again.
func (p *pool) resume() { p.paused.Store(false) }

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// start spawns every worker's run loop, bound to a child of ctx so
// shutdown cancels them all at once.
func (p *pool) start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *worker) {
			defer p.wg.Done()
			w.run(ctx)
		}(w)
	}
}

// shutdown stops dispatching new assignments and waits up to grace for
// in-flight handler invocations to finish before returning.
func (p *pool) shutdown(grace time.Duration) {
	if p.cancel == nil {
		return
	}
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
	}
}
