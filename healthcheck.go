// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package taskkit

import (
	"context"
	"sync"
	"time"

	"github.com/taskkit/taskkit/internal/base"
	"github.com/taskkit/taskkit/internal/log"
)

// healthchecker is responsible for periodically checking the health of the
// backend and invoking a user provided callback with the result of every
// check (nil when the backend is reachable).
type healthchecker struct {
	logger  *log.Logger
	backend base.Backend

	// channel to communicate back to the long running "healthchecker" goroutine.
	done chan struct{}

	// interval between healthchecks.
	interval time.Duration

	// user provided callback invoked with each ping's error (nil on success).
	healthcheckFunc func(error)
}

type healthcheckerParams struct {
	logger          *log.Logger
	backend         base.Backend
	interval        time.Duration
	healthcheckFunc func(error)
}

func newHealthChecker(params healthcheckerParams) *healthchecker {
	return &healthchecker{
		logger:          params.logger,
		backend:         params.backend,
		done:            make(chan struct{}),
		interval:        params.interval,
		healthcheckFunc: params.healthcheckFunc,
	}
}

func (hc *healthchecker) shutdown() {
	hc.logger.Debug("healthchecker shutting down...")
	hc.done <- struct{}{}
}

func (hc *healthchecker) start(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		timer := time.NewTimer(hc.interval)
		for {
			select {
			case <-hc.done:
				hc.logger.Debug("healthchecker done")
				timer.Stop()
				return
			case <-timer.C:
				hc.exec()
				timer.Reset(hc.interval)
			}
		}
	}()
}

func (hc *healthchecker) exec() {
	ctx, cancel := context.WithTimeout(context.Background(), hc.interval)
	defer cancel()
	err := hc.backend.Ping(ctx)
	if hc.healthcheckFunc != nil {
		hc.healthcheckFunc(err)
	}
}
