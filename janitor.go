// Copyright 2022 Kentaro Hibino. All rights reserved.
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

// janitor is responsible for periodically deleting results whose
// retention window has elapsed.
type janitor struct {
	logger  *log.Logger
	backend base.Backend

	// channel to communicate back to the long running "janitor" goroutine.
	done chan struct{}

	// interval between cleanup runs.
	interval time.Duration

	// number of results to delete in a single call.
	batchSize int
}

type janitorParams struct {
	logger    *log.Logger
	backend   base.Backend
	interval  time.Duration
	batchSize int
}

func newJanitor(params janitorParams) *janitor {
	return &janitor{
		logger:    params.logger,
		backend:   params.backend,
		done:      make(chan struct{}),
		interval:  params.interval,
		batchSize: params.batchSize,
	}
}

func (j *janitor) shutdown() {
	j.logger.Debug("janitor shutting down...")
	j.done <- struct{}{}
}

func (j *janitor) start(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		timer := time.NewTimer(j.interval)
		for {
			select {
			case <-j.done:
				j.logger.Debug("janitor done")
				timer.Stop()
				return
			case <-timer.C:
				j.exec()
				timer.Reset(j.interval)
			}
		}
	}()
}

func (j *janitor) exec() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := j.backend.DeleteExpiredResults(ctx, j.batchSize)
	if err != nil {
		j.logger.Errorf("failed to delete expired results: %v", err)
		return
	}
	if n > 0 {
		j.logger.Debugf("deleted %d expired results", n)
	}
}
