// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package taskkit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskkit/taskkit/internal/base"
	"github.com/taskkit/taskkit/internal/log"
)

const (
	defaultSchedulerLease    = 30 * time.Second
	defaultTickInterval      = 1 * time.Second
	defaultMaxBackfill       = 60 * time.Second
	schedulerAcquireBackoff  = 2 * time.Second
)

// ScheduleEntry is a recurring task template owned by exactly one
// Scheduler (identified by its scheduler name), materialized into
// concrete Task rows as its Schedule fires.
type ScheduleEntry struct {
	// Key uniquely identifies this entry within its scheduler name.
	Key   string
	Group string
	Name  string
	// Data is the entry's pre-encoded payload. Leave nil and set Value
	// instead to hand Kit.RegisterScheduler an unencoded dict form.
	Data []byte
	// Value, if Data is nil, is coerced to a string map via cast and
	// encoded through the group's Handler.EncodeData by
	// Kit.RegisterScheduler.
	Value    any
	Schedule Schedule
}

// scheduler owns reconciliation and tick-firing for one scheduler name.
type scheduler struct {
	name        string
	holder      string
	backend     base.Backend
	logger      *log.Logger
	entries     map[string]*ScheduleEntry
	tz          *time.Location
	leaseDur    time.Duration
	tick        time.Duration
	maxBackfill time.Duration

	lastFired map[string]time.Time
}

func newScheduler(name string, entries []*ScheduleEntry, tz *time.Location, backend base.Backend, logger *log.Logger) *scheduler {
	if tz == nil {
		tz = time.Local
	}
	m := make(map[string]*ScheduleEntry, len(entries))
	for _, e := range entries {
		m[e.Key] = e
	}
	return &scheduler{
		name:        name,
		holder:      fmt.Sprintf("sch:%s:%s", name, uuid.NewString()),
		backend:     backend,
		logger:      logger,
		entries:     m,
		tz:          tz,
		leaseDur:    defaultSchedulerLease,
		tick:        defaultTickInterval,
		maxBackfill: defaultMaxBackfill,
		lastFired:   make(map[string]time.Time),
	}
}

// run acquires the scheduler-name lock, reconciles declared entries
// against the backend, and ticks until ctx is canceled, restarting
// acquisition whenever the lease is lost.
func (s *scheduler) run(ctx context.Context) {
	for ctx.Err() == nil {
		now := time.Now().UTC()
		ok, err := s.backend.AcquireScheduler(ctx, s.name, s.holder, s.leaseDur, now)
		if err != nil {
			s.logger.Errorf("[%s] acquire scheduler failed: %v", s.name, err)
		}
		if !ok {
			if !sleepWithJitter(ctx, schedulerAcquireBackoff) {
				return
			}
			continue
		}
		s.logger.Infof("[%s] acquired scheduler lock as %s", s.name, s.holder)
		if err := s.reconcile(ctx); err != nil {
			s.logger.Errorf("[%s] reconcile failed: %v", s.name, err)
		}
		lost := s.tickLoop(ctx)
		if !lost {
			return
		}
		s.logger.Infof("[%s] lost scheduler lock; restarting acquisition", s.name)
	}
}

// reconcile seeds lastFired from backend state, deletes any persisted entry
// whose key was not declared, and upserts every declared entry, keeping
// its persisted last-fired time.
func (s *scheduler) reconcile(ctx context.Context) error {
	persisted, err := s.backend.ListScheduleEntries(ctx, s.name)
	if err != nil {
		return err
	}
	for _, p := range persisted {
		if _, declared := s.entries[p.Key]; !declared {
			if err := s.backend.DeleteScheduleEntry(ctx, s.name, p.Key); err != nil {
				return err
			}
			continue
		}
		if p.LastFiredAt != nil {
			s.lastFired[p.Key] = *p.LastFiredAt
		}
	}
	for key, e := range s.entries {
		blob, err := e.Schedule.marshal()
		if err != nil {
			return fmt.Errorf("taskkit: marshal schedule for entry %q: %w", key, err)
		}
		msg := &base.ScheduleEntryMessage{
			Key: key, Group: e.Group, Name: e.Name, Data: e.Data, ScheduleBlob: blob,
		}
		if last, ok := s.lastFired[key]; ok {
			msg.LastFiredAt = &last
		}
		if err := s.backend.UpsertScheduleEntry(ctx, s.name, msg); err != nil {
			return err
		}
	}
	return nil
}

// tickLoop renews the scheduler lease and fires due entries every tick
// interval, realigned to second boundaries. Returns true if it stopped
// because the lease was lost (so run should retry acquisition), false if
// ctx was canceled.
func (s *scheduler) tickLoop(ctx context.Context) bool {
	for {
		next := time.Now().Truncate(time.Second).Add(s.tick)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Until(next)):
		}

		now := time.Now().UTC()
		ok, err := s.backend.RenewScheduler(ctx, s.name, s.holder, s.leaseDur, now)
		if err != nil {
			s.logger.Errorf("[%s] renew scheduler failed: %v", s.name, err)
		}
		if !ok {
			return true
		}
		for key, e := range s.entries {
			if err := s.fireIfDue(ctx, key, e, now); err != nil {
				s.logger.Errorf("[%s] firing entry %q failed: %v", s.name, key, err)
			}
		}
	}
}

func (s *scheduler) fireIfDue(ctx context.Context, key string, e *ScheduleEntry, now time.Time) error {
	floor := now.Add(-s.maxBackfill)
	last, ok := s.lastFired[key]
	if !ok || last.Before(floor) {
		last = floor
	}
	candidate := e.Schedule.NextAfter(last, s.tz)
	if candidate.IsZero() || candidate.After(now) {
		return nil
	}
	id := base.OccurrenceID(s.name, key, candidate)
	if err := s.backend.Enqueue(ctx, &base.TaskMessage{
		ID: id, Group: e.Group, Name: e.Name, Data: e.Data, DueAt: candidate,
	}); err != nil {
		return err
	}
	s.lastFired[key] = candidate
	blob, err := e.Schedule.marshal()
	if err != nil {
		return err
	}
	return s.backend.UpsertScheduleEntry(ctx, s.name, &base.ScheduleEntryMessage{
		Key: key, Group: e.Group, Name: e.Name, Data: e.Data, ScheduleBlob: blob, LastFiredAt: &candidate,
	})
}
