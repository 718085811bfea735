// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

// Package timeutil provides a small Clock abstraction so lease and
// scheduler timing can be faked in tests.
package timeutil

import "time"

// Clock is a source of the current time.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system clock.
type RealClock struct{}

// NewRealClock returns a Clock backed by time.Now.
func NewRealClock() Clock {
	return RealClock{}
}

func (RealClock) Now() time.Time {
	return time.Now()
}

// SimulatedClock implements Clock with a settable time, for tests.
type SimulatedClock struct {
	t time.Time
}

// NewSimulatedClock returns a SimulatedClock fixed at t.
func NewSimulatedClock(t time.Time) *SimulatedClock {
	return &SimulatedClock{t: t}
}

func (c *SimulatedClock) Now() time.Time {
	return c.t
}

// SetTime sets the simulated time.
func (c *SimulatedClock) SetTime(t time.Time) {
	c.t = t
}

// AdvanceTime moves the simulated time forward by d.
func (c *SimulatedClock) AdvanceTime(d time.Duration) {
	c.t = c.t.Add(d)
}
