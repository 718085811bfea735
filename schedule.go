// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package taskkit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule is a pure function from an instant to the next firing instant
// strictly after it, in a given timezone. It is represented as a tagged
// variant rather than a class hierarchy: RegularSchedule is the built-in
// field-set form and CronSchedule wraps a standard five-field cron
// expression. These are the only two variants: the unexported methods
// below keep types outside this package from implementing Schedule.
type Schedule interface {
	// NextAfter returns the next instant strictly after `after`, in loc,
	// at which this schedule fires.
	NextAfter(after time.Time, loc *time.Location) time.Time

	// marshal and kind back the tagged-variant encoding used to persist a
	// Schedule inside a ScheduleEntry's wire blob.
	marshal() ([]byte, error)
	kind() string
}

// RegularSchedule fires at every instant whose local wall-clock
// second/minute/hour/weekday components all match the configured sets.
// A nil or empty set means "any" for that field. Resolution is one second.
type RegularSchedule struct {
	Seconds  []int
	Minutes  []int
	Hours    []int
	Weekdays []int
}

func toSet(vals []int) map[int]struct{} {
	if len(vals) == 0 {
		return nil
	}
	s := make(map[int]struct{}, len(vals))
	for _, v := range vals {
		s[v] = struct{}{}
	}
	return s
}

func matches(set map[int]struct{}, v int) bool {
	if set == nil {
		return true
	}
	_, ok := set[v]
	return ok
}

// maxScanDays bounds the brute-force day scan in NextAfter. Any
// combination of weekday/hour/minute/second constraints that is
// satisfiable at all is satisfied within a week; this generous cap only
// guards against a caller-supplied set that can never match (e.g. a
// Weekdays of {7} or an Hours of {24}).
const maxScanDays = 370

// NextAfter implements Schedule.
func (r RegularSchedule) NextAfter(after time.Time, loc *time.Location) time.Time {
	seconds, minutes, hours, weekdays := toSet(r.Seconds), toSet(r.Minutes), toSet(r.Hours), toSet(r.Weekdays)
	t := after.In(loc).Add(time.Second).Truncate(time.Second)
	for day := 0; day < maxScanDays; day++ {
		if !matches(weekdays, int(t.Weekday())) {
			t = nextMidnight(t, loc)
			continue
		}
		for h := t.Hour(); h < 24; h++ {
			if !matches(hours, h) {
				continue
			}
			minStart := 0
			if h == t.Hour() {
				minStart = t.Minute()
			}
			for m := minStart; m < 60; m++ {
				if !matches(minutes, m) {
					continue
				}
				secStart := 0
				if h == t.Hour() && m == t.Minute() {
					secStart = t.Second()
				}
				for s := secStart; s < 60; s++ {
					if !matches(seconds, s) {
						continue
					}
					cand := time.Date(t.Year(), t.Month(), t.Day(), h, m, s, 0, loc)
					if cand.After(after) {
						return cand
					}
				}
			}
		}
		t = nextMidnight(t, loc)
	}
	return time.Time{}
}

func nextMidnight(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
}

func (r RegularSchedule) kind() string { return "regular" }
func (r RegularSchedule) marshal() ([]byte, error) {
	return json.Marshal(struct {
		Kind string `json:"kind"`
		RegularSchedule
	}{Kind: r.kind(), RegularSchedule: r})
}

// CronSchedule wraps a standard five-field cron expression (parsed with
// github.com/robfig/cron/v3), offered as the Custom variant the schedule
// abstraction allows for callers who already think in cron syntax.
type CronSchedule struct {
	expr  string
	inner cron.Schedule
}

// NewCronSchedule parses a standard cron expression ("* * * * *"-style,
// minute resolution) into a Schedule.
func NewCronSchedule(expr string) (CronSchedule, error) {
	s, err := cron.ParseStandard(expr)
	if err != nil {
		return CronSchedule{}, fmt.Errorf("taskkit: invalid cron expression %q: %w", expr, err)
	}
	return CronSchedule{expr: expr, inner: s}, nil
}

// NextAfter implements Schedule.
func (c CronSchedule) NextAfter(after time.Time, loc *time.Location) time.Time {
	return c.inner.Next(after.In(loc))
}

func (c CronSchedule) kind() string { return "cron" }
func (c CronSchedule) marshal() ([]byte, error) {
	return json.Marshal(struct {
		Kind string `json:"kind"`
		Expr string `json:"expr"`
	}{Kind: c.kind(), Expr: c.expr})
}

// unmarshalSchedule decodes a Schedule from the tagged-variant blob
// written by marshal.
func unmarshalSchedule(b []byte) (Schedule, error) {
	var tag struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(b, &tag); err != nil {
		return nil, fmt.Errorf("taskkit: malformed schedule blob: %w", err)
	}
	switch tag.Kind {
	case "regular":
		var r RegularSchedule
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, err
		}
		return r, nil
	case "cron":
		var c struct{ Expr string }
		if err := json.Unmarshal(b, &c); err != nil {
			return nil, err
		}
		return NewCronSchedule(c.Expr)
	default:
		return nil, fmt.Errorf("taskkit: unknown schedule kind %q", tag.Kind)
	}
}
