package taskkit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegularScheduleNextAfter(t *testing.T) {
	loc := time.UTC

	t.Run("every day at a fixed hour/minute/second", func(t *testing.T) {
		s := RegularSchedule{Hours: []int{9}, Minutes: []int{0}, Seconds: []int{0}}
		after := time.Date(2026, 8, 6, 8, 0, 0, 0, loc)
		next := s.NextAfter(after, loc)
		assert.Equal(t, time.Date(2026, 8, 6, 9, 0, 0, 0, loc), next)
	})

	t.Run("rolls to the next day once today's slot has passed", func(t *testing.T) {
		s := RegularSchedule{Hours: []int{9}, Minutes: []int{0}, Seconds: []int{0}}
		after := time.Date(2026, 8, 6, 9, 0, 0, 0, loc)
		next := s.NextAfter(after, loc)
		assert.Equal(t, time.Date(2026, 8, 7, 9, 0, 0, 0, loc), next)
	})

	t.Run("restricts to named weekdays", func(t *testing.T) {
		// 2026-08-06 is a Thursday (4); ask for Mondays only.
		s := RegularSchedule{Weekdays: []int{1}, Hours: []int{9}, Minutes: []int{0}, Seconds: []int{0}}
		after := time.Date(2026, 8, 6, 0, 0, 0, 0, loc)
		next := s.NextAfter(after, loc)
		assert.Equal(t, time.Monday, next.Weekday())
		assert.True(t, next.After(after))
	})

	t.Run("no field sets means every second", func(t *testing.T) {
		s := RegularSchedule{}
		after := time.Date(2026, 8, 6, 9, 0, 0, 0, loc)
		next := s.NextAfter(after, loc)
		assert.Equal(t, after.Add(time.Second), next)
	})
}

func TestCronScheduleNextAfter(t *testing.T) {
	s, err := NewCronSchedule("*/5 * * * *")
	require.NoError(t, err)

	after := time.Date(2026, 8, 6, 9, 2, 0, 0, time.UTC)
	next := s.NextAfter(after, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 6, 9, 5, 0, 0, time.UTC), next)
}

func TestNewCronScheduleRejectsInvalidExpression(t *testing.T) {
	_, err := NewCronSchedule("not a cron expression")
	assert.Error(t, err)
}

func TestScheduleMarshalRoundTrip(t *testing.T) {
	t.Run("regular", func(t *testing.T) {
		s := RegularSchedule{Hours: []int{9}, Minutes: []int{30}}
		blob, err := s.marshal()
		require.NoError(t, err)
		decoded, err := unmarshalSchedule(blob)
		require.NoError(t, err)
		got, ok := decoded.(RegularSchedule)
		require.True(t, ok)
		assert.Equal(t, s.Hours, got.Hours)
		assert.Equal(t, s.Minutes, got.Minutes)
	})

	t.Run("cron", func(t *testing.T) {
		s, err := NewCronSchedule("0 */2 * * *")
		require.NoError(t, err)
		blob, err := s.marshal()
		require.NoError(t, err)
		decoded, err := unmarshalSchedule(blob)
		require.NoError(t, err)
		got, ok := decoded.(CronSchedule)
		require.True(t, ok)
		ref := time.Date(2026, 8, 6, 1, 0, 0, 0, time.UTC)
		assert.Equal(t, s.NextAfter(ref, time.UTC), got.NextAfter(ref, time.UTC))
	})

	t.Run("unknown kind is rejected", func(t *testing.T) {
		_, err := unmarshalSchedule([]byte(`{"kind":"bogus"}`))
		assert.Error(t, err)
	})
}
