package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestParseTimeOfDay(t *testing.T) {
	h, m, err := ParseTimeOfDay("17:05")
	require.NoError(t, err)
	assert.Equal(t, 17, h)
	assert.Equal(t, 5, m)

	_, _, err = ParseTimeOfDay("25:00")
	assert.Error(t, err)
	_, _, err = ParseTimeOfDay("5pm")
	assert.Error(t, err)
}

func TestUTCCronSpec_DSTShift(t *testing.T) {
	// US Eastern switches to daylight time on 2026-03-08. The same wall
	// clock grid time must land on different UTC hours either side of it.
	ny := mustLoc(t, "America/New_York")

	beforeDST := time.Date(2026, 3, 7, 0, 0, 0, 0, ny)
	spec, err := UTCCronSpec(beforeDST, "17:05", ny)
	require.NoError(t, err)
	assert.Equal(t, "5 22 * * *", spec, "EST is UTC-5")

	afterDST := time.Date(2026, 3, 9, 0, 0, 0, 0, ny)
	spec, err = UTCCronSpec(afterDST, "17:05", ny)
	require.NoError(t, err)
	assert.Equal(t, "5 21 * * *", spec, "EDT is UTC-4")
}

func TestUTCCronSpec_WindowCrossingUTCMidnight(t *testing.T) {
	ny := mustLoc(t, "America/New_York")
	date := time.Date(2026, 1, 15, 0, 0, 0, 0, ny)

	// 20:30 EST is 01:30 UTC the next day; the daily spec only carries the
	// time of day, so it still renders cleanly.
	spec, err := UTCCronSpec(date, "20:30", ny)
	require.NoError(t, err)
	assert.Equal(t, "30 1 * * *", spec)
}

func TestOffsetCronSpec(t *testing.T) {
	ny := mustLoc(t, "America/New_York")
	date := time.Date(2026, 1, 15, 0, 0, 0, 0, ny)

	// Two minutes after a 17:50 EST block end: 22:52 UTC.
	spec, err := OffsetCronSpec(date, "17:50", ny, 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "52 22 * * *", spec)
}

func TestScheduler_FiresDueTrigger(t *testing.T) {
	var fired atomic.Int32
	build := func(_ time.Time) ([]Trigger, error) {
		return []Trigger{{
			Name: "capture-a",
			Spec: "5 22 * * *",
			Job: func(_ context.Context) error {
				fired.Add(1)
				return nil
			},
		}}, nil
	}

	s := NewScheduler(time.UTC, build, WithLogger(slog.New(slog.DiscardHandler)))
	now := time.Date(2026, 1, 15, 22, 0, 0, 0, time.UTC)
	require.NoError(t, s.Configure(now))

	// Before the firing time: nothing happens.
	s.tick(context.Background(), now.Add(time.Minute))
	s.Wait()
	assert.Equal(t, int32(0), fired.Load())

	// Poll lands after 22:05: the trigger fires once.
	s.tick(context.Background(), now.Add(6*time.Minute))
	s.Wait()
	assert.Equal(t, int32(1), fired.Load())

	// Next poll: already rescheduled for tomorrow, no double fire.
	s.tick(context.Background(), now.Add(7*time.Minute))
	s.Wait()
	assert.Equal(t, int32(1), fired.Load())
}

func TestScheduler_Configure_SkipsPastFirings(t *testing.T) {
	var fired atomic.Int32
	build := func(_ time.Time) ([]Trigger, error) {
		return []Trigger{{
			Name: "capture-a",
			Spec: "0 10 * * *",
			Job:  func(_ context.Context) error { fired.Add(1); return nil },
		}}, nil
	}

	s := NewScheduler(time.UTC, build, WithLogger(slog.New(slog.DiscardHandler)))
	// Configured at noon: today's 10:00 has passed and must not fire now.
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Configure(now))

	s.tick(context.Background(), now.Add(time.Minute))
	s.Wait()
	assert.Equal(t, int32(0), fired.Load())

	// It fires at 10:00 the next day.
	s.tick(context.Background(), time.Date(2026, 1, 16, 10, 0, 30, 0, time.UTC))
	s.Wait()
	assert.Equal(t, int32(1), fired.Load())
}

func TestScheduler_DayRollover_Rederives(t *testing.T) {
	var derivations atomic.Int32
	build := func(_ time.Time) ([]Trigger, error) {
		derivations.Add(1)
		return nil, nil
	}

	s := NewScheduler(time.UTC, build, WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, s.Configure(time.Date(2026, 1, 15, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, int32(1), derivations.Load())

	// Same date: no re-derivation.
	s.tick(context.Background(), time.Date(2026, 1, 15, 23, 30, 0, 0, time.UTC))
	assert.Equal(t, int32(1), derivations.Load())

	// Past midnight: the trigger set is rebuilt for the new date.
	s.tick(context.Background(), time.Date(2026, 1, 16, 0, 0, 30, 0, time.UTC))
	assert.Equal(t, int32(2), derivations.Load())
}

func TestScheduler_PanickingJobContained(t *testing.T) {
	var after atomic.Bool
	build := func(_ time.Time) ([]Trigger, error) {
		return []Trigger{
			{Name: "boom", Spec: "0 10 * * *", Job: func(_ context.Context) error { panic("job panic") }},
			{Name: "ok", Spec: "0 10 * * *", Job: func(_ context.Context) error { after.Store(true); return nil }},
		}, nil
	}

	s := NewScheduler(time.UTC, build, WithLogger(slog.New(slog.DiscardHandler)))
	now := time.Date(2026, 1, 15, 9, 59, 0, 0, time.UTC)
	require.NoError(t, s.Configure(now))

	s.tick(context.Background(), now.Add(2*time.Minute))
	s.Wait()
	assert.True(t, after.Load(), "a panicking trigger must not stop the others")
}
