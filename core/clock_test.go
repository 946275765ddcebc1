package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	t.Parallel()

	d, err := ParseDate("2026-03-15")
	require.NoError(t, err)
	assert.Equal(t, 2026, d.Year())
	assert.Equal(t, time.March, d.Month())
	assert.Equal(t, 15, d.Day())
	assert.Equal(t, time.UTC, d.Location())

	_, err = ParseDate("15.03.2026")
	assert.Error(t, err)

	_, err = ParseDate("2026-3-15")
	assert.Error(t, err)
}

func TestTodayInNormalizesToMidnightUTC(t *testing.T) {
	t.Parallel()

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// 23:30 UTC on March 14 is already March 15 in Tokyo.
	clock := NewFakeClock(time.Date(2026, 3, 14, 23, 30, 0, 0, time.UTC))

	today := TodayIn(clock, tokyo)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), today)

	todayUTC := TodayIn(clock, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), todayUTC)
}

func TestDateBefore(t *testing.T) {
	t.Parallel()

	today := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	assert.True(t, DateBefore("2026-03-14", today))
	assert.False(t, DateBefore("2026-03-15", today), "same day is not before")
	assert.False(t, DateBefore("2026-03-16", today))

	// Empty and malformed dates never expire a job.
	assert.False(t, DateBefore("", today))
	assert.False(t, DateBefore("never", today))
}

func TestFakeClockAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)

	assert.Equal(t, start, clock.Now())

	clock.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), clock.Now())

	clock.Set(start.Add(time.Hour))
	assert.Equal(t, start.Add(time.Hour), clock.Now())
}

func TestFakeClockTicker(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)

	ticker := clock.NewTicker(time.Minute)
	assert.Equal(t, 1, clock.TickerCount())

	clock.Advance(time.Minute)
	select {
	case tick := <-ticker.C():
		assert.Equal(t, start.Add(time.Minute), tick)
	default:
		t.Fatal("expected a tick after advancing by the ticker period")
	}

	// No tick before the next period elapses.
	clock.Advance(30 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("unexpected tick")
	default:
	}

	ticker.Stop()
	assert.Equal(t, 0, clock.TickerCount())

	clock.Advance(time.Hour)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker must not fire")
	default:
	}
}

func TestFakeClockAfter(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)

	ch := clock.After(10 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before the deadline")
	default:
	}

	clock.Advance(10 * time.Second)
	select {
	case at := <-ch:
		assert.Equal(t, start.Add(10*time.Second), at)
	default:
		t.Fatal("After did not fire at the deadline")
	}

	// Non-positive durations fire immediately.
	select {
	case <-clock.After(0):
	default:
		t.Fatal("After(0) must fire immediately")
	}
}

func TestFakeClockWaitForAdvance(t *testing.T) {
	t.Parallel()

	clock := NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	done := make(chan struct{})
	go func() {
		clock.WaitForAdvance()
		close(done)
	}()

	clock.Advance(time.Second)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForAdvance did not observe the advance")
	}
}

func TestDefaultClock(t *testing.T) {
	orig := GetDefaultClock()
	defer SetDefaultClock(orig)

	fake := NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	SetDefaultClock(fake)
	assert.Equal(t, Clock(fake), GetDefaultClock())

	real := NewRealClock()
	before := time.Now()
	now := real.Now()
	assert.False(t, now.Before(before))
}
