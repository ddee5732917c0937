package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActivityWindows(t *testing.T) {
	windows, err := ParseActivityWindows(`[["09:00","18:30"],["22:00","02:00"]]`)
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, 9*60, windows[0].Start)
	assert.Equal(t, 18*60+30, windows[0].End)
	assert.Equal(t, 22*60, windows[1].Start)
	assert.Equal(t, 2*60, windows[1].End)

	windows, err = ParseActivityWindows("")
	require.NoError(t, err)
	assert.Nil(t, windows)

	_, err = ParseActivityWindows(`[["09:00"]]`)
	assert.Error(t, err)
	_, err = ParseActivityWindows(`[["09:00","25:00"]]`)
	assert.Error(t, err)
	_, err = ParseActivityWindows(`not json`)
	assert.Error(t, err)
}

func TestWithinWindows(t *testing.T) {
	windows, err := ParseActivityWindows(`[["09:00","18:00"]]`)
	require.NoError(t, err)

	at := func(h, m int) time.Time { return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC) }
	assert.True(t, WithinWindows(at(9, 0), windows))
	assert.True(t, WithinWindows(at(17, 59), windows))
	assert.False(t, WithinWindows(at(18, 0), windows))
	assert.False(t, WithinWindows(at(8, 59), windows))

	// No windows means always active.
	assert.True(t, WithinWindows(at(3, 0), nil))
}

func TestWithinWindowsWrapsMidnight(t *testing.T) {
	windows, err := ParseActivityWindows(`[["22:00","02:00"]]`)
	require.NoError(t, err)

	yekt := time.FixedZone("YEKT", 5*3600)
	local := func(h, m int) time.Time { return time.Date(2026, 3, 2, h, m, 0, 0, yekt) }

	assert.True(t, WithinWindows(local(23, 30), windows))
	assert.True(t, WithinWindows(local(1, 30), windows))
	assert.False(t, WithinWindows(local(3, 0), windows))
	assert.False(t, WithinWindows(local(21, 59), windows))
}

func TestWindowsForWeekend(t *testing.T) {
	monday := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	saturday := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)

	raw, weekend := windowsFor(monday, "weekday", "weekend")
	assert.Equal(t, "weekday", raw)
	assert.False(t, weekend)

	raw, weekend = windowsFor(saturday, "weekday", "weekend")
	assert.Equal(t, "weekend", raw)
	assert.True(t, weekend)
}

func TestScaleMinutes(t *testing.T) {
	// 50% keeps the interval, 100% halves it, 0% stretches by half.
	assert.Equal(t, 90, scaleMinutes(90, 50, 5))
	assert.Equal(t, 45, scaleMinutes(90, 100, 5))
	assert.Equal(t, 135, scaleMinutes(90, 0, 5))
	// Never below the floor.
	assert.Equal(t, 5, scaleMinutes(2, 100, 5))
}

func TestActivityFactor(t *testing.T) {
	assert.InDelta(t, 0.5, activityFactor(0), 1e-9)
	assert.InDelta(t, 1.0, activityFactor(50), 1e-9)
	assert.InDelta(t, 1.5, activityFactor(100), 1e-9)
}
