package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerRecordAndSuspend(t *testing.T) {
	b := NewBroker()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	assert.False(t, b.IsSuspended("acc1", now))

	until, notify := b.Record("acc1", 600, now)
	assert.Equal(t, now.Add(10*time.Minute), until)
	assert.True(t, notify)

	assert.True(t, b.IsSuspended("acc1", now))
	assert.True(t, b.IsSuspended("acc1", now.Add(9*time.Minute)))
	assert.False(t, b.IsSuspended("acc1", now.Add(10*time.Minute)))
	assert.False(t, b.IsSuspended("other", now))
}

func TestBrokerWindowNeverMovesBackwards(t *testing.T) {
	b := NewBroker()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	first, _ := b.Record("acc1", 600, now)
	// A shorter wait reported later must not shrink the window.
	second, notify := b.Record("acc1", 60, now.Add(time.Minute))
	assert.Equal(t, first, second)
	assert.False(t, notify)

	third, notify := b.Record("acc1", 3600, now.Add(2*time.Minute))
	assert.True(t, third.After(first))
	assert.True(t, notify)
}

func TestBrokerNotifiesOncePerWindow(t *testing.T) {
	b := NewBroker()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	_, notify := b.Record("acc1", 600, now)
	require.True(t, notify)
	_, notify = b.Record("acc1", 600, now)
	assert.False(t, notify)

	// After the window elapses a new suspension notifies again.
	later := now.Add(time.Hour)
	_, notify = b.Record("acc1", 600, later)
	assert.True(t, notify)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0м", FormatDuration(0))
	assert.Equal(t, "0м", FormatDuration(30*time.Second))
	assert.Equal(t, "10м", FormatDuration(10*time.Minute))
	assert.Equal(t, "1ч", FormatDuration(time.Hour))
	assert.Equal(t, "1ч 1м", FormatDuration(61*time.Minute))
	assert.Equal(t, "1д 1ч", FormatDuration(25*time.Hour))
	assert.Equal(t, "1д 2ч 5м", FormatDuration(26*time.Hour+5*time.Minute))
	assert.Equal(t, "0м", FormatDuration(-time.Minute))
}
