package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntBetweenBounds(t *testing.T) {
	r := NewSeededRand(1)
	for i := 0; i < 1000; i++ {
		v := r.IntBetween(5, 15)
		require.GreaterOrEqual(t, v, 5)
		require.LessOrEqual(t, v, 15)
	}
	assert.Equal(t, 7, r.IntBetween(7, 7))
}

func TestDurationBetween(t *testing.T) {
	r := NewSeededRand(2)
	for i := 0; i < 1000; i++ {
		d := r.DurationBetween(time.Second, 3*time.Second)
		require.GreaterOrEqual(t, d, time.Second)
		require.LessOrEqual(t, d, 3*time.Second)
	}
	assert.Equal(t, time.Minute, r.DurationBetween(time.Minute, time.Minute))
}

func TestWeightedPickSkipsZeroWeights(t *testing.T) {
	r := NewSeededRand(3)
	weights := []float64{0, 2.5, 0, 1.0}
	counts := map[int]int{}
	for i := 0; i < 2000; i++ {
		idx := WeightedPick(r, weights)
		counts[idx]++
	}
	assert.Zero(t, counts[0])
	assert.Zero(t, counts[2])
	assert.Greater(t, counts[1], counts[3])
}

func TestWeightedPickAllZero(t *testing.T) {
	r := NewSeededRand(4)
	assert.Equal(t, -1, WeightedPick(r, []float64{0, 0}))
	assert.Equal(t, -1, WeightedPick(r, nil))
}

func TestWeightedPickIntDistribution(t *testing.T) {
	r := NewSeededRand(5)
	counts := map[int]int{}
	for i := 0; i < 5000; i++ {
		counts[WeightedPickInt(r, []int{1, 2, 3}, []int{60, 30, 10})]++
	}
	assert.Greater(t, counts[1], counts[2])
	assert.Greater(t, counts[2], counts[3])
	assert.Greater(t, counts[3], 0)
}

func TestSleepCancel(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleepZero(t *testing.T) {
	c := New()
	require.NoError(t, c.Sleep(context.Background(), 0))
}
