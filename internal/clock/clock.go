// Package clock provides the time and randomness seams for the scheduler.
// All delay, jitter, and weighted-pick decisions go through these interfaces
// so tests can run deterministically.
package clock

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Clock abstracts wall time and sleeping.
type Clock interface {
	// NowUTC returns the current time in UTC.
	NowUTC() time.Time
	// NowIn returns the current time in the given location.
	NowIn(loc *time.Location) time.Time
	// Sleep blocks for d or until ctx is cancelled.
	Sleep(ctx context.Context, d time.Duration) error
}

// Rand abstracts the randomness used for jitter, pick weights, and shuffles.
type Rand interface {
	// IntBetween returns a uniform integer in [lo, hi]. lo > hi panics.
	IntBetween(lo, hi int) int
	// Float returns a uniform float64 in [0, 1).
	Float() float64
	// DurationBetween returns a uniform duration in [lo, hi].
	DurationBetween(lo, hi time.Duration) time.Duration
	// Shuffle randomizes the order of n elements via swap.
	Shuffle(n int, swap func(i, j int))
}

type realClock struct{}

// New returns a Clock backed by the system clock.
func New() Clock { return realClock{} }

func (realClock) NowUTC() time.Time { return time.Now().UTC() }

func (realClock) NowIn(loc *time.Location) time.Time { return time.Now().In(loc) }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a Rand seeded from the current time.
func NewRand() Rand {
	return &lockedRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// NewSeededRand returns a deterministic Rand for tests.
func NewSeededRand(seed int64) Rand {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) IntBetween(lo, hi int) int {
	if lo > hi {
		panic(errors.Errorf("clock: IntBetween lo %d > hi %d", lo, hi))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return lo + l.r.Intn(hi-lo+1)
}

func (l *lockedRand) Float() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) DurationBetween(lo, hi time.Duration) time.Duration {
	if lo >= hi {
		return lo
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return lo + time.Duration(l.r.Int63n(int64(hi-lo)+1))
}

func (l *lockedRand) Shuffle(n int, swap func(i, j int)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.r.Shuffle(n, swap)
}

// WeightedPick selects one index from weights proportionally. Zero and
// negative weights are never selected. Returns -1 when nothing is pickable.
func WeightedPick(r Rand, weights []float64) int {
	var total float64
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return -1
	}
	x := r.Float() * total
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		if x < w {
			return i
		}
		x -= w
	}
	// Float rounding can leave a sliver; fall back to the last pickable.
	for i := len(weights) - 1; i >= 0; i-- {
		if weights[i] > 0 {
			return i
		}
	}
	return -1
}

// WeightedPickInt selects one of values by the matching integer weight.
func WeightedPickInt(r Rand, values, weights []int) int {
	fw := make([]float64, len(weights))
	for i, w := range weights {
		fw[i] = float64(w)
	}
	idx := WeightedPick(r, fw)
	if idx < 0 {
		return values[0]
	}
	return values[idx]
}
