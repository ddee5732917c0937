package scheduler

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Broker tracks per-account flood-wait suspension windows. Suspensions are
// in-memory only; a restart clears them and the platform re-imposes the
// wait if it is still active.
type Broker struct {
	mu       sync.Mutex
	until    map[string]time.Time
	notified map[string]time.Time
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		until:    map[string]time.Time{},
		notified: map[string]time.Time{},
	}
}

// IsSuspended reports whether the account is inside a flood-wait window.
func (b *Broker) IsSuspended(account string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Before(b.until[account])
}

// SuspendedUntil returns the end of the account's window, zero when none.
func (b *Broker) SuspendedUntil(account string) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.until[account]
}

// Record extends the account's suspension window. The window never moves
// backwards. The second return value is true exactly once per resulting
// until timestamp, so the owner is notified one time per window.
func (b *Broker) Record(account string, seconds int, now time.Time) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	candidate := now.Add(time.Duration(seconds) * time.Second)
	until := b.until[account]
	if candidate.After(until) {
		until = candidate
		b.until[account] = until
	}
	if b.notified[account].Equal(until) {
		return until, false
	}
	b.notified[account] = until
	return until, true
}

// FormatDuration renders a wait as Russian day/hour/minute parts, e.g.
// "1д 2ч 5м". Sub-minute waits render as "0м".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Minutes())
	days := total / (24 * 60)
	hours := total % (24 * 60) / 60
	minutes := total % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dд", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dч", hours))
	}
	if minutes > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%dм", minutes))
	}
	return strings.Join(parts, " ")
}
