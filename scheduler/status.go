package scheduler

import (
	"sync"
	"time"
)

// StatusCategory separates the two phases a discussion pipeline runs.
type StatusCategory string

const (
	CategoryPipeline1 StatusCategory = "pipeline1"
	CategoryPipeline2 StatusCategory = "pipeline2"
)

// StatusEntry is the last-known state of one (pipeline, category).
type StatusEntry struct {
	PipelineID int64
	Category   StatusCategory
	State      string
	Progress   string
	NextAt     *time.Time
	Message    string
	UpdatedAt  time.Time
}

// Board is the in-memory status snapshot read by the control surface.
// Entries never expire; they are overwritten by the next update.
type Board struct {
	mu      sync.Mutex
	entries map[boardKey]StatusEntry
}

type boardKey struct {
	pipelineID int64
	category   StatusCategory
}

// NewBoard creates an empty status board.
func NewBoard() *Board {
	return &Board{entries: map[boardKey]StatusEntry{}}
}

// Set records the state of one (pipeline, category).
func (b *Board) Set(entry StatusEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	b.entries[boardKey{entry.PipelineID, entry.Category}] = entry
}

// Get returns the entry for one (pipeline, category).
func (b *Board) Get(pipelineID int64, category StatusCategory) (StatusEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[boardKey{pipelineID, category}]
	return e, ok
}

// List returns a snapshot of all entries.
func (b *Board) List() []StatusEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]StatusEntry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	return out
}
