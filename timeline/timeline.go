// Package timeline declares the active timeline boundary the marker subsystem
// consults. The timeline itself (commit files, archival, state transitions)
// is owned by the host engine; this package only carries the queries early
// conflict detection needs, plus an in-memory implementation for embedding
// and tests.
package timeline

import "sync"

// ActiveTimeline is the ordered record of in-progress and completed write
// instants of one table.
type ActiveTimeline interface {
	// ContainsInstant reports whether the instant is part of the active
	// timeline (pending or completed, not yet archived).
	ContainsInstant(instant string) bool
	// PendingCompactionInstants returns the instants of pending compaction
	// operations. Compactions are table-service instants exempt from early
	// conflict detection.
	PendingCompactionInstants() []string
	// PendingReplaceInstants returns the instants of pending replace
	// (clustering) operations, also table-service instants.
	PendingReplaceInstants() []string
}

// InMemory is a mutable ActiveTimeline for embedded engines and tests.
// Safe for concurrent use.
type InMemory struct {
	mu                sync.RWMutex
	instants          map[string]bool
	pendingCompaction map[string]bool
	pendingReplace    map[string]bool
}

// NewInMemory creates an empty in-memory timeline.
func NewInMemory() *InMemory {
	return &InMemory{
		instants:          make(map[string]bool),
		pendingCompaction: make(map[string]bool),
		pendingReplace:    make(map[string]bool),
	}
}

// AddInstant records a write instant on the timeline.
func (t *InMemory) AddInstant(instant string) {
	t.mu.Lock()
	t.instants[instant] = true
	t.mu.Unlock()
}

// AddPendingCompaction records a pending compaction instant.
func (t *InMemory) AddPendingCompaction(instant string) {
	t.mu.Lock()
	t.instants[instant] = true
	t.pendingCompaction[instant] = true
	t.mu.Unlock()
}

// AddPendingReplace records a pending replace (clustering) instant.
func (t *InMemory) AddPendingReplace(instant string) {
	t.mu.Lock()
	t.instants[instant] = true
	t.pendingReplace[instant] = true
	t.mu.Unlock()
}

// RemoveInstant drops an instant, e.g. on archival.
func (t *InMemory) RemoveInstant(instant string) {
	t.mu.Lock()
	delete(t.instants, instant)
	delete(t.pendingCompaction, instant)
	delete(t.pendingReplace, instant)
	t.mu.Unlock()
}

func (t *InMemory) ContainsInstant(instant string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.instants[instant]
}

func (t *InMemory) PendingCompactionInstants() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return keys(t.pendingCompaction)
}

func (t *InMemory) PendingReplaceInstants() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return keys(t.pendingReplace)
}

// IsTableService reports whether the instant is a pending compaction or
// replace instant on tl.
func IsTableService(tl ActiveTimeline, instant string) bool {
	for _, i := range tl.PendingCompactionInstants() {
		if i == instant {
			return true
		}
	}
	for _, i := range tl.PendingReplaceInstants() {
		if i == instant {
			return true
		}
	}
	return false
}

func keys(m map[string]bool) []string {
	r := make([]string, 0, len(m))
	for k := range m {
		r = append(r, k)
	}
	return r
}
