package watcher

import (
	"sync"
	"time"

	"autolisten/internal/surface"
)

// ProcessedRegistry remembers the controls already acted on for the current
// surface identity. Clear starts a new generation on navigation.
type ProcessedRegistry struct {
	mu          sync.RWMutex
	marked      map[surface.ControlID]time.Time
	generation  int
	lastCleared time.Time
}

// NewProcessedRegistry creates an empty registry.
func NewProcessedRegistry() *ProcessedRegistry {
	return &ProcessedRegistry{
		marked:      make(map[surface.ControlID]time.Time),
		lastCleared: time.Now(),
	}
}

// Mark records id as processed. Marks are never removed within a generation.
func (r *ProcessedRegistry) Mark(id surface.ControlID, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.marked[id]; !ok {
		r.marked[id] = at
	}
}

// Has reports whether id was processed in this generation.
func (r *ProcessedRegistry) Has(id surface.ControlID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.marked[id]
	return ok
}

// Clear forgets every mark and increments the generation.
func (r *ProcessedRegistry) Clear(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marked = make(map[surface.ControlID]time.Time)
	r.generation++
	r.lastCleared = at
}

// Generation identifies the current surface lifetime.
func (r *ProcessedRegistry) Generation() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Count returns the number of processed controls.
func (r *ProcessedRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.marked)
}

// LastCleared is when the current generation began.
func (r *ProcessedRegistry) LastCleared() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastCleared
}
