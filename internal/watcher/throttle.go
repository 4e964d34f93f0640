package watcher

import (
	"sync"
	"time"
)

// eventThrottler drops notifications of the same kind arriving faster than interval.
type eventThrottler struct {
	interval time.Duration
	now      func() time.Time
	mu       sync.Mutex
	last     map[string]time.Time
}

func newEventThrottler(interval time.Duration, now func() time.Time) *eventThrottler {
	if interval <= 0 {
		return nil
	}
	return &eventThrottler{
		interval: interval,
		now:      now,
		last:     make(map[string]time.Time),
	}
}

func (t *eventThrottler) Allow(key string) bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if last, ok := t.last[key]; ok {
		if now.Sub(last) < t.interval {
			return false
		}
	}
	t.last[key] = now
	return true
}
