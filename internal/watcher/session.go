package watcher

import "time"

// IdentityChanged reports whether identity differs from the tracked surface.
// An unknown identity on either side is not a change.
func (s *TrackingState) IdentityChanged(identity string) bool {
	return s.SurfaceIdentity != "" && identity != "" && identity != s.SurfaceIdentity
}

// Reset clears all transient tracking after navigation. Processed marks
// belong to the old surface and are dropped with it; the next snapshot
// re-initializes the counts.
func (s *TrackingState) Reset(identity string, now time.Time) {
	s.LastStableCount = 0
	s.CurrentCount = 0
	s.CountChangedAt = now
	s.IsGenerating = false
	s.IsProcessing = false
	s.PlaybackActive = false
	s.SurfaceIdentity = identity
	s.Initialized = false
	s.Processed.Clear(now)
}
