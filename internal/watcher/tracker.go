package watcher

import (
	"time"

	"autolisten/internal/surface"
)

// TrackingState is owned by the watcher loop. Nothing else mutates it.
type TrackingState struct {
	LastStableCount   int
	CurrentCount      int
	CountChangedAt    time.Time
	IsGenerating      bool
	IsProcessing      bool
	ProcessingEndedAt time.Time
	SurfaceIdentity   string
	Initialized       bool
	// PlaybackActive is set while a secondary-state control is visible or
	// media is playing. It suppresses triggering like IsGenerating.
	PlaybackActive bool

	Processed *ProcessedRegistry
}

// NewTrackingState returns an uninitialized state.
func NewTrackingState() *TrackingState {
	return &TrackingState{Processed: NewProcessedRegistry()}
}

// Observation is what one tracker update noticed.
type Observation struct {
	Count             int
	Previous          int
	Initialized       bool
	CountChanged      bool
	GeneratingChanged bool
	PlaybackChanged   bool
}

// Observe folds a fresh snapshot into the state. The first snapshot after
// startup or a reset sets both counts without reporting a change.
func (s *TrackingState) Observe(snap surface.Snapshot, now time.Time) Observation {
	count := snap.Count()
	obs := Observation{Count: count, Previous: s.CurrentCount}

	if !s.Initialized {
		s.LastStableCount = count
		s.CurrentCount = count
		s.CountChangedAt = now
		s.IsGenerating = snap.Generating
		s.PlaybackActive = playbackActive(snap)
		s.Initialized = true
		if s.SurfaceIdentity == "" {
			s.SurfaceIdentity = snap.Identity
		}
		obs.Initialized = true
		return obs
	}

	if count != s.CurrentCount {
		s.CurrentCount = count
		s.CountChangedAt = now
		obs.CountChanged = true
	}
	if snap.Generating != s.IsGenerating {
		s.IsGenerating = snap.Generating
		obs.GeneratingChanged = true
	}
	if active := playbackActive(snap); active != s.PlaybackActive {
		s.PlaybackActive = active
		obs.PlaybackChanged = true
	}
	return obs
}

func playbackActive(snap surface.Snapshot) bool {
	return snap.Playing || snap.HasSecondary()
}

// StableFor is how long the current count has held.
func (s *TrackingState) StableFor(now time.Time) time.Duration {
	return now.Sub(s.CountChangedAt)
}

// InGrace reports whether an action ended less than grace ago.
func (s *TrackingState) InGrace(now time.Time, grace time.Duration) bool {
	if s.ProcessingEndedAt.IsZero() {
		return false
	}
	return now.Sub(s.ProcessingEndedAt) < grace
}

// Rebase accepts count as the new baseline.
func (s *TrackingState) Rebase(count int) {
	s.LastStableCount = count
}

// StateView is a copy of TrackingState safe to hand outside the loop.
type StateView struct {
	LastStableCount   int       `json:"lastStableCount"`
	CurrentCount      int       `json:"currentCount"`
	CountChangedAt    time.Time `json:"countChangedAt"`
	IsGenerating      bool      `json:"isGenerating"`
	IsProcessing      bool      `json:"isProcessing"`
	ProcessingEndedAt time.Time `json:"processingEndedAt"`
	SurfaceIdentity   string    `json:"surfaceIdentity"`
	Initialized       bool      `json:"initialized"`
	PlaybackActive    bool      `json:"playbackActive"`
	ProcessedCount    int       `json:"processedCount"`
	Generation        int       `json:"generation"`
}

// View copies the state.
func (s *TrackingState) View() StateView {
	return StateView{
		LastStableCount:   s.LastStableCount,
		CurrentCount:      s.CurrentCount,
		CountChangedAt:    s.CountChangedAt,
		IsGenerating:      s.IsGenerating,
		IsProcessing:      s.IsProcessing,
		ProcessingEndedAt: s.ProcessingEndedAt,
		SurfaceIdentity:   s.SurfaceIdentity,
		Initialized:       s.Initialized,
		PlaybackActive:    s.PlaybackActive,
		ProcessedCount:    s.Processed.Count(),
		Generation:        s.Processed.Generation(),
	}
}
