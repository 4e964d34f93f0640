package watcher

import (
	"time"

	"autolisten/internal/config"
)

// Action is what the decision engine wants done with the baseline.
type Action int

const (
	// ActionNone leaves everything as is.
	ActionNone Action = iota
	// ActionTrigger rebases and starts the executor.
	ActionTrigger
	// ActionRebase accepts a lower count.
	ActionRebase
	// ActionRebaseJump accepts a jump too large to be one new response.
	ActionRebaseJump
	// ActionRebasePlayback accepts an increase seen while audio is already
	// playing. The pause control that appears counts, but is not a response.
	ActionRebasePlayback
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionTrigger:
		return "trigger"
	case ActionRebase:
		return "rebase"
	case ActionRebaseJump:
		return "large_jump"
	case ActionRebasePlayback:
		return "playback_active"
	default:
		return "unknown"
	}
}

// Decision is the outcome of one Decide call.
type Decision struct {
	Action   Action
	Increase int
}

// Decide compares count with the baseline. It is pure: callers apply the
// rebase and run the caller-side guards.
func Decide(s TrackingState, count int, now time.Time, t config.Timings) Decision {
	if count == s.LastStableCount {
		return Decision{}
	}

	stable := s.StableFor(now) >= t.StableDuration
	grace := s.InGrace(now, t.GracePeriod)

	if count > s.LastStableCount {
		if !stable || s.IsGenerating || s.IsProcessing || grace {
			return Decision{}
		}
		increase := count - s.LastStableCount
		if s.PlaybackActive {
			return Decision{Action: ActionRebasePlayback, Increase: increase}
		}
		if increase <= t.MaxIncrease {
			return Decision{Action: ActionTrigger, Increase: increase}
		}
		return Decision{Action: ActionRebaseJump, Increase: increase}
	}

	if !stable || s.IsProcessing || grace {
		return Decision{}
	}
	return Decision{Action: ActionRebase, Increase: count - s.LastStableCount}
}
