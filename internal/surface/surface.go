// Package surface reads the watched chat page: which listen and
// secondary-state controls are rendered, whether a response is still being
// generated, and where the page currently is. It also presses a control by
// its stable identifier.
package surface

import (
	"context"
	"errors"
)

// ControlID identifies one element for the lifetime of its document.
type ControlID string

// Kind classifies a control found in a snapshot.
type Kind string

const (
	// KindListen is the actionable "Listen" control under a response.
	KindListen Kind = "listen"
	// KindSecondary is a control that only exists while playback is active.
	KindSecondary Kind = "secondary"
)

// ErrControlGone is returned by Press when the element no longer exists.
var ErrControlGone = errors.New("control no longer attached")

// Control is one visible control, in document order.
type Control struct {
	ID    ControlID `json:"id"`
	Kind  Kind      `json:"kind"`
	Label string    `json:"label"`
}

// Snapshot is a fresh reading of the surface. Only visible controls are listed.
type Snapshot struct {
	Controls   []Control `json:"controls"`
	Generating bool      `json:"generating"`
	Playing    bool      `json:"playing"`
	Foreground bool      `json:"foreground"`
	Identity   string    `json:"identity"`
}

// Count is the combined number of visible listen and secondary controls.
func (s Snapshot) Count() int {
	return len(s.Controls)
}

// Listen returns the visible listen controls in document order.
func (s Snapshot) Listen() []Control {
	out := make([]Control, 0, len(s.Controls))
	for _, c := range s.Controls {
		if c.Kind == KindListen {
			out = append(out, c)
		}
	}
	return out
}

// HasSecondary reports whether any secondary-state control is visible.
func (s Snapshot) HasSecondary() bool {
	for _, c := range s.Controls {
		if c.Kind == KindSecondary {
			return true
		}
	}
	return false
}

// Inspection is the current state of one previously seen control.
type Inspection struct {
	Exists  bool   `json:"exists"`
	Visible bool   `json:"visible"`
	Label   string `json:"label"`
}

// Surface is everything the watcher needs from the page.
type Surface interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	Identity(ctx context.Context) (string, error)
	Inspect(ctx context.Context, id ControlID) (Inspection, error)
	Press(ctx context.Context, id ControlID) error
}

// Labels is the lookup table used to classify controls.
type Labels struct {
	Listen        []string `json:"listen"`
	Secondary     []string `json:"secondary"`
	StopSelectors []string `json:"stop"`
}
