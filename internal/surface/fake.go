package surface

import (
	"context"
	"fmt"
	"sync"
)

// Fake is a scripted in-memory Surface for tests.
type Fake struct {
	mu          sync.Mutex
	seq         int
	controls    []*fakeControl
	generating  bool
	playing     bool
	foreground  bool
	identity    string
	presses     []ControlID
	snapshots   int
	snapshotErr error
	onPress     func(f *Fake, id ControlID)
}

type fakeControl struct {
	id      ControlID
	kind    Kind
	label   string
	visible bool
}

// NewFake returns a foreground surface at identity with no controls.
func NewFake(identity string) *Fake {
	return &Fake{identity: identity, foreground: true}
}

func (f *Fake) add(kind Kind, label string) ControlID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := ControlID(fmt.Sprintf("fake:%d", f.seq))
	f.controls = append(f.controls, &fakeControl{id: id, kind: kind, label: label, visible: true})
	return id
}

// AddListen appends a visible listen control.
func (f *Fake) AddListen(label string) ControlID {
	return f.add(KindListen, label)
}

// AddSecondary appends a visible secondary-state control.
func (f *Fake) AddSecondary(label string) ControlID {
	return f.add(KindSecondary, label)
}

// SetListenCount adds or removes trailing listen controls until exactly n are present.
func (f *Fake) SetListenCount(n int) {
	for {
		f.mu.Lock()
		count := 0
		last := -1
		for i, c := range f.controls {
			if c.kind == KindListen {
				count++
				last = i
			}
		}
		if count == n {
			f.mu.Unlock()
			return
		}
		if count > n {
			f.controls = append(f.controls[:last], f.controls[last+1:]...)
			f.mu.Unlock()
			continue
		}
		f.mu.Unlock()
		f.AddListen("Listen")
	}
}

func (f *Fake) find(id ControlID) (*fakeControl, int) {
	for i, c := range f.controls {
		if c.id == id {
			return c, i
		}
	}
	return nil, -1
}

// SetLabel changes a control's label.
func (f *Fake) SetLabel(id ControlID, label string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, _ := f.find(id); c != nil {
		c.label = label
	}
}

// SetVisible shows or hides a control without detaching it.
func (f *Fake) SetVisible(id ControlID, visible bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, _ := f.find(id); c != nil {
		c.visible = visible
	}
}

// Remove detaches a control.
func (f *Fake) Remove(id ControlID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, i := f.find(id); i >= 0 {
		f.controls = append(f.controls[:i], f.controls[i+1:]...)
	}
}

// SetGenerating toggles the stop-generation signal.
func (f *Fake) SetGenerating(v bool) {
	f.mu.Lock()
	f.generating = v
	f.mu.Unlock()
}

// SetPlaying toggles the media playback signal.
func (f *Fake) SetPlaying(v bool) {
	f.mu.Lock()
	f.playing = v
	f.mu.Unlock()
}

// SetForeground toggles document visibility.
func (f *Fake) SetForeground(v bool) {
	f.mu.Lock()
	f.foreground = v
	f.mu.Unlock()
}

// Navigate switches identity and drops every control of the old document.
func (f *Fake) Navigate(identity string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identity = identity
	f.controls = nil
	f.generating = false
	f.playing = false
}

// OnPress installs a reaction run after each press, outside the lock.
func (f *Fake) OnPress(fn func(f *Fake, id ControlID)) {
	f.mu.Lock()
	f.onPress = fn
	f.mu.Unlock()
}

// FailSnapshots makes Snapshot return err until called again with nil.
func (f *Fake) FailSnapshots(err error) {
	f.mu.Lock()
	f.snapshotErr = err
	f.mu.Unlock()
}

// Presses lists every pressed id in order.
func (f *Fake) Presses() []ControlID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ControlID(nil), f.presses...)
}

// SnapshotCalls counts Snapshot invocations, failed ones included.
func (f *Fake) SnapshotCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots
}

// Snapshot implements Surface.
func (f *Fake) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots++
	if f.snapshotErr != nil {
		return Snapshot{}, f.snapshotErr
	}
	snap := Snapshot{
		Controls:   []Control{},
		Generating: f.generating,
		Playing:    f.playing,
		Foreground: f.foreground,
		Identity:   f.identity,
	}
	for _, c := range f.controls {
		if c.visible {
			snap.Controls = append(snap.Controls, Control{ID: c.id, Kind: c.kind, Label: c.label})
		}
	}
	return snap, nil
}

// Identity implements Surface.
func (f *Fake) Identity(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.identity, nil
}

// Inspect implements Surface.
func (f *Fake) Inspect(ctx context.Context, id ControlID) (Inspection, error) {
	if err := ctx.Err(); err != nil {
		return Inspection{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, _ := f.find(id)
	if c == nil {
		return Inspection{}, nil
	}
	return Inspection{Exists: true, Visible: c.visible, Label: c.label}, nil
}

// Press implements Surface.
func (f *Fake) Press(ctx context.Context, id ControlID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	c, _ := f.find(id)
	if c == nil {
		f.mu.Unlock()
		return ErrControlGone
	}
	f.presses = append(f.presses, id)
	react := f.onPress
	f.mu.Unlock()

	if react != nil {
		react(f, id)
	}
	return nil
}
