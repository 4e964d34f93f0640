package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"autolisten/internal/config"
	"autolisten/internal/diagnostics"
	"autolisten/internal/mangle"
	"autolisten/internal/surface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var fastTimings = config.Timings{
	PollInterval:         5 * time.Millisecond,
	SessionCheckInterval: 10 * time.Millisecond,
	StableDuration:       30 * time.Millisecond,
	GracePeriod:          60 * time.Millisecond,
	ClickSettle:          5 * time.Millisecond,
	RecheckDelay:         5 * time.Millisecond,
	RecalibrateDelay:     20 * time.Millisecond,
	MaxIncrease:          3,
}

type factRecorder struct {
	mu    sync.Mutex
	facts []mangle.Fact
}

func (r *factRecorder) AddFacts(_ context.Context, facts []mangle.Fact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.facts = append(r.facts, facts...)
	return nil
}

func (r *factRecorder) byPredicate(pred string) []mangle.Fact {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []mangle.Fact
	for _, f := range r.facts {
		if f.Predicate == pred {
			out = append(out, f)
		}
	}
	return out
}

func newTestExecutor(t *testing.T, s surface.Surface) (*Executor, *factRecorder, *diagnostics.Log) {
	t.Helper()
	facts := &factRecorder{}
	log := diagnostics.NewLog(50)
	return NewExecutor(s, fastTimings, log, facts, zaptest.NewLogger(t)), facts, log
}

func TestSelectTargetPicksLastUnprocessed(t *testing.T) {
	snap := surface.Snapshot{Controls: []surface.Control{
		{ID: "a", Kind: surface.KindListen},
		{ID: "b", Kind: surface.KindListen},
		{ID: "s", Kind: surface.KindSecondary},
	}}
	reg := NewProcessedRegistry()

	target, ok := SelectTarget(snap, reg)
	require.True(t, ok)
	assert.Equal(t, surface.ControlID("b"), target.ID)

	reg.Mark("b", time.Now())
	target, ok = SelectTarget(snap, reg)
	require.True(t, ok)
	assert.Equal(t, surface.ControlID("a"), target.ID)

	reg.Mark("a", time.Now())
	_, ok = SelectTarget(snap, reg)
	assert.False(t, ok, "a processed control is never reselected")
}

func TestPerformConfirmationSignals(t *testing.T) {
	tests := []struct {
		name   string
		react  func(f *surface.Fake, id surface.ControlID)
		signal Signal
	}{
		{
			name:   "secondary control appears",
			react:  func(f *surface.Fake, id surface.ControlID) { f.AddSecondary("Pause") },
			signal: SignalSecondary,
		},
		{
			name:   "media starts playing",
			react:  func(f *surface.Fake, id surface.ControlID) { f.SetPlaying(true) },
			signal: SignalPlayback,
		},
		{
			name:   "label changes",
			react:  func(f *surface.Fake, id surface.ControlID) { f.SetLabel(id, "Pause") },
			signal: SignalLabel,
		},
		{
			name:   "control hidden",
			react:  func(f *surface.Fake, id surface.ControlID) { f.SetVisible(id, false) },
			signal: SignalHidden,
		},
		{
			name:   "control removed",
			react:  func(f *surface.Fake, id surface.ControlID) { f.Remove(id) },
			signal: SignalHidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := surface.NewFake("https://chat.example/app/1")
			id := fake.AddListen("Listen")
			fake.OnPress(tt.react)
			exec, facts, _ := newTestExecutor(t, fake)

			res, err := exec.Perform(context.Background(), surface.Control{ID: id, Kind: surface.KindListen, Label: "Listen"})
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.Equal(t, tt.signal, res.Signal)
			assert.Equal(t, 1, res.Attempts)
			assert.Len(t, fake.Presses(), 1)
			assert.Len(t, facts.byPredicate("click_confirmed"), 1)
			assert.Empty(t, facts.byPredicate("click_failed"))
		})
	}
}

func TestPerformRetriesSameControlOnce(t *testing.T) {
	fake := surface.NewFake("https://chat.example/app/1")
	id := fake.AddListen("Listen")
	presses := 0
	fake.OnPress(func(f *surface.Fake, pressed surface.ControlID) {
		presses++
		if presses == 2 {
			f.SetLabel(pressed, "Pause")
		}
	})
	exec, facts, log := newTestExecutor(t, fake)

	res, err := exec.Perform(context.Background(), surface.Control{ID: id, Kind: surface.KindListen, Label: "Listen"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, SignalLabel, res.Signal)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []surface.ControlID{id, id}, fake.Presses())
	assert.Len(t, facts.byPredicate("click_attempt"), 2)

	var sawRetry bool
	for _, e := range log.Entries() {
		if e.Message == "No confirmation, retrying click" {
			sawRetry = true
		}
	}
	assert.True(t, sawRetry)
}

func TestPerformFailsAfterRetry(t *testing.T) {
	fake := surface.NewFake("https://chat.example/app/1")
	id := fake.AddListen("Listen")
	exec, facts, _ := newTestExecutor(t, fake)

	res, err := exec.Perform(context.Background(), surface.Control{ID: id, Kind: surface.KindListen, Label: "Listen"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, SignalNone, res.Signal)
	assert.Equal(t, 2, res.Attempts, "exactly one retry")
	assert.Len(t, fake.Presses(), 2)
	assert.Len(t, facts.byPredicate("click_failed"), 1)
}

func TestPerformControlGoneBeforePress(t *testing.T) {
	fake := surface.NewFake("https://chat.example/app/1")
	exec, facts, _ := newTestExecutor(t, fake)

	res, err := exec.Perform(context.Background(), surface.Control{ID: "fake:99", Kind: surface.KindListen, Label: "Listen"})
	assert.ErrorIs(t, err, surface.ErrControlGone)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.Len(t, facts.byPredicate("click_failed"), 1)
}

func TestPerformHonorsCancellation(t *testing.T) {
	fake := surface.NewFake("https://chat.example/app/1")
	id := fake.AddListen("Listen")
	slow := fastTimings
	slow.ClickSettle = time.Minute
	exec := NewExecutor(fake, slow, diagnostics.NewLog(10), nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := exec.Perform(ctx, surface.Control{ID: id, Kind: surface.KindListen, Label: "Listen"})
	assert.ErrorIs(t, err, context.Canceled)
}
