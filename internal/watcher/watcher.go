// Package watcher detects a freshly finished response by debouncing the
// number of listen controls on the page, and presses the new control once.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"autolisten/internal/config"
	"autolisten/internal/diagnostics"
	"autolisten/internal/mangle"
	"autolisten/internal/reporting"
	"autolisten/internal/surface"

	"go.uber.org/zap"
)

// Options wires a Watcher. Surface and Timings are required.
type Options struct {
	Surface surface.Surface
	Timings config.Timings
	Version string
	Enabled bool

	Log         *diagnostics.Log
	Exporter    *diagnostics.Exporter
	Facts       FactSink
	Reporter    reporting.Sink
	Breadcrumbs int

	// MutationThrottle drops mutation notifications closer together than this.
	MutationThrottle time.Duration
	// Performer overrides the default Executor.
	Performer Performer

	Logger *zap.Logger
	Now    func() time.Time
}

type completion struct {
	control    surface.Control
	generation int
	result     Result
	err        error
}

// Watcher owns the tracking state and runs every step on one goroutine.
type Watcher struct {
	opts      Options
	logger    *zap.Logger
	log       *diagnostics.Log
	exporter  *diagnostics.Exporter
	reporter  reporting.Sink
	performer Performer
	now       func() time.Time
	throttle  *eventThrottler

	state    *TrackingState
	inFlight bool
	enabled  atomic.Bool

	clickAttempts  int
	clickSuccesses int
	clickFailures  int
	lastEvent      string
	lastEventTime  time.Time

	mutations   chan struct{}
	navigations chan struct{}
	toggles     chan struct{}
	done        chan completion
	views       chan chan StateView

	wg sync.WaitGroup
}

// New builds a watcher from opts, filling in no-op collaborators.
func New(opts Options) *Watcher {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = diagnostics.NewLog(diagnostics.DefaultLogLimit)
	}
	if opts.Exporter == nil {
		opts.Exporter = diagnostics.NewExporter("", opts.Logger)
	}
	if opts.Reporter == nil {
		opts.Reporter = reporting.Nop{}
	}
	if opts.Breadcrumbs <= 0 {
		opts.Breadcrumbs = 20
	}
	if opts.Timings.MaxIncrease <= 0 {
		opts.Timings.MaxIncrease = 3
	}

	w := &Watcher{
		opts:        opts,
		logger:      opts.Logger,
		log:         opts.Log,
		exporter:    opts.Exporter,
		reporter:    opts.Reporter,
		now:         opts.Now,
		throttle:    newEventThrottler(opts.MutationThrottle, opts.Now),
		state:       NewTrackingState(),
		mutations:   make(chan struct{}, 1),
		navigations: make(chan struct{}, 1),
		toggles:     make(chan struct{}, 1),
		done:        make(chan completion, 1),
		views:       make(chan chan StateView),
	}
	w.performer = opts.Performer
	if w.performer == nil {
		w.performer = NewExecutor(opts.Surface, opts.Timings, opts.Log, opts.Facts, opts.Logger.Named("executor"))
	}
	w.enabled.Store(opts.Enabled)
	return w
}

// NotifyMutation schedules a tracker update. Safe from any goroutine.
func (w *Watcher) NotifyMutation() {
	if !w.throttle.Allow("mutation") {
		return
	}
	nudge(w.mutations)
}

// NotifyNavigation schedules an immediate identity check.
func (w *Watcher) NotifyNavigation() {
	nudge(w.navigations)
}

// HandleSurfaceEvent adapts surface.Page.Watch callbacks.
func (w *Watcher) HandleSurfaceEvent(ev surface.Event) {
	switch ev {
	case surface.EventNavigation:
		w.NotifyNavigation()
	default:
		w.NotifyMutation()
	}
}

// SetEnabled updates the enabled flag. It takes effect on the next decision.
func (w *Watcher) SetEnabled(v bool) {
	if w.enabled.Swap(v) != v {
		nudge(w.toggles)
	}
}

// Enabled returns the current flag.
func (w *Watcher) Enabled() bool {
	return w.enabled.Load()
}

// State asks the loop for a copy of the tracking state.
func (w *Watcher) State(ctx context.Context) (StateView, error) {
	reply := make(chan StateView, 1)
	select {
	case w.views <- reply:
	case <-ctx.Done():
		return StateView{}, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return StateView{}, ctx.Err()
	}
}

// Status returns the last published status.
func (w *Watcher) Status() diagnostics.Status {
	return w.exporter.Current()
}

// Run drives the watcher until ctx is done. An action in flight is given
// the same ctx and is waited for before Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	if w.opts.Surface == nil {
		return errors.New("watcher: no surface")
	}
	defer w.wg.Wait()

	t := w.opts.Timings
	poll := time.NewTicker(t.PollInterval)
	defer poll.Stop()
	session := time.NewTicker(t.SessionCheckInterval)
	defer session.Stop()

	var recal *time.Timer
	var recalC <-chan time.Time
	defer func() {
		if recal != nil {
			recal.Stop()
		}
	}()

	w.event(fmt.Sprintf("Watcher v%s started", w.opts.Version))
	w.guarded(ctx, "poll", func() { w.step(ctx) })

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopping")
			return nil

		case <-poll.C:
			w.guarded(ctx, "poll", func() { w.step(ctx) })

		case <-w.mutations:
			w.guarded(ctx, "mutation", func() { w.step(ctx) })

		case <-session.C:
			w.guarded(ctx, "session", func() { w.checkSession(ctx) })

		case <-w.navigations:
			w.guarded(ctx, "navigation", func() {
				w.checkSession(ctx)
				w.step(ctx)
			})

		case <-w.toggles:
			w.guarded(ctx, "settings", func() {
				if w.enabled.Load() {
					w.event("Auto-listen enabled")
				} else {
					w.event("Auto-listen disabled")
				}
			})

		case c := <-w.done:
			w.guarded(ctx, "completion", func() { w.complete(ctx, c) })
			if recal == nil {
				recal = time.NewTimer(t.RecalibrateDelay)
			} else {
				recal.Reset(t.RecalibrateDelay)
			}
			recalC = recal.C

		case <-recalC:
			recal = nil
			recalC = nil
			w.guarded(ctx, "recalibrate", func() { w.recalibrate(ctx) })

		case reply := <-w.views:
			reply <- w.state.View()
		}
	}
}

// step runs tracker, decision engine and, when warranted, the executor.
func (w *Watcher) step(ctx context.Context) {
	snap, err := w.opts.Surface.Snapshot(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Debug("snapshot failed, skipping cycle", zap.Error(err))
		}
		return
	}
	now := w.now()

	obs := w.state.Observe(snap, now)
	switch {
	case obs.Initialized:
		w.event(fmt.Sprintf("Initialized with %d listen button(s)", obs.Count))
	case obs.CountChanged:
		w.log.Appendf("Count: %d → %d", obs.Previous, obs.Count)
		w.fact(ctx, "count_change", obs.Previous, obs.Count)
	}
	if obs.GeneratingChanged {
		if w.state.IsGenerating {
			w.log.Append("Generation in progress")
		} else {
			w.log.Append("Generation finished")
		}
		w.fact(ctx, "generating", w.state.IsGenerating)
	}
	if obs.PlaybackChanged {
		if w.state.PlaybackActive {
			w.log.Append("Playback active")
		} else {
			w.log.Append("Playback stopped")
		}
	}

	count := snap.Count()
	decision := Decide(*w.state, count, now, w.opts.Timings)
	switch decision.Action {
	case ActionTrigger:
		from := w.state.LastStableCount
		w.state.Rebase(count)
		if reason := w.blocked(snap); reason != "" {
			w.event(fmt.Sprintf("New response (+%d) skipped: %s", decision.Increase, reason))
			w.fact(ctx, "trigger_skipped", reason)
			return
		}
		target, ok := SelectTarget(snap, w.state.Processed)
		if !ok {
			w.log.Appendf("New response (%d → %d) but no unprocessed listen button", from, count)
			return
		}
		w.event(fmt.Sprintf("New response detected (+%d)", decision.Increase))
		w.fact(ctx, "trigger", string(target.ID), decision.Increase)
		w.start(ctx, target)

	case ActionRebaseJump:
		from := w.state.LastStableCount
		w.state.Rebase(count)
		w.event(fmt.Sprintf("Large jump +%d (%d → %d), baseline rebased without click", decision.Increase, from, count))
		w.fact(ctx, "baseline_rebase", from, count, "large_jump")

	case ActionRebasePlayback:
		from := w.state.LastStableCount
		w.state.Rebase(count)
		w.event(fmt.Sprintf("Count +%d while playback active (%d → %d), baseline rebased without click", decision.Increase, from, count))
		w.fact(ctx, "baseline_rebase", from, count, "playback_active")

	case ActionRebase:
		from := w.state.LastStableCount
		w.state.Rebase(count)
		w.log.Appendf("Count decreased %d → %d, baseline rebased", from, count)
		w.fact(ctx, "baseline_rebase", from, count, "decrease")
	}
}

// blocked evaluates the caller-side guards in front of the executor.
func (w *Watcher) blocked(snap surface.Snapshot) string {
	switch {
	case w.state.IsProcessing || w.inFlight:
		return "action in flight"
	case !w.enabled.Load():
		return "disabled"
	case !snap.Foreground:
		return "hidden tab, no automatic click"
	default:
		return ""
	}
}

func (w *Watcher) start(ctx context.Context, target surface.Control) {
	w.state.IsProcessing = true
	w.inFlight = true
	w.clickAttempts++
	c := completion{control: target, generation: w.state.Processed.Generation()}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("executor panicked", zap.Any("panic", r))
				w.report(ctx, reporting.FromPanic(r, debug.Stack()).WithExtra("step", "perform"))
				c.result = Result{Control: target.ID}
				c.err = fmt.Errorf("perform panicked: %v", r)
			}
			select {
			case w.done <- c:
			case <-ctx.Done():
			}
		}()
		c.result, c.err = w.performer.Perform(ctx, target)
	}()
}

// complete applies an executor result on the loop goroutine.
func (w *Watcher) complete(ctx context.Context, c completion) {
	now := w.now()
	w.inFlight = false
	w.state.IsProcessing = false
	w.state.ProcessingEndedAt = now

	if c.err != nil && !errors.Is(c.err, context.Canceled) && !errors.Is(c.err, surface.ErrControlGone) {
		w.logger.Warn("action failed", zap.String("control", string(c.control.ID)), zap.Error(c.err))
		w.report(ctx, reporting.FromError(c.err, nil).WithExtra("step", "perform").WithExtra("control", string(c.control.ID)))
	}

	if c.result.Success {
		if c.generation == w.state.Processed.Generation() {
			w.state.Processed.Mark(c.control.ID, now)
		}
		w.clickSuccesses++
		w.event(fmt.Sprintf("Click confirmed (%s)", c.result.Signal))
		return
	}
	w.clickFailures++
	w.event("Click failed")
}

// recalibrate rebases on a fresh count once the action's own churn has settled.
func (w *Watcher) recalibrate(ctx context.Context) {
	snap, err := w.opts.Surface.Snapshot(ctx)
	if err != nil {
		w.logger.Debug("recalibration snapshot failed", zap.Error(err))
		return
	}
	now := w.now()
	count := snap.Count()
	from := w.state.LastStableCount
	w.state.LastStableCount = count
	if w.state.CurrentCount != count {
		w.state.CurrentCount = count
		w.state.CountChangedAt = now
	}
	w.log.Appendf("Baseline recalibrated: %d → %d", from, count)
	w.fact(ctx, "recalibrated", count)
}

// checkSession resets tracking when the surface identity changed.
func (w *Watcher) checkSession(ctx context.Context) {
	identity, err := w.opts.Surface.Identity(ctx)
	if err != nil {
		w.logger.Debug("identity check failed", zap.Error(err))
		return
	}
	if w.state.SurfaceIdentity == "" {
		w.state.SurfaceIdentity = identity
		return
	}
	if !w.state.IdentityChanged(identity) {
		return
	}
	from := w.state.SurfaceIdentity
	w.state.Reset(identity, w.now())
	w.event("Navigation detected, state reset")
	w.logger.Info("surface changed", zap.String("from", from), zap.String("to", identity))
	w.fact(ctx, "session_reset", from, identity)
}

// guarded runs one loop step, turning a panic into a report, then publishes status.
func (w *Watcher) guarded(ctx context.Context, step string, fn func()) {
	defer w.publish()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("watcher step panicked", zap.String("step", step), zap.Any("panic", r))
			w.report(ctx, reporting.FromPanic(r, debug.Stack()).WithExtra("step", step))
		}
	}()
	fn()
}

func (w *Watcher) report(ctx context.Context, r reporting.Report) {
	r = r.WithBreadcrumbs(w.log.Tail(w.opts.Breadcrumbs))
	if err := w.reporter.Report(ctx, r); err != nil && !errors.Is(err, reporting.ErrRateLimited) {
		w.logger.Warn("error report not delivered", zap.Error(err))
	}
}

// event appends to the diagnostic log and updates lastEvent.
func (w *Watcher) event(msg string) {
	entry := w.log.Append(msg)
	w.lastEvent = msg
	w.lastEventTime = entry.Timestamp
	w.logger.Info(msg)
}

func (w *Watcher) fact(ctx context.Context, predicate string, args ...interface{}) {
	if w.opts.Facts == nil {
		return
	}
	now := w.now()
	args = append(args, now.UnixMilli())
	if err := w.opts.Facts.AddFacts(ctx, []mangle.Fact{{Predicate: predicate, Args: args, Timestamp: now}}); err != nil {
		w.logger.Debug("fact journal rejected fact", zap.String("predicate", predicate), zap.Error(err))
	}
}

func (w *Watcher) publish() {
	status := diagnostics.Status{
		Version:           w.opts.Version,
		Initialized:       w.state.Initialized,
		Enabled:           w.enabled.Load(),
		ListenButtonCount: w.state.CurrentCount,
		IsGenerating:      w.state.IsGenerating,
		IsProcessing:      w.state.IsProcessing,
		ClickAttempts:     w.clickAttempts,
		ClickSuccesses:    w.clickSuccesses,
		ClickFailures:     w.clickFailures,
		LastEvent:         w.lastEvent,
		Logs:              w.log.Entries(),
	}
	if !w.lastEventTime.IsZero() {
		status.LastEventTime = w.lastEventTime.UnixMilli()
	}
	_ = w.exporter.Publish(status)
}

func nudge(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
