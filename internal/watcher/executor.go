package watcher

import (
	"context"
	"errors"
	"time"

	"autolisten/internal/config"
	"autolisten/internal/diagnostics"
	"autolisten/internal/mangle"
	"autolisten/internal/surface"

	"go.uber.org/zap"
)

// FactSink receives journal facts.
type FactSink interface {
	AddFacts(ctx context.Context, facts []mangle.Fact) error
}

// Signal names the evidence that confirmed an action.
type Signal string

const (
	SignalNone      Signal = ""
	SignalSecondary Signal = "secondary"
	SignalPlayback  Signal = "playback"
	SignalLabel     Signal = "label_changed"
	SignalHidden    Signal = "hidden"
)

// Result is the outcome of one Perform call.
type Result struct {
	Control  surface.ControlID `json:"control"`
	Success  bool              `json:"success"`
	Signal   Signal            `json:"signal,omitempty"`
	Attempts int               `json:"attempts"`
}

// Performer acts on one control and confirms the effect.
type Performer interface {
	Perform(ctx context.Context, target surface.Control) (Result, error)
}

// Executor presses a control and looks for confirmation, retrying the press
// once on the same control.
type Executor struct {
	surface surface.Surface
	timings config.Timings
	log     *diagnostics.Log
	facts   FactSink
	logger  *zap.Logger
	now     func() time.Time
}

// NewExecutor builds an executor. facts may be nil.
func NewExecutor(s surface.Surface, t config.Timings, log *diagnostics.Log, facts FactSink, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		surface: s,
		timings: t,
		log:     log,
		facts:   facts,
		logger:  logger,
		now:     time.Now,
	}
}

// SelectTarget picks the last visible listen control not yet processed.
func SelectTarget(snap surface.Snapshot, processed *ProcessedRegistry) (surface.Control, bool) {
	listen := snap.Listen()
	for i := len(listen) - 1; i >= 0; i-- {
		if !processed.Has(listen[i].ID) {
			return listen[i], true
		}
	}
	return surface.Control{}, false
}

// Perform runs the press and confirm sequence. A false Success with a nil
// error means no confirmation signal appeared within the budget.
func (e *Executor) Perform(ctx context.Context, target surface.Control) (Result, error) {
	res := Result{Control: target.ID}

	label := target.Label
	if insp, err := e.surface.Inspect(ctx, target.ID); err == nil && insp.Exists {
		label = insp.Label
	}
	e.log.Appendf("Click on %q (%s)", label, target.ID)

	if err := e.press(ctx, target.ID, &res); err != nil {
		e.log.Appendf("Click failed: %v", err)
		e.record(ctx, "click_failed", string(target.ID))
		return res, err
	}

	if err := sleep(ctx, e.timings.ClickSettle); err != nil {
		return res, err
	}
	if e.confirmed(ctx, target.ID, label, &res) {
		return res, nil
	}

	if err := sleep(ctx, e.timings.RecheckDelay); err != nil {
		return res, err
	}
	if e.confirmed(ctx, target.ID, label, &res) {
		return res, nil
	}

	e.log.Append("No confirmation, retrying click")
	if err := e.press(ctx, target.ID, &res); err != nil && !errors.Is(err, surface.ErrControlGone) {
		return res, err
	}
	if err := sleep(ctx, e.timings.ClickSettle); err != nil {
		return res, err
	}
	if e.confirmed(ctx, target.ID, label, &res) {
		return res, nil
	}

	e.log.Append("Click failed: no confirmation after retry")
	e.record(ctx, "click_failed", string(target.ID))
	return res, nil
}

func (e *Executor) press(ctx context.Context, id surface.ControlID, res *Result) error {
	res.Attempts++
	e.record(ctx, "click_attempt", string(id), res.Attempts)
	return e.surface.Press(ctx, id)
}

func (e *Executor) confirmed(ctx context.Context, id surface.ControlID, label string, res *Result) bool {
	sig := e.check(ctx, id, label)
	if sig == SignalNone {
		return false
	}
	res.Success = true
	res.Signal = sig
	e.log.Appendf("Confirmed by %s after %d click(s)", sig, res.Attempts)
	e.record(ctx, "click_confirmed", string(id), string(sig))
	return true
}

// check evaluates the confirmation signals in order.
func (e *Executor) check(ctx context.Context, id surface.ControlID, label string) Signal {
	snap, err := e.surface.Snapshot(ctx)
	if err != nil {
		e.logger.Debug("confirmation snapshot failed", zap.Error(err))
	} else {
		if snap.HasSecondary() {
			return SignalSecondary
		}
		if snap.Playing {
			return SignalPlayback
		}
	}

	insp, err := e.surface.Inspect(ctx, id)
	if err != nil {
		e.logger.Debug("confirmation inspect failed", zap.String("control", string(id)), zap.Error(err))
		return SignalNone
	}
	if insp.Exists && insp.Label != label {
		return SignalLabel
	}
	if !insp.Exists || !insp.Visible {
		return SignalHidden
	}
	return SignalNone
}

func (e *Executor) record(ctx context.Context, predicate string, args ...interface{}) {
	if e.facts == nil {
		return
	}
	now := e.now()
	args = append(args, now.UnixMilli())
	if err := e.facts.AddFacts(ctx, []mangle.Fact{{Predicate: predicate, Args: args, Timestamp: now}}); err != nil {
		e.logger.Debug("fact journal rejected fact", zap.String("predicate", predicate), zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
