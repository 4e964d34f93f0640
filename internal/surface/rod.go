package surface

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// bindingName is the CDP runtime binding the in-page observer calls.
const bindingName = "__autolistenMutation"

// Event is a change notification delivered by Page.Watch.
type Event int

const (
	// EventMutation means the document changed and a new snapshot may differ.
	EventMutation Event = iota
	// EventNavigation means the main frame navigated (full or same-document).
	EventNavigation
)

func (e Event) String() string {
	switch e {
	case EventMutation:
		return "mutation"
	case EventNavigation:
		return "navigation"
	default:
		return "unknown"
	}
}

// Page is a Surface backed by a Rod page.
type Page struct {
	page   *rod.Page
	labels Labels
	token  string
	logger *zap.Logger
}

// NewPage wraps page. Ids handed out by this Page are prefixed with a token
// unique to the process and the document.
func NewPage(page *rod.Page, labels Labels, logger *zap.Logger) *Page {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Page{
		page:   page,
		labels: labels,
		token:  uuid.NewString()[:8],
		logger: logger,
	}
}

func (p *Page) eval(ctx context.Context, js string, args ...interface{}) ([]byte, error) {
	res, err := p.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("empty evaluation result")
	}
	return res.Value.MarshalJSON()
}

// Snapshot reads the visible controls and page flags.
func (p *Page) Snapshot(ctx context.Context) (Snapshot, error) {
	raw, err := p.eval(ctx, snapshotJS, p.token, p.labels)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	return decodeSnapshot(raw)
}

// Identity returns the page location.
func (p *Page) Identity(ctx context.Context) (string, error) {
	raw, err := p.eval(ctx, identityJS)
	if err != nil {
		return "", fmt.Errorf("identity: %w", err)
	}
	var href string
	if err := json.Unmarshal(raw, &href); err != nil {
		return "", fmt.Errorf("decode identity: %w", err)
	}
	return href, nil
}

// Inspect re-reads one control by id.
func (p *Page) Inspect(ctx context.Context, id ControlID) (Inspection, error) {
	raw, err := p.eval(ctx, inspectJS, p.token, string(id))
	if err != nil {
		return Inspection{}, fmt.Errorf("inspect %s: %w", id, err)
	}
	var out Inspection
	if err := json.Unmarshal(raw, &out); err != nil {
		return Inspection{}, fmt.Errorf("decode inspection: %w", err)
	}
	return out, nil
}

// Press scrolls the control into view and dispatches mousedown, mouseup and click.
func (p *Page) Press(ctx context.Context, id ControlID) error {
	raw, err := p.eval(ctx, pressJS, p.token, string(id))
	if err != nil {
		return fmt.Errorf("press %s: %w", id, err)
	}
	var pressed bool
	if err := json.Unmarshal(raw, &pressed); err != nil {
		return fmt.Errorf("decode press result: %w", err)
	}
	if !pressed {
		return ErrControlGone
	}
	return nil
}

// Watch installs the mutation observer in the current and every future
// document, then calls fn for each mutation burst and main-frame navigation
// until ctx is done.
func (p *Page) Watch(ctx context.Context, fn func(Event)) error {
	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(p.page); err != nil {
		return fmt.Errorf("add runtime binding: %w", err)
	}
	install := "(" + observerJS + ")(" + strconv.Quote(bindingName) + ")"
	if _, err := p.page.EvalOnNewDocument(install); err != nil {
		return fmt.Errorf("install observer: %w", err)
	}
	if _, err := p.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      observerJS,
		JSArgs:  []interface{}{bindingName},
		ByValue: true,
	}); err != nil {
		// The next document picks it up via EvalOnNewDocument.
		p.logger.Warn("observer install on current document failed", zap.Error(err))
	}

	mainFrame := p.page.FrameID
	wait := p.page.Context(ctx).EachEvent(
		func(ev *proto.RuntimeBindingCalled) {
			if ev.Name == bindingName {
				fn(EventMutation)
			}
		},
		func(ev *proto.PageFrameNavigated) {
			if ev.Frame != nil && ev.Frame.ParentID == "" {
				fn(EventNavigation)
			}
		},
		func(ev *proto.PageNavigatedWithinDocument) {
			if mainFrame == "" || ev.FrameID == mainFrame {
				fn(EventNavigation)
			}
		},
	)
	wait()
	return ctx.Err()
}

func decodeSnapshot(raw []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Controls == nil {
		snap.Controls = []Control{}
	}
	return snap, nil
}
