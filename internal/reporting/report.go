// Package reporting hands unexpected failures to external sinks: a rotating
// JSONL directory and Sentry.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"autolisten/internal/diagnostics"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultCategory tags breadcrumbs that come from the diagnostic log.
const DefaultCategory = "auto-listen"

// ErrRateLimited is returned when a report is dropped by the limiter.
var ErrRateLimited = errors.New("report dropped: rate limit exceeded")

// Breadcrumb is one recent diagnostic entry attached to a report.
type Breadcrumb struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Category  string    `json:"category"`
}

// Report describes one unexpected failure.
type Report struct {
	Name        string                 `json:"name"`
	Message     string                 `json:"message"`
	Stack       string                 `json:"stack,omitempty"`
	Breadcrumbs []Breadcrumb           `json:"breadcrumbs,omitempty"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	// Trace is the structured form of Stack, when one could be captured.
	Trace *sentry.Stacktrace `json:"-"`
}

// Sink receives reports.
type Sink interface {
	Report(ctx context.Context, r Report) error
}

// FromPanic builds a report from a recovered value and the goroutine stack.
// Call it from the deferred recover so the trace includes the panic site.
func FromPanic(recovered interface{}, stack []byte) Report {
	r := Report{
		Name:      "panic",
		Stack:     string(stack),
		Trace:     sentry.NewStacktrace(),
		Timestamp: time.Now().UTC(),
	}
	if err, ok := recovered.(error); ok {
		r.Name = fmt.Sprintf("%T", err)
		r.Message = err.Error()
	} else {
		r.Message = fmt.Sprint(recovered)
	}
	return r
}

// FromError builds a report for an unexpected error returned by a step.
func FromError(err error, stack []byte) Report {
	name := fmt.Sprintf("%T", err)
	name = strings.TrimPrefix(name, "*")
	return Report{
		Name:      name,
		Message:   err.Error(),
		Stack:     string(stack),
		Trace:     sentry.ExtractStacktrace(err),
		Timestamp: time.Now().UTC(),
	}
}

// WithBreadcrumbs attaches log entries as breadcrumbs.
func (r Report) WithBreadcrumbs(entries []diagnostics.Entry) Report {
	r.Breadcrumbs = make([]Breadcrumb, 0, len(entries))
	for _, e := range entries {
		r.Breadcrumbs = append(r.Breadcrumbs, Breadcrumb{
			Timestamp: e.Timestamp,
			Message:   e.Message,
			Category:  DefaultCategory,
		})
	}
	return r
}

// WithExtra adds one key to the extra map.
func (r Report) WithExtra(key string, value interface{}) Report {
	extra := make(map[string]interface{}, len(r.Extra)+1)
	for k, v := range r.Extra {
		extra[k] = v
	}
	extra[key] = value
	r.Extra = extra
	return r
}

// Multi fans a report out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Report(ctx context.Context, r Report) error {
	var errs []error
	for _, s := range m {
		if err := s.Report(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards reports.
type Nop struct{}

func (Nop) Report(context.Context, Report) error { return nil }

// Limited drops reports beyond a per-minute budget so a failure loop cannot
// flood the sinks.
type Limited struct {
	next    Sink
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewLimited wraps next with a limiter allowing perMinute reports, bursting
// up to the same amount. perMinute <= 0 disables limiting.
func NewLimited(next Sink, perMinute int, logger *zap.Logger) *Limited {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	burst := 1
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
		burst = perMinute
	}
	return &Limited{next: next, limiter: rate.NewLimiter(limit, burst), logger: logger}
}

func (l *Limited) Report(ctx context.Context, r Report) error {
	if !l.limiter.Allow() {
		l.logger.Debug("error report dropped", zap.String("name", r.Name))
		return ErrRateLimited
	}
	return l.next.Report(ctx, r)
}
