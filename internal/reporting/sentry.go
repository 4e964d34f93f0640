package reporting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

// ErrSentryDropped is returned when the client declines to send an event.
var ErrSentryDropped = errors.New("sentry dropped the event")

// SentryOptions configures the Sentry sink.
type SentryOptions struct {
	DSN         string
	Release     string
	Environment string
	// Transport defaults to sentry's buffered HTTP transport.
	Transport sentry.Transport
	// HTTPClient overrides the client used by the transport.
	HTTPClient   *http.Client
	FlushTimeout time.Duration
}

// SentrySink forwards reports to Sentry through a dedicated client, leaving
// the sentry global hub untouched.
type SentrySink struct {
	client       *sentry.Client
	version      string
	flushTimeout time.Duration
}

// NewSentrySink validates the DSN and builds the client.
func NewSentrySink(opts SentryOptions) (*SentrySink, error) {
	if opts.Environment == "" {
		opts.Environment = "production"
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 2 * time.Second
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         opts.DSN,
		Release:     opts.Release,
		Environment: opts.Environment,
		Transport:   opts.Transport,
		HTTPClient:  opts.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("configure sentry client: %w", err)
	}
	return &SentrySink{
		client:       client,
		version:      strings.TrimPrefix(opts.Release, "autolisten@"),
		flushTimeout: opts.FlushTimeout,
	}, nil
}

// event converts r into a Sentry error event.
func (s *SentrySink) event(r Report) *sentry.Event {
	name := r.Name
	if name == "" {
		name = "Error"
	}
	message := r.Message
	if message == "" {
		message = "Unknown error"
	}

	event := sentry.NewEvent()
	event.Level = sentry.LevelError
	event.Timestamp = r.Timestamp
	event.Exception = []sentry.Exception{{Type: name, Value: message, Stacktrace: r.Trace}}
	if s.version != "" {
		event.Tags["version"] = s.version
	}
	for k, v := range r.Extra {
		event.Extra[k] = v
	}
	for _, bc := range r.Breadcrumbs {
		category := bc.Category
		if category == "" {
			category = DefaultCategory
		}
		event.Breadcrumbs = append(event.Breadcrumbs, &sentry.Breadcrumb{
			Category:  category,
			Message:   bc.Message,
			Level:     sentry.LevelInfo,
			Timestamp: bc.Timestamp,
		})
	}
	return event
}

// Report hands one event to the client. Delivery itself is asynchronous
// unless a synchronous transport was configured.
func (s *SentrySink) Report(ctx context.Context, r Report) error {
	id := s.client.CaptureEvent(s.event(r), &sentry.EventHint{Context: ctx}, sentry.NewScope())
	if id == nil {
		return ErrSentryDropped
	}
	return nil
}

// Close flushes buffered events.
func (s *SentrySink) Close() error {
	ok := s.client.Flush(s.flushTimeout)
	s.client.Close()
	if !ok {
		return fmt.Errorf("sentry flush timed out after %s", s.flushTimeout)
	}
	return nil
}
