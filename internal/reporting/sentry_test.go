package reporting

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDSN = "https://abc123@o1.ingest.example.io/42"

func TestNewSentrySinkRejectsBadDSN(t *testing.T) {
	for _, bad := range []string{"://bad", "ftp://key@o1.example.io/42", "https://o1.example.io/42", "https://key@o1.example.io/"} {
		_, err := NewSentrySink(SentryOptions{DSN: bad})
		assert.Error(t, err, bad)
	}
}

func TestSentryEventFromReport(t *testing.T) {
	sink, err := NewSentrySink(SentryOptions{DSN: testDSN, Release: "autolisten@4.6.0"})
	require.NoError(t, err)

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	trace := &sentry.Stacktrace{Frames: []sentry.Frame{{Function: "step", Module: "autolisten/internal/watcher"}}}
	event := sink.event(Report{
		Name:        "panic",
		Message:     "nil map write",
		Trace:       trace,
		Breadcrumbs: []Breadcrumb{{Timestamp: fixed.Add(-time.Second), Message: "Count: 2 → 3"}},
		Extra:       map[string]interface{}{"step": "poll"},
		Timestamp:   fixed,
	})

	assert.Equal(t, sentry.LevelError, event.Level)
	assert.Equal(t, fixed, event.Timestamp)
	assert.Equal(t, "4.6.0", event.Tags["version"])
	require.Len(t, event.Exception, 1)
	assert.Equal(t, "panic", event.Exception[0].Type)
	assert.Equal(t, "nil map write", event.Exception[0].Value)
	assert.Same(t, trace, event.Exception[0].Stacktrace)
	require.Len(t, event.Breadcrumbs, 1)
	assert.Equal(t, DefaultCategory, event.Breadcrumbs[0].Category)
	assert.Equal(t, "Count: 2 → 3", event.Breadcrumbs[0].Message)
	assert.Equal(t, "poll", event.Extra["step"])
}

func TestSentryEventDefaults(t *testing.T) {
	sink, err := NewSentrySink(SentryOptions{DSN: testDSN})
	require.NoError(t, err)

	event := sink.event(Report{})
	require.Len(t, event.Exception, 1)
	assert.Equal(t, "Error", event.Exception[0].Type)
	assert.Equal(t, "Unknown error", event.Exception[0].Value)
	assert.Nil(t, event.Exception[0].Stacktrace)
	assert.Empty(t, event.Breadcrumbs)
	assert.NotContains(t, event.Tags, "version")
}

type envelopeCapture struct {
	mu     sync.Mutex
	path   string
	auth   string
	bodies []string
}

func (c *envelopeCapture) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	c.path = r.URL.Path
	c.auth = r.Header.Get("X-Sentry-Auth")
	c.bodies = append(c.bodies, string(data))
	c.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func TestSentrySinkPosts(t *testing.T) {
	capture := &envelopeCapture{}
	srv := httptest.NewServer(capture)
	defer srv.Close()

	dsn := strings.Replace(srv.URL, "http://", "http://pubkey@", 1) + "/7"
	sink, err := NewSentrySink(SentryOptions{
		DSN:        dsn,
		Release:    "autolisten@4.6.0",
		Transport:  sentry.NewHTTPSyncTransport(),
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)

	report := Report{Name: "panic", Message: "boom", Timestamp: time.Now()}.
		WithExtra("step", "perform")
	report.Breadcrumbs = []Breadcrumb{{Timestamp: time.Now(), Message: "New response detected (+1)"}}
	require.NoError(t, sink.Report(context.Background(), report))
	require.NoError(t, sink.Close())

	capture.mu.Lock()
	defer capture.mu.Unlock()
	require.Len(t, capture.bodies, 1)
	assert.Equal(t, "/api/7/envelope/", capture.path)
	assert.Contains(t, capture.auth, "sentry_key=pubkey")
	assert.Contains(t, capture.auth, "sentry_version=7")
	body := capture.bodies[0]
	assert.Contains(t, body, `"value":"boom"`)
	assert.Contains(t, body, `"release":"autolisten@4.6.0"`)
	assert.Contains(t, body, `"category":"auto-listen"`)
	assert.Contains(t, body, `"step":"perform"`)
}
