package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"autolisten/internal/config"
	"autolisten/internal/diagnostics"
	"autolisten/internal/settings"
	"autolisten/internal/surface"
	"autolisten/internal/watcher"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
)

func init() {
	color.NoColor = true
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInitEnableDisableStatus(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "init", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Created workspace")

	_, err = execute(t, "init", "--dir", dir)
	assert.Error(t, err, "init refuses an existing workspace")

	settingsPath := filepath.Join(dir, config.WorkspaceDirName, "data", "settings.json")

	out, err = execute(t, "--workspace-dir="+dir, "disable")
	require.NoError(t, err)
	assert.Contains(t, out, "Auto-listen: disabled")
	enabled, err := settings.ReadEnabled(settingsPath)
	require.NoError(t, err)
	assert.False(t, enabled)

	out, err = execute(t, "--workspace-dir="+dir, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Auto-listen: disabled")
	assert.Contains(t, out, "no status exported yet")

	out, err = execute(t, "--workspace-dir="+dir, "enable")
	require.NoError(t, err)
	assert.Contains(t, out, "Auto-listen: enabled")

	statusPath := filepath.Join(dir, config.WorkspaceDirName, "data", "status.json")
	exporter := diagnostics.NewExporter(statusPath, zap.NewNop())
	require.NoError(t, exporter.Publish(diagnostics.Status{
		Version:           "0.3.0",
		Initialized:       true,
		Enabled:           true,
		ListenButtonCount: 4,
		ClickAttempts:     2,
		ClickSuccesses:    1,
		ClickFailures:     1,
		LastEvent:         "Click confirmed (secondary)",
		LastEventTime:     time.Now().UnixMilli(),
	}))

	out, err = execute(t, "--workspace-dir="+dir, "status", "--json")
	require.NoError(t, err)
	var payload struct {
		Enabled bool               `json:"autoListenEnabled"`
		Running bool               `json:"running"`
		Status  diagnostics.Status `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.True(t, payload.Enabled)
	assert.True(t, payload.Running)
	assert.Equal(t, 4, payload.Status.ListenButtonCount)
}

func TestPrintStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	status := diagnostics.Status{
		Version:           "0.3.0",
		Initialized:       true,
		IsGenerating:      true,
		ListenButtonCount: 3,
		ClickAttempts:     1,
		ClickSuccesses:    1,
		LastEvent:         "New response detected (+1)",
		LastEventTime:     now.Add(-90 * time.Second).UnixMilli(),
		Logs: []diagnostics.Entry{
			{Timestamp: now.Add(-3 * time.Minute), Message: "first"},
			{Timestamp: now.Add(-2 * time.Minute), Message: "second"},
			{Timestamp: now.Add(-time.Minute), Message: "third"},
		},
	}

	var buf bytes.Buffer
	printStatus(&buf, true, status, true, 2, now)
	out := buf.String()

	assert.Contains(t, out, "Auto-listen: enabled")
	assert.Contains(t, out, "v0.3.0, response in progress")
	assert.Contains(t, out, "Buttons:     3")
	assert.Contains(t, out, "1 attempted, 1 confirmed, 0 failed")
	assert.Contains(t, out, "New response detected (+1) (1m30s ago)")
	assert.NotContains(t, out, "first")
	assert.Contains(t, out, "second")
	assert.Contains(t, out, "third")
}

func TestRunOptionsApply(t *testing.T) {
	cfg := config.DefaultConfig()
	opts := runOptions{debuggerURL: "ws://127.0.0.1:9333", ssePort: 8765, stdio: true}
	opts.apply(&cfg)

	assert.Equal(t, "ws://127.0.0.1:9333", cfg.Browser.DebuggerURL)
	assert.Equal(t, 8765, cfg.MCP.SSEPort)
	assert.True(t, cfg.MCP.Stdio)

	untouched := config.DefaultConfig()
	(&runOptions{}).apply(&untouched)
	assert.Equal(t, config.DefaultConfig().Browser.DebuggerURL, untouched.Browser.DebuggerURL)
}

func TestBuildReporter(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Reporting.Dir = ""
	sink, closeFn, err := buildReporter(cfg, "run1", zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, sink)
	closeFn()

	cfg.Reporting.Dir = t.TempDir()
	cfg.Reporting.SentryDSN = "https://public@sentry.example.com/42"
	sink, closeFn, err = buildReporter(cfg, "run2", zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, sink)
	closeFn()

	cfg.Reporting.SentryDSN = "://bad"
	_, _, err = buildReporter(cfg, "run3", zap.NewNop())
	assert.Error(t, err)
}

func TestSettingsWatchFailureKeepsWatcherRunning(t *testing.T) {
	// A regular file where the settings directory should be makes the
	// fsnotify watch fail immediately.
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	logger := zaptest.NewLogger(t)
	store := settings.NewStore(filepath.Join(blocker, "settings.json"), logger)
	require.Error(t, store.Watch(context.Background(), func(bool) {}))

	fake := surface.NewFake("https://chat.example/app/1")
	fake.AddListen("Listen")
	w := watcher.New(watcher.Options{
		Surface: fake,
		Timings: config.Timings{
			PollInterval:         5 * time.Millisecond,
			SessionCheckInterval: 10 * time.Millisecond,
			StableDuration:       20 * time.Millisecond,
			GracePeriod:          40 * time.Millisecond,
			ClickSettle:          5 * time.Millisecond,
			RecheckDelay:         5 * time.Millisecond,
			RecalibrateDelay:     10 * time.Millisecond,
			MaxIncrease:          3,
		},
		Enabled: true,
		Logger:  logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(bestEffort(gctx, logger, "settings watch", func(ctx context.Context) error {
		return store.Watch(ctx, w.SetEnabled)
	}))

	require.Eventually(t, func() bool {
		v, err := w.State(ctx)
		return err == nil && v.Initialized && v.LastStableCount == 1
	}, 2*time.Second, 5*time.Millisecond)
	fake.AddListen("Listen")
	require.Eventually(t, func() bool { return len(fake.Presses()) > 0 }, 2*time.Second, 5*time.Millisecond)
	assert.NoError(t, gctx.Err(), "a failed settings watch must not stop the group")

	cancel()
	assert.NoError(t, g.Wait())
}

func TestBestEffortSwallowsErrors(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx, cancel := context.WithCancel(context.Background())

	run := bestEffort(ctx, logger, "observer", func(context.Context) error { return errors.New("binding refused") })
	assert.NoError(t, run())

	cancel()
	run = bestEffort(ctx, logger, "observer", func(ctx context.Context) error { return ctx.Err() })
	assert.NoError(t, run())
}
