package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"autolisten/internal/browser"
	"autolisten/internal/config"
	"autolisten/internal/diagnostics"
	"autolisten/internal/mangle"
	mcpserver "autolisten/internal/mcp"
	"autolisten/internal/observability"
	"autolisten/internal/reporting"
	"autolisten/internal/settings"
	"autolisten/internal/surface"
	"autolisten/internal/watcher"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type runOptions struct {
	debuggerURL string
	ssePort     int
	stdio       bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Attach to Chrome and watch the chat tab until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts.apply(&cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWatcher(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&opts.debuggerURL, "debugger-url", "", "Chrome DevTools endpoint (overrides browser.debugger_url)")
	cmd.Flags().IntVar(&opts.ssePort, "sse-port", 0, "serve MCP over SSE on this port")
	cmd.Flags().BoolVar(&opts.stdio, "stdio", false, "serve MCP over stdin/stdout")
	return cmd
}

func (o *runOptions) apply(cfg *config.Config) {
	if o.debuggerURL != "" {
		cfg.Browser.DebuggerURL = o.debuggerURL
	}
	if o.ssePort != 0 {
		cfg.MCP.SSEPort = o.ssePort
	}
	if o.stdio {
		cfg.MCP.Stdio = true
	}
}

func runWatcher(ctx context.Context, cfg config.Config) error {
	logger, restore := observability.InstallLogger(cfg.Logger)
	defer restore()

	runID := uuid.NewString()[:8]
	logger.Info("starting autolisten", zap.String("version", cfg.Server.Version), zap.String("run_id", runID))

	engine, err := mangle.NewEngine(cfg.Mangle, logger.Named("mangle"))
	if err != nil {
		return fmt.Errorf("initialize mangle engine: %w", err)
	}

	reporter, closeReporter, err := buildReporter(cfg, runID, logger.Named("reporting"))
	if err != nil {
		return err
	}
	defer closeReporter()

	store := settings.NewStore(cfg.Settings.Path, logger.Named("settings"))
	enabled, err := store.Load()
	if err != nil {
		logger.Warn("settings unreadable, starting enabled", zap.String("path", store.Path()), zap.Error(err))
	}

	sessions := browser.NewSessionManager(cfg.Browser, logger.Named("browser"))
	if err := sessions.Start(ctx); err != nil {
		return fmt.Errorf("initialize browser: %w", err)
	}
	defer func() {
		if err := sessions.Shutdown(context.Background()); err != nil {
			logger.Warn("browser shutdown", zap.Error(err))
		}
	}()

	page, err := sessions.WatchedPage(ctx)
	if err != nil {
		return fmt.Errorf("select tab: %w", err)
	}

	diagLog := diagnostics.NewLog(cfg.Diagnostics.GetLogLimit())
	surf := surface.NewPage(page, surface.Labels{
		Listen:        cfg.Watcher.ListenLabels,
		Secondary:     cfg.Watcher.SecondaryLabels,
		StopSelectors: cfg.Watcher.StopSelectors,
	}, logger.Named("surface"))

	w := watcher.New(watcher.Options{
		Surface:          surf,
		Timings:          cfg.Watcher.ParsedTimings(),
		Version:          cfg.Server.Version,
		Enabled:          enabled,
		Log:              diagLog,
		Exporter:         diagnostics.NewExporter(cfg.Diagnostics.StatusFile, logger.Named("status")),
		Facts:            engine,
		Reporter:         reporter,
		Breadcrumbs:      cfg.Reporting.Breadcrumbs,
		MutationThrottle: cfg.Watcher.MutationThrottle(),
		Logger:           logger.Named("watcher"),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	// Without mutation events the poll timer still drives the watcher, and
	// without the settings watch the last loaded value stays in force.
	g.Go(bestEffort(gctx, logger, "page observer", func(ctx context.Context) error {
		return surf.Watch(ctx, w.HandleSurfaceEvent)
	}))
	g.Go(bestEffort(gctx, logger, "settings watch", func(ctx context.Context) error {
		return store.Watch(ctx, w.SetEnabled)
	}))

	if cfg.MCP.SSEPort > 0 || cfg.MCP.Stdio {
		server, err := mcpserver.NewServer(cfg, mcpserver.Deps{
			Watcher:  w,
			Settings: store,
			Engine:   engine,
			Log:      diagLog,
			Logger:   logger.Named("mcp"),
		})
		if err != nil {
			return fmt.Errorf("initialize MCP server: %w", err)
		}
		if cfg.MCP.SSEPort > 0 {
			logger.Info("starting MCP SSE server", zap.Int("port", cfg.MCP.SSEPort))
			g.Go(func() error { return ignoreCanceled(server.StartSSE(gctx, cfg.MCP.SSEPort)) })
		}
		if cfg.MCP.Stdio {
			logger.Info("starting MCP stdio server")
			g.Go(func() error { return ignoreCanceled(server.Start(gctx)) })
		}
	}

	err = g.Wait()
	logger.Info("autolisten stopped", zap.Error(err))
	return err
}

// buildReporter assembles the configured sinks behind the rate limiter.
func buildReporter(cfg config.Config, runID string, logger *zap.Logger) (reporting.Sink, func(), error) {
	var sinks reporting.Multi
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn("closing report sink", zap.Error(err))
			}
		}
	}

	if cfg.Reporting.Dir != "" {
		fileSink, err := reporting.NewFileSink(cfg.Reporting.Dir, runID)
		if err != nil {
			return nil, nil, fmt.Errorf("open report dir: %w", err)
		}
		sinks = append(sinks, fileSink)
		closers = append(closers, fileSink)
	}
	if cfg.Reporting.SentryDSN != "" {
		sentry, err := reporting.NewSentrySink(reporting.SentryOptions{
			DSN:         cfg.Reporting.SentryDSN,
			Release:     "autolisten@" + cfg.Server.Version,
			Environment: cfg.Reporting.Environment,
		})
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("configure sentry: %w", err)
		}
		sinks = append(sinks, sentry)
		closers = append(closers, sentry)
	}

	if len(sinks) == 0 {
		return reporting.Nop{}, closeAll, nil
	}
	return reporting.NewLimited(sinks, cfg.Reporting.RatePerMinute, logger), closeAll, nil
}

// bestEffort runs an auxiliary subscription inside the errgroup. Its failure
// is logged and swallowed so the rest of the group keeps running.
func bestEffort(ctx context.Context, logger *zap.Logger, name string, fn func(context.Context) error) func() error {
	return func() error {
		err := ignoreCanceled(fn(ctx))
		if err != nil && ctx.Err() == nil {
			logger.Warn(name+" unavailable, continuing without it", zap.Error(err))
		}
		return nil
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
