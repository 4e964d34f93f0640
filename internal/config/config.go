package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level autolisten config.
	WorkspaceDirName = ".autolisten"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the autolisten watcher.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Browser     BrowserConfig     `yaml:"browser"`
	Watcher     WatcherConfig     `yaml:"watcher"`
	Settings    SettingsConfig    `yaml:"settings"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Mangle      MangleConfig      `yaml:"mangle"`
	MCP         MCPConfig         `yaml:"mcp"`
	Reporting   ReportingConfig   `yaml:"reporting"`
	Logger      LoggerConfig      `yaml:"logger"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command (binary followed by flags). An empty binary lets Rod pick one.
	Launch []string `yaml:"launch"`
	// Headless controls whether a launched Chrome runs headless (default: false, the
	// watched chat needs a signed-in, visible window).
	Headless *bool `yaml:"headless"`
	// Stealth opens new pages through go-rod/stealth.
	Stealth bool `yaml:"stealth"`
	// UserDataDir keeps the signed-in profile between runs in launch mode.
	UserDataDir string `yaml:"user_data_dir"`
	// StartURL is opened when no existing tab matches TargetURLPrefix.
	StartURL string `yaml:"start_url"`
	// TargetURLPrefix selects which existing tab to watch.
	TargetURLPrefix string `yaml:"target_url_prefix"`
	// Default timeout when attaching to an existing target (e.g., "10s").
	DefaultAttachTimeout string `yaml:"default_attach_timeout"`
	// Default navigation timeout (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
}

// WatcherConfig holds the detector timings and the label lookup tables.
type WatcherConfig struct {
	PollInterval         string `yaml:"poll_interval"`
	SessionCheckInterval string `yaml:"session_check_interval"`
	StableDuration       string `yaml:"stable_duration"`
	GracePeriod          string `yaml:"grace_period"`
	ClickSettle          string `yaml:"click_settle"`
	RecheckDelay         string `yaml:"recheck_delay"`
	RecalibrateDelay     string `yaml:"recalibrate_delay"`
	// MutationThrottleMs drops mutation notifications arriving faster than this.
	MutationThrottleMs int `yaml:"mutation_throttle_ms"`
	// MaxIncrease is the largest count jump still treated as one new response.
	MaxIncrease int `yaml:"max_increase"`

	ListenLabels    []string `yaml:"listen_labels"`
	SecondaryLabels []string `yaml:"secondary_labels"`
	StopSelectors   []string `yaml:"stop_selectors"`
}

// SettingsConfig points at the persisted enabled flag.
type SettingsConfig struct {
	Path string `yaml:"path"`
}

// DiagnosticsConfig controls the bounded log and the status export file.
type DiagnosticsConfig struct {
	LogLimit   int    `yaml:"log_limit"`
	StatusFile string `yaml:"status_file"`
}

// MangleConfig controls the embedded fact journal.
type MangleConfig struct {
	Enable          bool   `yaml:"enable"`
	SchemaPath      string `yaml:"schema_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port.
	SSEPort int `yaml:"sse_port"`
	// Stdio serves MCP over stdin/stdout alongside the watcher.
	Stdio bool `yaml:"stdio"`
}

// ReportingConfig selects where unexpected failures are sent.
type ReportingConfig struct {
	// Dir receives JSONL error reports (empty disables the file sink).
	Dir string `yaml:"dir"`
	// SentryDSN enables the envelope sink when set.
	SentryDSN   string `yaml:"sentry_dsn"`
	Environment string `yaml:"environment"`
	// RatePerMinute caps outgoing reports.
	RatePerMinute int `yaml:"rate_per_minute"`
	// Breadcrumbs is how many recent diagnostic entries accompany a report.
	Breadcrumbs int `yaml:"breadcrumbs"`
}

// LoggerConfig configures the zap logger.
type LoggerConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	ServiceName string `yaml:"service_name"`
	LogFile     string `yaml:"log_file"`
	MaxSize     int    `yaml:"max_size"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAge      int    `yaml:"max_age"`
	Compress    bool   `yaml:"compress"`
	AddSource   bool   `yaml:"add_source"`
}

// DefaultConfig provides reasonable defaults for watching Gemini in a local Chrome.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "autolisten",
			Version: "4.6.0",
		},
		Browser: BrowserConfig{
			DebuggerURL:              "ws://localhost:9222",
			StartURL:                 "https://gemini.google.com/app",
			TargetURLPrefix:          "https://gemini.google.com/",
			DefaultAttachTimeout:     "10s",
			DefaultNavigationTimeout: "15s",
		},
		Watcher: WatcherConfig{
			PollInterval:         "1s",
			SessionCheckInterval: "2s",
			StableDuration:       "1500ms",
			GracePeriod:          "5s",
			ClickSettle:          "800ms",
			RecheckDelay:         "400ms",
			RecalibrateDelay:     "1500ms",
			MutationThrottleMs:   100,
			MaxIncrease:          3,
			ListenLabels:         []string{"Écouter", "Listen", "Read aloud"},
			SecondaryLabels:      []string{"Mettre en pause", "Pause", "Arrêter la lecture", "Stop reading"},
			StopSelectors: []string{
				`button[aria-label*="Interrompre"]`,
				`button[aria-label*="Stop"]`,
				`button[aria-label*="Arrêter"]`,
				`[data-testid="stop-button"]`,
			},
		},
		Settings: SettingsConfig{
			Path: "settings.json",
		},
		Diagnostics: DiagnosticsConfig{
			LogLimit:   100,
			StatusFile: "status.json",
		},
		Mangle: MangleConfig{
			Enable:          true,
			FactBufferLimit: 2048,
		},
		MCP: MCPConfig{
			SSEPort: 0,
		},
		Reporting: ReportingConfig{
			Dir:           "reports",
			Environment:   "production",
			RatePerMinute: 6,
			Breadcrumbs:   20,
		},
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			ServiceName: "autolisten",
			LogFile:     "autolisten.log",
			MaxSize:     10,
			MaxBackups:  3,
			MaxAge:      14,
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .autolisten/config.yaml file.
// Returns the workspace root directory (parent of .autolisten/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .autolisten/config.yaml <- explicit --config <- CLI flags
//
// Returns the merged config and the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	return cfg, wsDir, cfg.Validate()
}

// InitWorkspace creates a .autolisten/ directory with a template config at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	if err := os.MkdirAll(filepath.Join(wsDir, "data"), 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", wsDir, err)
	}

	templateConfig := `# autolisten project-level configuration
# Values here override defaults but are overridden by --config and CLI flags.

# browser:
#   debugger_url: "ws://localhost:9222"
#   target_url_prefix: "https://gemini.google.com/"

# watcher:
#   stable_duration: "1500ms"
#   grace_period: "5s"
#   listen_labels: ["Écouter", "Listen", "Read aloud"]

settings:
  path: ".autolisten/data/settings.json"

diagnostics:
  status_file: ".autolisten/data/status.json"

reporting:
  dir: ".autolisten/data/reports"
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0o644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignoreContent := "# Runtime data (settings, status, reports) - do not version control\ndata/\n"
	gitignorePath := filepath.Join(wsDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0o644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, p)
	}

	cfg.Settings.Path = resolve(cfg.Settings.Path)
	cfg.Diagnostics.StatusFile = resolve(cfg.Diagnostics.StatusFile)
	cfg.Reporting.Dir = resolve(cfg.Reporting.Dir)
	cfg.Logger.LogFile = resolve(cfg.Logger.LogFile)
	cfg.Mangle.SchemaPath = resolve(cfg.Mangle.SchemaPath)
	return cfg
}

// Validate ensures required fields exist so the watcher can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Browser.DebuggerURL == "" && len(c.Browser.Launch) == 0 {
		return errors.New("browser.debugger_url or browser.launch must be provided")
	}
	if len(c.Watcher.ListenLabels) == 0 {
		return errors.New("watcher.listen_labels must not be empty")
	}
	if c.Settings.Path == "" {
		return errors.New("settings.path is required")
	}
	return nil
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDurationOr(b.DefaultNavigationTimeout, 15*time.Second)
}

// AttachTimeout returns the parsed attach timeout with a sane default.
func (b BrowserConfig) AttachTimeout() time.Duration {
	return parseDurationOr(b.DefaultAttachTimeout, 10*time.Second)
}

// IsHeadless returns whether a launched Chrome runs headless (default: false).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return false
	}
	return *b.Headless
}

// Timings is the parsed form of the watcher durations.
type Timings struct {
	PollInterval         time.Duration
	SessionCheckInterval time.Duration
	StableDuration       time.Duration
	GracePeriod          time.Duration
	ClickSettle          time.Duration
	RecheckDelay         time.Duration
	RecalibrateDelay     time.Duration
	MaxIncrease          int
}

// ParsedTimings resolves every watcher duration, falling back to defaults on bad input.
func (w WatcherConfig) ParsedTimings() Timings {
	maxIncrease := w.MaxIncrease
	if maxIncrease <= 0 {
		maxIncrease = 3
	}
	return Timings{
		PollInterval:         parseDurationOr(w.PollInterval, time.Second),
		SessionCheckInterval: parseDurationOr(w.SessionCheckInterval, 2*time.Second),
		StableDuration:       parseDurationOr(w.StableDuration, 1500*time.Millisecond),
		GracePeriod:          parseDurationOr(w.GracePeriod, 5*time.Second),
		ClickSettle:          parseDurationOr(w.ClickSettle, 800*time.Millisecond),
		RecheckDelay:         parseDurationOr(w.RecheckDelay, 400*time.Millisecond),
		RecalibrateDelay:     parseDurationOr(w.RecalibrateDelay, 1500*time.Millisecond),
		MaxIncrease:          maxIncrease,
	}
}

// MutationThrottle is the minimum spacing of mutation notifications (0 disables throttling).
func (w WatcherConfig) MutationThrottle() time.Duration {
	if w.MutationThrottleMs <= 0 {
		return 0
	}
	return time.Duration(w.MutationThrottleMs) * time.Millisecond
}

// GetLogLimit returns the diagnostic log bound with a sane default.
func (d DiagnosticsConfig) GetLogLimit() int {
	if d.LogLimit <= 0 {
		return 100
	}
	return d.LogLimit
}
