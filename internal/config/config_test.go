package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Name != "autolisten" {
		t.Errorf("expected server name 'autolisten', got %q", cfg.Server.Name)
	}
	if cfg.Browser.DebuggerURL != "ws://localhost:9222" {
		t.Errorf("expected debugger URL 'ws://localhost:9222', got %q", cfg.Browser.DebuggerURL)
	}
	if cfg.Browser.IsHeadless() {
		t.Error("expected launched browser to be headed by default")
	}
	if len(cfg.Watcher.ListenLabels) != 3 {
		t.Errorf("expected 3 listen labels, got %v", cfg.Watcher.ListenLabels)
	}
	if cfg.Watcher.MaxIncrease != 3 {
		t.Errorf("expected max increase 3, got %d", cfg.Watcher.MaxIncrease)
	}
	if cfg.Diagnostics.LogLimit != 100 {
		t.Errorf("expected log limit 100, got %d", cfg.Diagnostics.LogLimit)
	}
	if !cfg.Mangle.Enable {
		t.Error("expected Mangle.Enable to be true")
	}
	if cfg.Mangle.FactBufferLimit != 2048 {
		t.Errorf("expected fact buffer limit 2048, got %d", cfg.Mangle.FactBufferLimit)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for empty path")
	}
	if err.Error() != "config path is required" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for non-existent file")
	}
}

func TestLoadValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  name: "test-watcher"
  version: "1.0.0"

browser:
  debugger_url: "ws://127.0.0.1:9333"
  stealth: true

watcher:
  stable_duration: "2s"
  grace_period: "10s"
  listen_labels:
    - "Vorlesen"

mangle:
  fact_buffer_limit: 500
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Name != "test-watcher" {
		t.Errorf("expected server name 'test-watcher', got %q", cfg.Server.Name)
	}
	if cfg.Browser.DebuggerURL != "ws://127.0.0.1:9333" {
		t.Errorf("unexpected debugger URL %q", cfg.Browser.DebuggerURL)
	}
	if !cfg.Browser.Stealth {
		t.Error("expected stealth to be enabled")
	}
	if len(cfg.Watcher.ListenLabels) != 1 || cfg.Watcher.ListenLabels[0] != "Vorlesen" {
		t.Errorf("expected listen labels to be replaced, got %v", cfg.Watcher.ListenLabels)
	}
	if cfg.Mangle.FactBufferLimit != 500 {
		t.Errorf("expected fact buffer limit 500, got %d", cfg.Mangle.FactBufferLimit)
	}

	timings := cfg.Watcher.ParsedTimings()
	if timings.StableDuration != 2*time.Second {
		t.Errorf("expected stable duration 2s, got %v", timings.StableDuration)
	}
	if timings.GracePeriod != 10*time.Second {
		t.Errorf("expected grace period 10s, got %v", timings.GracePeriod)
	}
	// Untouched values keep their defaults
	if timings.PollInterval != time.Second {
		t.Errorf("expected default poll interval, got %v", timings.PollInterval)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("invalid: yaml: content:"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	valid := DefaultConfig()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "defaults",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "empty server name",
			mutate:  func(c *Config) { c.Server.Name = "" },
			wantErr: true,
			errMsg:  "server.name is required",
		},
		{
			name: "no debugger_url or launch",
			mutate: func(c *Config) {
				c.Browser.DebuggerURL = ""
				c.Browser.Launch = nil
			},
			wantErr: true,
			errMsg:  "browser.debugger_url or browser.launch must be provided",
		},
		{
			name: "launch without debugger_url",
			mutate: func(c *Config) {
				c.Browser.DebuggerURL = ""
				c.Browser.Launch = []string{"chromium"}
			},
			wantErr: false,
		},
		{
			name:    "no listen labels",
			mutate:  func(c *Config) { c.Watcher.ListenLabels = nil },
			wantErr: true,
			errMsg:  "watcher.listen_labels must not be empty",
		},
		{
			name:    "no settings path",
			mutate:  func(c *Config) { c.Settings.Path = "" },
			wantErr: true,
			errMsg:  "settings.path is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			cfg.Watcher.ListenLabels = append([]string(nil), valid.Watcher.ListenLabels...)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Error("expected error but got nil")
				} else if err.Error() != tt.errMsg {
					t.Errorf("expected error %q, got %q", tt.errMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestParsedTimingsFallbacks(t *testing.T) {
	w := WatcherConfig{
		PollInterval:   "not-a-duration",
		StableDuration: "-5s",
		MaxIncrease:    0,
	}
	timings := w.ParsedTimings()

	if timings.PollInterval != time.Second {
		t.Errorf("expected fallback poll interval 1s, got %v", timings.PollInterval)
	}
	if timings.StableDuration != 1500*time.Millisecond {
		t.Errorf("expected fallback stable duration 1.5s, got %v", timings.StableDuration)
	}
	if timings.MaxIncrease != 3 {
		t.Errorf("expected fallback max increase 3, got %d", timings.MaxIncrease)
	}
	if timings.RecheckDelay >= timings.ClickSettle {
		t.Errorf("recheck delay %v should be shorter than click settle %v", timings.RecheckDelay, timings.ClickSettle)
	}
}

func TestBrowserTimeouts(t *testing.T) {
	b := BrowserConfig{}
	if b.NavigationTimeout() != 15*time.Second {
		t.Errorf("expected default navigation timeout 15s, got %v", b.NavigationTimeout())
	}
	if b.AttachTimeout() != 10*time.Second {
		t.Errorf("expected default attach timeout 10s, got %v", b.AttachTimeout())
	}

	b.DefaultAttachTimeout = "3s"
	if b.AttachTimeout() != 3*time.Second {
		t.Errorf("expected attach timeout 3s, got %v", b.AttachTimeout())
	}

	headless := true
	b.Headless = &headless
	if !b.IsHeadless() {
		t.Error("expected explicit headless to be honoured")
	}
}

func TestGetLogLimit(t *testing.T) {
	if (DiagnosticsConfig{}).GetLogLimit() != 100 {
		t.Error("expected default log limit 100")
	}
	if (DiagnosticsConfig{LogLimit: 7}).GetLogLimit() != 7 {
		t.Error("expected configured log limit 7")
	}
}

func TestMutationThrottle(t *testing.T) {
	if (WatcherConfig{}).MutationThrottle() != 0 {
		t.Error("expected no throttle by default")
	}
	if got := (WatcherConfig{MutationThrottleMs: 100}).MutationThrottle(); got != 100*time.Millisecond {
		t.Errorf("expected 100ms, got %v", got)
	}
}
