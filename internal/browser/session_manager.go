// Package browser connects to the Chrome instance hosting the watched chat
// and picks the tab to watch.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"autolisten/internal/config"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by page operations before Start succeeds.
var ErrNotConnected = errors.New("browser not connected")

// Session describes the watched tab.
type Session struct {
	ID        string    `json:"id"`
	TargetID  string    `json:"target_id,omitempty"`
	URL       string    `json:"url,omitempty"`
	Title     string    `json:"title,omitempty"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionManager owns the Chrome connection and the watched page.
type SessionManager struct {
	cfg        config.BrowserConfig
	logger     *zap.Logger
	mu         sync.RWMutex
	browser    *rod.Browser
	controlURL string
	launched   bool
	page       *rod.Page
	session    Session
}

func NewSessionManager(cfg config.BrowserConfig, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{cfg: cfg, logger: logger}
}

// Start connects to an existing Chrome or launches a new one using Rod's launcher.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		m.logger.Warn("stale browser connection detected, reconnecting")
		_ = m.browser.Close()
		m.browser = nil
		m.controlURL = ""
		m.page = nil
	}

	controlURL := m.cfg.DebuggerURL
	launched := false
	if controlURL == "" {
		url, err := m.launch()
		if err != nil {
			return err
		}
		controlURL = url
		launched = true
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = browser
	m.controlURL = controlURL
	m.launched = launched
	m.logger.Info("browser connected", zap.String("control_url", controlURL), zap.Bool("launched", launched))
	return nil
}

func (m *SessionManager) launch() (string, error) {
	bin := ""
	var extra []string
	if len(m.cfg.Launch) > 0 {
		bin = m.cfg.Launch[0]
		extra = m.cfg.Launch[1:]
	}

	l := m.newLauncher(bin)
	for name, val := range parseLaunchFlags(extra) {
		if val == "" {
			l = l.Set(flags.Flag(name))
		} else {
			l = l.Set(flags.Flag(name), val)
		}
	}
	url, err := l.Launch()
	if err == nil {
		return url, nil
	}

	// Fallback: let Rod pick the port and defaults.
	alt, altErr := m.newLauncher(bin).Launch()
	if altErr != nil {
		return "", fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
	}
	return alt, nil
}

func (m *SessionManager) newLauncher(bin string) *launcher.Launcher {
	l := launcher.New().Headless(m.cfg.IsHeadless()).Leakless(false)
	if bin != "" {
		l = l.Bin(bin)
	}
	if m.cfg.UserDataDir != "" {
		l = l.UserDataDir(m.cfg.UserDataDir)
	}
	return l
}

// ControlURL returns the WebSocket debugger URL for the connected browser.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected returns whether the browser is currently connected.
func (m *SessionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Session returns the watched tab metadata.
func (m *SessionManager) Session() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session, m.page != nil
}

// WatchedPage returns the tab to watch: the first non-internal tab whose URL
// starts with TargetURLPrefix, or a new tab at StartURL.
func (m *SessionManager) WatchedPage(ctx context.Context) (*rod.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser == nil {
		return nil, ErrNotConnected
	}
	if m.page != nil {
		return m.page, nil
	}

	pages, err := m.browser.Context(ctx).Pages()
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}

	status := "attached"
	var page *rod.Page
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		if matchesTarget(info.URL, m.cfg.TargetURLPrefix) {
			page = p
			break
		}
	}

	if page == nil {
		start := coalesceNonEmpty(m.cfg.StartURL, m.cfg.TargetURLPrefix)
		if start == "" {
			return nil, errors.New("no matching tab and no start_url configured")
		}
		page, err = m.openPage(start)
		if err != nil {
			return nil, err
		}
		status = "created"
	}

	page = page.Context(ctx)
	if _, err := page.Activate(); err != nil {
		m.logger.Debug("activate page failed", zap.Error(err))
	}

	meta := Session{
		ID:        uuid.NewString(),
		TargetID:  string(page.TargetID),
		Status:    status,
		CreatedAt: time.Now(),
	}
	if info, err := page.Info(); err == nil {
		meta.URL = info.URL
		meta.Title = info.Title
	}

	m.page = page
	m.session = meta
	m.logger.Info("watching tab",
		zap.String("session_id", meta.ID),
		zap.String("target_id", meta.TargetID),
		zap.String("url", meta.URL),
		zap.String("status", status))
	return page, nil
}

func (m *SessionManager) openPage(url string) (*rod.Page, error) {
	var page *rod.Page
	var err error
	if m.cfg.Stealth {
		page, err = stealth.Page(m.browser)
	} else {
		page, err = m.browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	nav := page.Timeout(m.cfg.NavigationTimeout())
	if err := nav.Navigate(url); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	// Best-effort load; the watcher tolerates a page that is still rendering.
	_ = nav.WaitLoad()
	return page, nil
}

// Forget drops the cached page so the next WatchedPage call selects again.
func (m *SessionManager) Forget() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.page = nil
	m.session = Session{}
}

// Shutdown releases the connection. A browser we launched is closed; an
// attached one is left running.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.page = nil
	m.session = Session{}

	var err error
	if m.browser != nil && m.launched {
		err = m.browser.Close()
	}
	m.browser = nil
	m.controlURL = ""
	m.launched = false
	m.logger.Info("browser shutdown complete")
	return err
}

// parseLaunchFlags turns "--name=value" and "--name" into a flag map.
func parseLaunchFlags(raw []string) map[string]string {
	out := make(map[string]string, len(raw))
	for _, rawFlag := range raw {
		flagStr := strings.TrimLeft(strings.TrimSpace(rawFlag), "-")
		if flagStr == "" {
			continue
		}
		name, val, _ := strings.Cut(flagStr, "=")
		out[name] = val
	}
	return out
}

func matchesTarget(url, prefix string) bool {
	if url == "" || isInternalURL(url) {
		return false
	}
	return prefix == "" || strings.HasPrefix(url, prefix)
}

func coalesceNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// isInternalURL returns true for browser-internal pages that never host the chat.
func isInternalURL(url string) bool {
	internalPrefixes := []string{
		"chrome://",
		"chrome-extension://",
		"devtools://",
		"about:",
		"data:",
		"blob:",
	}
	for _, prefix := range internalPrefixes {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}
