package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// BrowserConfig configures the Chrome lifecycle behind rod sessions.
type BrowserConfig struct {
	// Remote is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	Remote string `yaml:"remote"`

	// Headless controls the local launch mode. The portal renders its
	// cascading selects fine headless; headful is for debugging.
	Headless bool `yaml:"headless"`

	// NavTimeout bounds navigation and load waits. Default: 30s.
	NavTimeout time.Duration `yaml:"nav_timeout"`

	// SettleDelay is the pause after a select change, giving the
	// portal's dependent-field refresh time to land. Default: 1s.
	SettleDelay time.Duration `yaml:"settle_delay"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *BrowserConfig) applyDefaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser manages one Chrome instance and hands out portal sessions.
// Sessions borrow the browser; the Browser owns its lifetime.
type Browser struct {
	cfg    BrowserConfig
	mu     sync.Mutex
	b      *rod.Browser
	lnch   *launcher.Launcher
	closed bool
}

// NewBrowser creates a Browser. Call Start before opening sessions.
func NewBrowser(cfg BrowserConfig) *Browser {
	cfg.applyDefaults()
	return &Browser{cfg: cfg}
}

// Start launches Chrome (or connects to a remote instance).
func (br *Browser) Start(ctx context.Context) error {
	br.mu.Lock()
	defer br.mu.Unlock()

	if br.closed {
		return fmt.Errorf("session: browser is closed")
	}

	var wsURL string
	if br.cfg.Remote != "" {
		wsURL = br.cfg.Remote
		br.cfg.Logger.Info("session: connecting to remote browser", "url", wsURL)
	} else {
		l := launcher.New().
			Headless(br.cfg.Headless).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("session: launch browser: %w", err)
		}
		wsURL = u
		br.lnch = l
		br.cfg.Logger.Info("session: launched local browser", "headless", br.cfg.Headless)
	}

	b := rod.New().ControlURL(wsURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("session: connect browser: %w", err)
	}
	br.b = b
	return nil
}

// OpenPortal opens a fresh stealth page and returns a Session bound to
// the given portal markers.
func (br *Browser) OpenPortal(sel Selectors) (Session, error) {
	br.mu.Lock()
	defer br.mu.Unlock()

	if br.b == nil {
		return nil, fmt.Errorf("session: browser not started")
	}

	page, err := stealth.Page(br.b)
	if err != nil {
		return nil, fmt.Errorf("session: open page: %w", err)
	}

	sel.applyDefaults()
	return &portalSession{
		page:   page,
		sel:    sel,
		cfg:    br.cfg,
		logger: br.cfg.Logger,
	}, nil
}

// Close shuts down Chrome.
func (br *Browser) Close() error {
	br.mu.Lock()
	defer br.mu.Unlock()
	br.closed = true
	if br.b != nil {
		br.b.Close()
		br.b = nil
	}
	if br.lnch != nil {
		br.lnch.Cleanup()
		br.lnch = nil
	}
	return nil
}
