// Package browser provides chromedp-backed implementations of the capture
// boundary capabilities over a headless Chrome tab.
package browser

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"pkt.systems/pslog"
)

// Config controls the browser allocator and tab behavior.
type Config struct {
	// ExecPath points at the Chrome binary. Empty lets chromedp find one.
	ExecPath string
	Headless bool
	// WindowWidth and WindowHeight fix the viewport the capture loop
	// slices by.
	WindowWidth  int
	WindowHeight int
	// NavigateTimeout bounds page load when opening a tab.
	NavigateTimeout time.Duration
}

// NormalizeConfig applies defaults and validates the browser config.
func NormalizeConfig(cfg Config) (Config, error) {
	if cfg.WindowWidth < 0 || cfg.WindowHeight < 0 {
		return Config{}, errors.New("window size must not be negative")
	}
	if cfg.WindowWidth == 0 {
		cfg.WindowWidth = 1280
	}
	if cfg.WindowHeight == 0 {
		cfg.WindowHeight = 800
	}
	if cfg.NavigateTimeout <= 0 {
		cfg.NavigateTimeout = 30 * time.Second
	}
	return cfg, nil
}

// Browser owns a Chrome exec allocator. Tabs opened from it share the one
// browser process.
type Browser struct {
	cfg      Config
	allocCtx context.Context
	cancel   context.CancelFunc
	logger   pslog.Logger
}

// New starts an exec allocator with the given config.
func New(ctx context.Context, cfg Config) (*Browser, error) {
	if ctx == nil {
		return nil, errors.New("missing context")
	}
	normalized, err := NormalizeConfig(cfg)
	if err != nil {
		return nil, err
	}
	cfg = normalized
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	return &Browser{
		cfg:      cfg,
		allocCtx: allocCtx,
		cancel:   cancel,
		logger:   pslog.Ctx(ctx),
	}, nil
}

// Close tears down the allocator and every tab opened from it.
func (b *Browser) Close() {
	b.cancel()
}

// Tab is one open page. It is the concrete Surface handle the capture
// capabilities operate on.
type Tab struct {
	ctx    context.Context
	cancel context.CancelFunc
	url    string
}

// OpenTab navigates a fresh tab to the URL and waits for the document to
// be ready.
func (b *Browser) OpenTab(ctx context.Context, url string) (*Tab, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("missing url")
	}
	timeout := b.cfg.NavigateTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	// The tab context derives from the allocator, not the caller: the tab
	// outlives the call that opened it.
	tabCtx, cancel := chromedp.NewContext(b.allocCtx)
	navCtx, navCancel := context.WithTimeout(tabCtx, timeout)
	defer navCancel()
	b.logger.Debug("opening tab", "url", url)
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		cancel()
		return nil, err
	}
	return &Tab{ctx: tabCtx, cancel: cancel, url: url}, nil
}

// URL returns the address the tab was opened at.
func (t *Tab) URL() string { return t.url }

// Close closes the tab.
func (t *Tab) Close() { t.cancel() }

// runContext derives a context for chromedp actions on this tab, carrying
// the caller's deadline. Caller cancellation is checked by the
// orchestrator between steps, so only the deadline is forwarded here.
func (t *Tab) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(t.ctx, deadline)
	}
	return context.WithCancel(t.ctx)
}
