// Package browser drives a headless Chrome page via chromedp.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/atlasland/landscraper/internal/scrape"
)

// Config controls browser launch and page interaction behavior.
type Config struct {
	// Proxy is an optional proxy server URL passed to Chrome.
	Proxy     string
	UserAgent string
	// OpTimeout bounds every individual page operation.
	OpTimeout time.Duration
	// SettleDelay is the pause after each mutating interaction, absorbing
	// the portal's own debounced AJAX reactions. It is a racing-avoidance
	// compromise, not a correctness guarantee; flaky selectors are retried
	// by the calling strategy.
	SettleDelay time.Duration
	// PollInterval is the wait-for-selector polling cadence. Target portals
	// fire async AJAX updates with no single completion signal, so the
	// driver polls instead of relying on a DOM-ready event.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.OpTimeout <= 0 {
		c.OpTimeout = 10 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 500 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	return c
}

// Launcher creates browser instances on demand. It implements
// scrape.BrowserLauncher; the worker launches one browser per batch.
type Launcher struct {
	cfg Config
}

// NewLauncher builds a Launcher with the given config.
func NewLauncher(cfg Config) *Launcher {
	return &Launcher{cfg: cfg.withDefaults()}
}

// Launch starts a headless Chrome process and waits for it to come up.
func (l *Launcher) Launch(ctx context.Context) (scrape.Browser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.WindowSize(1920, 1080),
	)
	if l.cfg.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(l.cfg.Proxy))
	}
	if l.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Run with no actions forces the browser process to start now, so a
	// broken Chrome install fails the whole batch up front.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, &scrape.BrowserError{Op: "launch", Err: err}
	}

	return &Browser{
		cfg:         l.cfg,
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
	}, nil
}

// Browser owns one launched Chrome process.
type Browser struct {
	cfg         Config
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

// NewPage opens a fresh tab.
func (b *Browser) NewPage(ctx context.Context) (scrape.Page, error) {
	pageCtx, cancel := chromedp.NewContext(b.ctx)
	if err := chromedp.Run(pageCtx); err != nil {
		cancel()
		return nil, &scrape.BrowserError{Op: "new page", Err: err}
	}
	return &Page{cfg: b.cfg, ctx: pageCtx, cancel: cancel}, nil
}

// Close tears down the browser process and its allocator.
func (b *Browser) Close() {
	b.cancel()
	b.allocCancel()
}

// Page implements scrape.Page on a chromedp tab.
type Page struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
}

// Close releases the tab.
func (p *Page) Close() {
	p.cancel()
}

// run executes chromedp actions against the page, honoring both the caller's
// context and the page's lifetime, bounded by the op timeout.
func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads a URL and gives the page a moment to settle.
func (p *Page) Navigate(ctx context.Context, url string) error {
	err := p.run(ctx, p.cfg.OpTimeout,
		chromedp.Navigate(url),
		chromedp.Sleep(p.cfg.SettleDelay),
	)
	if err != nil {
		return &scrape.BrowserError{Op: "navigate", Selector: url, Err: err}
	}
	return nil
}

// WaitForSelector polls until the selector matches an element or the timeout
// elapses.
func (p *Page) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	js := fmt.Sprintf("document.querySelector(%q) !== null", selector)
	for {
		var present bool
		if err := p.run(ctx, p.cfg.OpTimeout, chromedp.Evaluate(js, &present)); err != nil {
			return &scrape.BrowserError{Op: "wait", Selector: selector, Err: err}
		}
		if present {
			return nil
		}
		if time.Now().After(deadline) {
			return &scrape.BrowserError{
				Op:       "wait",
				Selector: selector,
				Err:      fmt.Errorf("timeout after %s", timeout),
			}
		}
		select {
		case <-ctx.Done():
			return &scrape.BrowserError{Op: "wait", Selector: selector, Err: ctx.Err()}
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// SelectOption sets a dropdown value and fires a change event, since portal
// cascades listen for it to load dependent dropdowns.
func (p *Page) SelectOption(ctx context.Context, selector, value string) error {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) { return false; }
		el.value = %q;
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	})()`, selector, value)

	var ok bool
	if err := p.run(ctx, p.cfg.OpTimeout, chromedp.Evaluate(js, &ok)); err != nil {
		return &scrape.BrowserError{Op: "select", Selector: selector, Err: err}
	}
	if !ok {
		return &scrape.BrowserError{
			Op:       "select",
			Selector: selector,
			Err:      fmt.Errorf("element not found"),
		}
	}
	return p.settle(ctx)
}

// TypeText clicks the input and types the text.
func (p *Page) TypeText(ctx context.Context, selector, text string) error {
	err := p.run(ctx, p.cfg.OpTimeout,
		chromedp.Click(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
	if err != nil {
		return &scrape.BrowserError{Op: "type", Selector: selector, Err: err}
	}
	return nil
}

// Click clicks an element and waits for the settle delay.
func (p *Page) Click(ctx context.Context, selector string) error {
	if err := p.run(ctx, p.cfg.OpTimeout, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return &scrape.BrowserError{Op: "click", Selector: selector, Err: err}
	}
	return p.settle(ctx)
}

// HTML returns the full rendered document markup.
func (p *Page) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, p.cfg.OpTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", &scrape.BrowserError{Op: "html", Err: err}
	}
	return html, nil
}

// Screenshot captures the viewport, or the full page when fullPage is set.
func (p *Page) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	var buf []byte
	var action chromedp.Action
	if fullPage {
		action = chromedp.FullScreenshot(&buf, 90)
	} else {
		action = chromedp.CaptureScreenshot(&buf)
	}
	if err := p.run(ctx, p.cfg.OpTimeout, action); err != nil {
		return nil, &scrape.BrowserError{Op: "screenshot", Err: err}
	}
	return buf, nil
}

// ElementScreenshot captures a single element, used for captcha images.
func (p *Page) ElementScreenshot(ctx context.Context, selector string) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, p.cfg.OpTimeout,
		chromedp.Screenshot(selector, &buf, chromedp.NodeVisible, chromedp.ByQuery),
	)
	if err != nil {
		return nil, &scrape.BrowserError{Op: "element screenshot", Selector: selector, Err: err}
	}
	return buf, nil
}

func (p *Page) settle(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return &scrape.BrowserError{Op: "settle", Err: ctx.Err()}
	case <-time.After(p.cfg.SettleDelay):
		return nil
	}
}
