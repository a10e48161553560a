// Package headless drives a real Chrome through chromedp so that anti-bot
// interstitials can execute their JavaScript and redirect to the article.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/wiki-crawler/internal/crawler"
)

const (
	defaultViewportWidth  = 1920
	defaultViewportHeight = 1080
	navigationPoll        = 250 * time.Millisecond

	// domReadyExpr holds once DOMContentLoaded has fired for the document.
	domReadyExpr = `document.readyState !== "loading"`
)

// Config controls the browser launch.
type Config struct {
	Headless       bool
	ExecPath       string
	ViewportWidth  int
	ViewportHeight int
}

func (c Config) viewport() (int, int) {
	w, h := c.ViewportWidth, c.ViewportHeight
	if w <= 0 {
		w = defaultViewportWidth
	}
	if h <= 0 {
		h = defaultViewportHeight
	}
	return w, h
}

// Session owns one Chrome process; every Page is a tab in it.
type Session struct {
	cfg           Config
	allocCancel   context.CancelFunc
	browser       context.Context
	browserCancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewSession launches Chrome and returns once the browser is reachable.
func NewSession(ctx context.Context, cfg Config) (*Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(browserCtx)
	}()
	select {
	case err := <-started:
		if err != nil {
			browserCancel()
			allocCancel()
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
	case <-ctx.Done():
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("launch chrome: %w", ctx.Err())
	}

	return &Session{
		cfg:           cfg,
		allocCancel:   allocCancel,
		browser:       browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// NewPage opens a fresh tab.
func (s *Session) NewPage(ctx context.Context) (crawler.Page, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, crawler.ErrSessionClosed
	}

	tabCtx, tabCancel := chromedp.NewContext(s.browser)
	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	page := &Page{ctx: tabCtx, cancel: tabCancel, meta: meta, cfg: s.cfg}
	// The first Run attaches the target and binds its lifetime to the context
	// it receives, so it must be the tab context itself.
	opened := make(chan error, 1)
	go func() {
		opened <- chromedp.Run(tabCtx)
	}()
	select {
	case err := <-opened:
		if err != nil {
			tabCancel()
			return nil, fmt.Errorf("open tab: %w", err)
		}
	case <-ctx.Done():
		tabCancel()
		return nil, fmt.Errorf("open tab: %w", ctx.Err())
	}
	return page, nil
}

// Close shuts the browser down.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.browserCancel()
	s.allocCancel()
	return nil
}

// Page is one Chrome tab.
type Page struct {
	ctx    context.Context
	cancel context.CancelFunc
	meta   *responseMeta
	cfg    Config

	requestURL string
	lastTitle  string
	lastURL    string
}

// Navigate applies the request identity to the tab and loads the URL.
func (p *Page) Navigate(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResult, error) {
	p.requestURL = req.URL
	var title, location string
	err := p.run(ctx,
		p.identityAction(req),
		p.navigateAction(req.URL),
		chromedp.Title(&title),
		chromedp.Location(&location),
	)
	if err != nil {
		return crawler.FetchResult{URL: req.URL}, fmt.Errorf("chromedp navigate: %w", err)
	}
	return p.result(title, location), nil
}

// AwaitNavigation waits until the tab has loaded a new document, then reports
// it once its DOM content has loaded.
func (p *Page) AwaitNavigation(ctx context.Context) (crawler.FetchResult, error) {
	seen := p.meta.navigations()
	ticker := time.NewTicker(navigationPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return crawler.FetchResult{URL: p.requestURL}, fmt.Errorf("await navigation: %w", ctx.Err())
		case <-ticker.C:
		}
		var title, location string
		if err := p.run(ctx, chromedp.Title(&title), chromedp.Location(&location)); err != nil {
			if ctx.Err() != nil {
				return crawler.FetchResult{URL: p.requestURL}, fmt.Errorf("await navigation: %w", ctx.Err())
			}
			// The document is being replaced; poll again.
			continue
		}
		if p.meta.navigations() == seen && title == p.lastTitle && location == p.lastURL {
			continue
		}
		ready := chromedp.Poll(domReadyExpr, nil,
			chromedp.WithPollingInterval(navigationPoll),
			chromedp.WithPollingTimeout(0),
		)
		if err := p.run(ctx, ready, chromedp.Title(&title)); err != nil {
			return crawler.FetchResult{URL: p.requestURL}, fmt.Errorf("await navigation: %w", err)
		}
		return p.result(title, location), nil
	}
}

// WaitContent blocks until selector matches a ready node.
func (p *Page) WaitContent(ctx context.Context, selector string) error {
	if err := p.run(ctx, chromedp.WaitReady(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait ready %s: %w", selector, err)
	}
	return nil
}

// HTML returns the serialized document.
func (p *Page) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("outer html: %w", err)
	}
	return html, nil
}

// Close closes the tab.
func (p *Page) Close() error {
	p.cancel()
	return nil
}

// run executes actions in the tab, bounded by ctx's deadline and cancellation.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// navigateAction loads url and returns at DOMContentLoaded rather than at the
// load event, so slow images and ads cannot hold the navigation open.
func (p *Page) navigateAction(url string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		seen := p.meta.domLoads()
		_, _, errText, _, err := cdppage.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errText != "" {
			return fmt.Errorf("page load error %s", errText)
		}
		return p.meta.waitDOMReady(ctx, seen)
	})
}

func (p *Page) identityAction(req crawler.FetchRequest) chromedp.Action {
	width, height := p.cfg.viewport()
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if req.UserAgent != "" {
			override := emulation.SetUserAgentOverride(req.UserAgent)
			if lang := req.Headers.Get("Accept-Language"); lang != "" {
				override = override.WithAcceptLanguage(lang)
			}
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(req.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(req.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		if err := emulation.SetDeviceMetricsOverride(int64(width), int64(height), 1, false).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		return nil
	})
}

func (p *Page) result(title, location string) crawler.FetchResult {
	p.lastTitle = title
	p.lastURL = location
	status, url := p.meta.snapshotWithFallbacks(location)
	return crawler.FetchResult{
		URL:        p.requestURL,
		FinalURL:   url,
		Title:      title,
		StatusCode: status,
	}
}

// allocatorOptions mirrors a regular desktop Chrome as closely as flags allow.
func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	width, height := cfg.viewport()
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range launchFlags(cfg) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	opts = append(opts, chromedp.WindowSize(width, height))
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

func launchFlags(cfg Config) map[string]any {
	flags := map[string]any{
		"no-sandbox":                          true,
		"disable-setuid-sandbox":              true,
		"disable-infobars":                    true,
		"disable-blink-features":              "AutomationControlled",
		"enable-automation":                   false,
		"disable-gpu":                         true,
		"disable-dev-shm-usage":               true,
		"disable-features":                    "Translate,OptimizationHints,MediaRouter",
		"disable-renderer-backgrounding":      true,
		"disable-background-timer-throttling": true,
	}
	if cfg.Headless {
		flags["headless"] = "new"
	} else {
		flags["headless"] = false
	}
	return flags
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
	count  atomic.Int64

	domReady atomic.Int64
	ready    chan struct{}
}

func newResponseMeta() *responseMeta {
	return &responseMeta{ready: make(chan struct{}, 1)}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.mu.Unlock()
	m.count.Add(1)
}

func (m *responseMeta) captureEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		m.capture(e)
	case *cdppage.EventDomContentEventFired:
		m.domReady.Add(1)
		select {
		case m.ready <- struct{}{}:
		default:
		}
	}
}

func (m *responseMeta) domLoads() int64 {
	return m.domReady.Load()
}

// waitDOMReady blocks until a DOMContentLoaded newer than seen has fired.
func (m *responseMeta) waitDOMReady(ctx context.Context, seen int64) error {
	for m.domLoads() <= seen {
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait dom content: %w", ctx.Err())
		case <-m.ready:
		}
	}
	return nil
}

func (m *responseMeta) navigations() int64 {
	return m.count.Load()
}

func (m *responseMeta) snapshotWithFallbacks(location string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()
	if location != "" {
		url = location
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
