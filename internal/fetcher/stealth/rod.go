// Package stealth is a go-rod backend whose tabs are patched by go-rod/stealth
// to hide the usual headless-automation fingerprints.
package stealth

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/JakeFAU/wiki-crawler/internal/crawler"
)

const (
	defaultViewportWidth  = 1920
	defaultViewportHeight = 1080
	navigationPoll        = 250 * time.Millisecond

	domReadyJS = `() => document.readyState !== "loading"`
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

// Session owns the launched Chrome and the rod connection to it.
type Session struct {
	cfg     Config
	lnch    *launcher.Launcher
	browser *rod.Browser

	mu     sync.Mutex
	closed bool
}

// NewSession launches Chrome and connects to it.
func NewSession(ctx context.Context, cfg Config) (*Session, error) {
	l := newLauncher(cfg).Context(ctx)
	wsURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("stealth: launch: %w", err)
	}
	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("stealth: connect: %w", err)
	}
	return &Session{cfg: cfg, lnch: l, browser: b}, nil
}

func newLauncher(cfg Config) *launcher.Launcher {
	width, height := cfg.viewport()
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(true).
		Set("disable-setuid-sandbox").
		Set("disable-infobars").
		Set("disable-blink-features", "AutomationControlled").
		Set("window-size", strconv.Itoa(width)+","+strconv.Itoa(height))
	if cfg.ExecPath != "" {
		l = l.Bin(cfg.ExecPath)
	}
	return l
}

// NewPage opens a stealth-patched tab.
func (s *Session) NewPage(ctx context.Context) (crawler.Page, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, crawler.ErrSessionClosed
	}

	page, err := stealth.Page(s.browser.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("stealth: create tab: %w", err)
	}
	// Detach from the opening context; per-call contexts are applied later.
	pageCtx, stop := context.WithCancel(context.Background())
	page = page.Context(pageCtx)
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		stop()
		_ = page.Close()
		return nil, fmt.Errorf("stealth: enable network: %w", err)
	}
	if err := (proto.PageSetLifecycleEventsEnabled{Enabled: true}).Call(page); err != nil {
		stop()
		_ = page.Close()
		return nil, fmt.Errorf("stealth: enable lifecycle events: %w", err)
	}

	p := newPage(page, s.cfg, stop)
	go page.EachEvent(
		func(e *proto.NetworkResponseReceived) {
			p.observeResponse(e)
		},
		func(e *proto.PageLifecycleEvent) {
			p.observeLifecycle(e)
		},
	)()
	return p, nil
}

// Close disconnects and kills the browser.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.browser.Close()
	s.lnch.Kill()
	if err != nil {
		return fmt.Errorf("stealth: close browser: %w", err)
	}
	return nil
}

// Page is one rod tab.
type Page struct {
	page *rod.Page
	cfg  Config

	stop func()

	root proto.PageFrameID

	mu        sync.Mutex
	status    int
	documents atomic.Int64
	domReady  atomic.Int64
	ready     chan struct{}

	requestURL string
	lastTitle  string
	lastURL    string
}

func newPage(page *rod.Page, cfg Config, stop func()) *Page {
	p := &Page{page: page, cfg: cfg, stop: stop, ready: make(chan struct{}, 1)}
	if page != nil {
		p.root = page.FrameID
	}
	return p
}

// Navigate applies the request identity and loads the URL.
func (p *Page) Navigate(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResult, error) {
	p.requestURL = req.URL
	page := p.page.Context(ctx)
	if err := p.applyIdentity(page, req); err != nil {
		return crawler.FetchResult{URL: req.URL}, err
	}
	seen := p.domReady.Load()
	if err := page.Navigate(req.URL); err != nil {
		return crawler.FetchResult{URL: req.URL}, fmt.Errorf("stealth: navigate: %w", err)
	}
	if err := p.waitDOMReady(ctx, seen); err != nil {
		return crawler.FetchResult{URL: req.URL}, err
	}
	return p.describe(page)
}

// AwaitNavigation waits until a new document replaces the current one.
func (p *Page) AwaitNavigation(ctx context.Context) (crawler.FetchResult, error) {
	seen := p.documents.Load()
	ticker := time.NewTicker(navigationPoll)
	defer ticker.Stop()
	page := p.page.Context(ctx)
	for {
		select {
		case <-ctx.Done():
			return crawler.FetchResult{URL: p.requestURL}, fmt.Errorf("stealth: await navigation: %w", ctx.Err())
		case <-ticker.C:
		}
		info, err := page.Info()
		if err != nil {
			if ctx.Err() != nil {
				return crawler.FetchResult{URL: p.requestURL}, fmt.Errorf("stealth: await navigation: %w", ctx.Err())
			}
			continue
		}
		if p.documents.Load() == seen && info.Title == p.lastTitle && info.URL == p.lastURL {
			continue
		}
		if err := page.Wait(rod.Eval(domReadyJS)); err != nil {
			return crawler.FetchResult{URL: p.requestURL}, fmt.Errorf("stealth: wait dom content: %w", err)
		}
		return p.describe(page)
	}
}

// WaitContent blocks until selector matches an element.
func (p *Page) WaitContent(ctx context.Context, selector string) error {
	if _, err := p.page.Context(ctx).Element(selector); err != nil {
		return fmt.Errorf("stealth: wait for %s: %w", selector, err)
	}
	return nil
}

// HTML returns the serialized document.
func (p *Page) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("stealth: html: %w", err)
	}
	return html, nil
}

// Close closes the tab.
func (p *Page) Close() error {
	defer p.stop()
	if err := p.page.Close(); err != nil {
		return fmt.Errorf("stealth: close tab: %w", err)
	}
	return nil
}

func (p *Page) applyIdentity(page *rod.Page, req crawler.FetchRequest) error {
	if req.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      req.UserAgent,
			AcceptLanguage: req.Headers.Get("Accept-Language"),
		}); err != nil {
			return fmt.Errorf("stealth: set user-agent: %w", err)
		}
	}
	if dict := headerDict(req.Headers); len(dict) > 0 {
		if _, err := page.SetExtraHeaders(dict); err != nil {
			return fmt.Errorf("stealth: set extra headers: %w", err)
		}
	}
	width, height := p.cfg.viewport()
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	}); err != nil {
		return fmt.Errorf("stealth: set viewport: %w", err)
	}
	return nil
}

func (p *Page) describe(page *rod.Page) (crawler.FetchResult, error) {
	info, err := page.Info()
	if err != nil {
		return crawler.FetchResult{URL: p.requestURL}, fmt.Errorf("stealth: page info: %w", err)
	}
	p.lastTitle = info.Title
	p.lastURL = info.URL

	p.mu.Lock()
	status := p.status
	p.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	return crawler.FetchResult{
		URL:        p.requestURL,
		FinalURL:   info.URL,
		Title:      info.Title,
		StatusCode: status,
	}, nil
}

func (p *Page) observeResponse(e *proto.NetworkResponseReceived) {
	if e.Type != proto.NetworkResourceTypeDocument || e.Response == nil {
		return
	}
	p.mu.Lock()
	p.status = e.Response.Status
	p.mu.Unlock()
	p.documents.Add(1)
}

// observeLifecycle counts DOMContentLoaded on the tab's root frame; iframes
// are ignored.
func (p *Page) observeLifecycle(e *proto.PageLifecycleEvent) {
	if e.Name != proto.PageLifecycleEventNameDOMContentLoaded || e.FrameID != p.root {
		return
	}
	p.domReady.Add(1)
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

func (p *Page) waitDOMReady(ctx context.Context, seen int64) error {
	for p.domReady.Load() <= seen {
		select {
		case <-ctx.Done():
			return fmt.Errorf("stealth: wait dom content: %w", ctx.Err())
		case <-p.ready:
		}
	}
	return nil
}

// headerDict flattens headers into rod's alternating name/value form, sorted
// for stable ordering.
func headerDict(h http.Header) []string {
	keys := make([]string, 0, len(h))
	for key := range h {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	dict := make([]string, 0, len(keys)*2)
	for _, key := range keys {
		for _, value := range h[key] {
			dict = append(dict, key, value)
		}
	}
	return dict
}
