// Package collyfetcher implements the crawler session over plain HTTP using
// gocolly. It cannot execute challenge JavaScript; it relies on a clearance
// cookie (configured or set by the site) and re-polls until the interstitial
// is gone.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/wiki-crawler/internal/crawler"
)

const (
	defaultTimeout      = 60 * time.Second
	defaultPollInterval = 5 * time.Second
)

// Config controls collector behavior.
type Config struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

// Session holds the base collector. Clones share its transport and cookie
// jar, so clearance cookies survive across pages.
type Session struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Session.
func New(cfg Config) *Session {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.IgnoreRobotsTxt(),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	return &Session{cfg: cfg, baseCollector: c}
}

// NewPage returns a request context bound to this session.
func (s *Session) NewPage(ctx context.Context) (crawler.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("colly page: %w", err)
	}
	return &Page{session: s}, nil
}

// Close implements crawler.Session; the collector holds no process.
func (s *Session) Close() error {
	return nil
}

// Page remembers the last request and document so it can re-poll.
type Page struct {
	session *Session
	req     crawler.FetchRequest
	body    []byte
	loaded  bool
}

// Navigate performs one GET for req.
func (p *Page) Navigate(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResult, error) {
	p.req = req
	return p.visit(ctx)
}

// AwaitNavigation waits the poll interval and requests the same URL again.
func (p *Page) AwaitNavigation(ctx context.Context) (crawler.FetchResult, error) {
	if !p.loaded {
		return crawler.FetchResult{}, errors.New("colly await: no prior navigation")
	}
	timer := time.NewTimer(p.session.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return crawler.FetchResult{URL: p.req.URL}, fmt.Errorf("colly await: %w", ctx.Err())
	case <-timer.C:
	}
	return p.visit(ctx)
}

// WaitContent checks the loaded document for selector. There is no script
// execution, so the answer cannot change without a new request.
func (p *Page) WaitContent(_ context.Context, selector string) error {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.body))
	if err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	if doc.Find(selector).Length() == 0 {
		return fmt.Errorf("selector %s not present", selector)
	}
	return nil
}

// HTML returns the last response body.
func (p *Page) HTML(context.Context) (string, error) {
	if !p.loaded {
		return "", errors.New("colly html: no document loaded")
	}
	return string(p.body), nil
}

// Close implements crawler.Page.
func (p *Page) Close() error {
	return nil
}

func (p *Page) visit(ctx context.Context) (crawler.FetchResult, error) {
	var (
		result   = crawler.FetchResult{URL: p.req.URL}
		body     []byte
		fetchErr error
	)
	collector := p.session.baseCollector.Clone()
	if p.req.UserAgent != "" {
		collector.UserAgent = p.req.UserAgent
	}
	configureCollectorHooks(collector, p.req, &result, &body, &fetchErr)

	if err := runCollector(ctx, collector, p.req.URL, &fetchErr); err != nil {
		return result, err
	}
	p.body = body
	p.loaded = true
	return result, nil
}

func configureCollectorHooks(
	hooks collectorHooks,
	req crawler.FetchRequest,
	result *crawler.FetchResult,
	body *[]byte,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(req, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*body = append([]byte(nil), r.Body...)
		result.FinalURL = r.Request.URL.String()
		result.StatusCode = r.StatusCode
		result.Title = documentTitle(r.Body)
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func copyHeaders(req crawler.FetchRequest, r *colly.Request) {
	for key, values := range req.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func documentTitle(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
