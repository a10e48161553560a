package crawler

import (
	"context"
	"fmt"
	"time"
)

// Default per-operation timeouts.
const (
	DefaultNavigationTimeout = 60 * time.Second
	DefaultChallengeTimeout  = 300 * time.Second
	DefaultContentTimeout    = 20 * time.Second
	DefaultContentSelector   = "#mw-content-text"
)

// FetchConfig controls PageFetcher timeouts and the content readiness probe.
type FetchConfig struct {
	NavigationTimeout time.Duration
	ChallengeTimeout  time.Duration
	ContentTimeout    time.Duration
	ContentSelector   string
}

func (c FetchConfig) withDefaults() FetchConfig {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = DefaultNavigationTimeout
	}
	if c.ChallengeTimeout <= 0 {
		c.ChallengeTimeout = DefaultChallengeTimeout
	}
	if c.ContentTimeout <= 0 {
		c.ContentTimeout = DefaultContentTimeout
	}
	if c.ContentSelector == "" {
		c.ContentSelector = DefaultContentSelector
	}
	return c
}

// PageFetcher drives a backend Page through navigation, challenge handling and
// content readiness. It is identical for every backend.
type PageFetcher struct {
	cfg      FetchConfig
	detector ChallengeDetector
}

// NewPageFetcher builds a PageFetcher.
func NewPageFetcher(cfg FetchConfig, detector ChallengeDetector) *PageFetcher {
	return &PageFetcher{cfg: cfg.withDefaults(), detector: detector}
}

// Config returns the effective configuration.
func (f *PageFetcher) Config() FetchConfig {
	return f.cfg
}

// Fetch loads req on page and returns once the content container can be
// queried. observe, when non-nil, receives ChallengeCheck and
// ChallengeWaiting transitions. The returned result carries whatever the
// backend last reported even on error.
func (f *PageFetcher) Fetch(
	ctx context.Context,
	page Page,
	req FetchRequest,
	observe func(TaskState),
) (FetchResult, error) {
	if observe == nil {
		observe = func(TaskState) {}
	}

	navCtx, cancel := context.WithTimeout(ctx, f.cfg.NavigationTimeout)
	res, err := page.Navigate(navCtx, req)
	cancel()
	if err != nil {
		return res, f.navigationError(ctx, req.URL, err)
	}

	observe(StateChallengeCheck)
	res = f.detector.Classify(res)
	if res.Challenged() {
		observe(StateChallengeWaiting)
		res, err = f.awaitChallenge(ctx, page, req, res)
		if err != nil {
			return res, err
		}
	}

	contentCtx, cancelContent := context.WithTimeout(ctx, f.cfg.ContentTimeout)
	err = page.WaitContent(contentCtx, f.cfg.ContentSelector)
	cancelContent()
	if err != nil {
		return res, f.navigationError(ctx, req.URL, fmt.Errorf("wait for %s: %w", f.cfg.ContentSelector, err))
	}

	html, err := page.HTML(ctx)
	if err != nil {
		return res, f.navigationError(ctx, req.URL, fmt.Errorf("read document: %w", err))
	}
	res.HTML = html
	return res, nil
}

// Warmup navigates once and waits out any challenge, without requiring the
// content container. It seeds session cookies before the first page.
func (f *PageFetcher) Warmup(ctx context.Context, page Page, req FetchRequest) (FetchResult, error) {
	navCtx, cancel := context.WithTimeout(ctx, f.cfg.NavigationTimeout)
	res, err := page.Navigate(navCtx, req)
	cancel()
	if err != nil {
		return res, f.navigationError(ctx, req.URL, err)
	}
	res = f.detector.Classify(res)
	if !res.Challenged() {
		return res, nil
	}
	return f.awaitChallenge(ctx, page, req, res)
}

func (f *PageFetcher) awaitChallenge(
	ctx context.Context,
	page Page,
	req FetchRequest,
	last FetchResult,
) (FetchResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, f.cfg.ChallengeTimeout)
	defer cancel()

	for {
		next, err := page.AwaitNavigation(waitCtx)
		if err != nil {
			if ctx.Err() != nil {
				return last, fmt.Errorf("await challenge: %w", ctx.Err())
			}
			return last, &ChallengeTimeoutError{URL: req.URL, Timeout: f.cfg.ChallengeTimeout, Err: err}
		}
		next = f.detector.Classify(next)
		if !next.Challenged() {
			return next, nil
		}
		last = next
		if waitCtx.Err() != nil {
			if ctx.Err() != nil {
				return last, fmt.Errorf("await challenge: %w", ctx.Err())
			}
			return last, &ChallengeTimeoutError{URL: req.URL, Timeout: f.cfg.ChallengeTimeout}
		}
	}
}

// navigationError wraps err unless the parent context was canceled, in which
// case the cancellation is surfaced so the task is abandoned rather than failed.
func (f *PageFetcher) navigationError(ctx context.Context, url string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("navigate %s: %w", url, ctxErr)
	}
	return &NavigationError{URL: url, Err: err}
}
