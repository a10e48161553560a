package crawler

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	recordContentType   = "application/json"
	snapshotContentType = "text/html; charset=utf-8"
	captureTimeout      = 10 * time.Second
)

// Task runs one page identifier through fetch, extraction and persistence.
// A Task is reusable across pages but never runs two pages at once.
type Task struct {
	session   Session
	fetcher   *PageFetcher
	extractor Extractor
	records   BlobStore
	snapshots BlobStore
	retry     RetryPolicy
	hasher    Hasher
	clock     Clock
	profile   RequestProfile
	pauser    pauseController
	logger    *zap.Logger
}

// NewTask constructs a Task. retry may be nil to disable retries and hasher
// may be nil to skip record digests.
func NewTask(
	session Session,
	fetcher *PageFetcher,
	extractor Extractor,
	records BlobStore,
	snapshots BlobStore,
	retry RetryPolicy,
	hasher Hasher,
	clock Clock,
	profile RequestProfile,
	logger *zap.Logger,
) *Task {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Task{
		session:   session,
		fetcher:   fetcher,
		extractor: extractor,
		records:   records,
		snapshots: snapshots,
		retry:     retry,
		hasher:    hasher,
		clock:     clock,
		profile:   profile,
		pauser:    &timerPauseController{},
		logger:    logger,
	}
}

// Run processes id and reports how it ended. Exactly one artifact is written
// for a page that reaches a terminal state: the JSON record on success or the
// HTML snapshot on failure. Canceled pages write nothing.
func (t *Task) Run(ctx context.Context, baseURL, id string, onChallenge func()) (out Outcome) {
	start := t.clock.Now()
	out = Outcome{PageID: id, URL: TargetURL(baseURL, id), State: StateStart}
	logger := t.logger.With(zap.String("page", id), zap.String("url", out.URL))
	defer func() {
		out.Duration = t.clock.Now().Sub(start)
	}()

	for attempt := 0; ; attempt++ {
		out.Attempts = attempt + 1
		page, res, err := t.attempt(ctx, baseURL, id, &out, logger, onChallenge)
		if err == nil {
			closePage(page, logger)
			out.Status = OutcomeSucceeded
			logger.Info("page persisted",
				zap.String("artifact", out.Artifact),
				zap.String("checksum", out.Checksum),
				zap.Int("attempt", out.Attempts),
			)
			return out
		}
		if ctx.Err() != nil {
			closePage(page, logger)
			out.Status = OutcomeCanceled
			out.Err = err
			logger.Info("page abandoned", zap.String("state", string(out.State)))
			return out
		}
		if t.retry != nil && t.retry.ShouldRetry(err, attempt) {
			closePage(page, logger)
			delay := t.retry.Backoff(attempt)
			logger.Warn("retrying page",
				zap.Int("attempt", out.Attempts),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
			t.pauser.Pause(ctx, delay)
			if ctx.Err() != nil {
				out.Status = OutcomeCanceled
				out.Err = ctx.Err()
				return out
			}
			continue
		}

		failedIn := out.State
		t.transition(&out, logger, StateFailed)
		out.Status = OutcomeFailed
		out.Err = err
		out.Artifact, out.Bytes = t.capture(ctx, page, res, id, err, logger)
		closePage(page, logger)
		logger.Error("page failed",
			zap.String("state", string(failedIn)),
			zap.Int("attempt", out.Attempts),
			zap.String("artifact", out.Artifact),
			zap.Error(err),
		)
		return out
	}
}

// attempt performs one pass over a fresh Page. The page is returned open so
// the caller can capture it on failure.
// Warmup visits target on a fresh page with the task's request identity and
// waits out any challenge there. Nothing is extracted or persisted.
func (t *Task) Warmup(ctx context.Context, target string) error {
	page, err := t.session.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	defer closePage(page, t.logger)

	req := t.profile.Request("", "")
	req.URL = target
	if _, err := t.fetcher.Warmup(ctx, page, req); err != nil {
		return err
	}
	return nil
}

func (t *Task) attempt(
	ctx context.Context,
	baseURL, id string,
	out *Outcome,
	logger *zap.Logger,
	onChallenge func(),
) (Page, FetchResult, error) {
	t.transition(out, logger, StateFetching)
	req := t.profile.Request(baseURL, id)

	page, err := t.session.NewPage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, FetchResult{}, fmt.Errorf("open page: %w", ctx.Err())
		}
		return nil, FetchResult{}, &NavigationError{URL: req.URL, Err: fmt.Errorf("open page: %w", err)}
	}

	res, err := t.fetcher.Fetch(ctx, page, req, func(state TaskState) {
		t.transition(out, logger, state)
		if state == StateChallengeWaiting {
			logger.Info("challenge detected, waiting for clearance")
			if onChallenge != nil {
				onChallenge()
			}
		}
	})
	if err != nil {
		return page, res, err
	}

	t.transition(out, logger, StateExtracting)
	record := t.extractor.Extract(res.HTML)
	data, err := EncodeRecord(record)
	if err != nil {
		return page, res, fmt.Errorf("encode record: %w", err)
	}
	uri, err := t.records.PutObject(ctx, recordPath(id), recordContentType, bytes.NewReader(data))
	if err != nil {
		return page, res, fmt.Errorf("write record: %w", err)
	}
	out.Artifact = uri
	out.Bytes = int64(len(data))
	out.Checksum = t.checksum(data, logger)
	t.transition(out, logger, StatePersisted)
	return page, res, nil
}

// capture writes the diagnostic snapshot for a failed page.
func (t *Task) capture(
	ctx context.Context,
	page Page,
	res FetchResult,
	id string,
	cause error,
	logger *zap.Logger,
) (string, int64) {
	html := ""
	if page != nil {
		captureCtx, cancel := context.WithTimeout(ctx, captureTimeout)
		live, err := page.HTML(captureCtx)
		cancel()
		if err != nil {
			logger.Warn("snapshot capture failed", zap.Error(err))
		} else {
			html = live
		}
	}
	if strings.TrimSpace(html) == "" {
		html = res.HTML
	}
	if strings.TrimSpace(html) == "" {
		html = placeholderSnapshot(cause)
	}
	uri, err := t.snapshots.PutObject(ctx, snapshotPath(id), snapshotContentType, strings.NewReader(html))
	if err != nil {
		logger.Error("snapshot write failed", zap.Error(err))
		return "", 0
	}
	return uri, int64(len(html))
}

func (t *Task) checksum(data []byte, logger *zap.Logger) string {
	if t.hasher == nil {
		return ""
	}
	sum, err := t.hasher.Hash(data)
	if err != nil {
		logger.Warn("record checksum failed", zap.Error(err))
		return ""
	}
	return sum
}

func (t *Task) transition(out *Outcome, logger *zap.Logger, next TaskState) {
	logger.Debug("state transition",
		zap.String("from", string(out.State)),
		zap.String("to", string(next)),
		zap.Int("attempt", out.Attempts),
	)
	out.State = next
}

// placeholderSnapshot stands in when no document could be read.
func placeholderSnapshot(cause error) string {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	// A comment body may not contain "--".
	for strings.Contains(msg, "--") {
		msg = strings.ReplaceAll(msg, "--", "- -")
	}
	return fmt.Sprintf("<!-- page unavailable: %s -->", msg)
}

func closePage(page Page, logger *zap.Logger) {
	if page == nil {
		return
	}
	if err := page.Close(); err != nil {
		logger.Debug("page close failed", zap.Error(err))
	}
}
