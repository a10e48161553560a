package crawler

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wiki-crawler/internal/progress"
)

// RunnerConfig controls the crawl loop.
type RunnerConfig struct {
	InterPageDelay time.Duration
	// Warmup navigates to WarmupURL (or the site root of the base URL)
	// before the first page.
	Warmup                  bool
	WarmupURL               string
	AbortOnChallengeTimeout bool
}

// Runner processes page identifiers strictly one at a time, in input order.
type Runner struct {
	cfg     RunnerConfig
	task    *Task
	records BlobStore
	emitter progress.Emitter
	clock   Clock
	ids     IDGenerator
	pauser  pauseController
	logger  *zap.Logger
}

// NewRunner wires a Runner. emitter may be nil.
func NewRunner(
	task *Task,
	records BlobStore,
	emitter progress.Emitter,
	clock Clock,
	ids IDGenerator,
	cfg RunnerConfig,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.InterPageDelay < 0 {
		cfg.InterPageDelay = 0
	}
	return &Runner{
		cfg:     cfg,
		task:    task,
		records: records,
		emitter: emitter,
		clock:   clock,
		ids:     ids,
		pauser:  &timerPauseController{},
		logger:  logger,
	}
}

// Run crawls pages under baseURL. Page failures are counted in the Summary;
// the returned error is non-nil only for a FatalCrawlError. Cancellation stops
// the loop before the next page and is reported through Summary.Canceled.
func (r *Runner) Run(ctx context.Context, baseURL string, pages []string) (Summary, error) {
	start := r.clock.Now()
	runID, err := r.ids.NewID()
	if err != nil {
		return Summary{}, &FatalCrawlError{Reason: "generate run id", Err: err}
	}
	summary := Summary{RunID: runID, Total: len(pages)}
	logger := r.logger.With(zap.String("run_id", runID))
	run := runEmitter{emitter: r.emitter, clock: r.clock, runID: progress.ParseRunID(runID)}

	if preparer, ok := r.records.(Preparer); ok {
		if err := preparer.Prepare(ctx); err != nil {
			return summary, &FatalCrawlError{Reason: "prepare output directory", Err: err}
		}
	}

	finish := func(runErr error) (Summary, error) {
		summary.Duration = r.clock.Now().Sub(start)
		run.emit(progress.Event{Stage: progress.StageRunDone, Dur: summary.Duration, Failed: runErr != nil})
		logger.Info("crawl completed",
			zap.Int("total", summary.Total),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("failed", summary.Failed),
			zap.Bool("canceled", summary.Canceled),
			zap.Duration("duration", summary.Duration),
		)
		return summary, runErr
	}

	run.emit(progress.Event{Stage: progress.StageRunStart})
	logger.Info("crawl started", zap.String("base_url", baseURL), zap.Int("pages", len(pages)))

	if r.cfg.Warmup {
		if err := r.warmup(ctx, baseURL, logger); err != nil {
			if ctx.Err() != nil {
				summary.Canceled = true
				return finish(nil)
			}
			return finish(err)
		}
	}

	for _, id := range pages {
		if ctx.Err() != nil {
			summary.Canceled = true
			break
		}
		target := TargetURL(baseURL, id)
		run.emit(progress.Event{Stage: progress.StagePageStart, PageID: id, URL: target})

		out := r.task.Run(ctx, baseURL, id, func() {
			run.emit(progress.Event{Stage: progress.StagePageChallenge, PageID: id, URL: target})
		})

		switch out.Status {
		case OutcomeSucceeded:
			summary.Succeeded++
			run.emit(progress.Event{
				Stage:  progress.StagePageDone,
				PageID: id,
				URL:    target,
				Bytes:  out.Bytes,
				Dur:    out.Duration,
				Note:   out.Checksum,
			})
		case OutcomeFailed:
			summary.Failed++
			summary.Failures = append(summary.Failures, id)
			run.emit(progress.Event{
				Stage:  progress.StagePageError,
				PageID: id,
				URL:    target,
				Bytes:  out.Bytes,
				Dur:    out.Duration,
				Note:   errorText(out.Err),
			})
			if r.cfg.AbortOnChallengeTimeout && IsChallengeTimeout(out.Err) {
				return finish(&FatalCrawlError{Reason: "challenge did not clear on " + id, Err: out.Err})
			}
		case OutcomeCanceled:
			summary.Canceled = true
		}
		if summary.Canceled {
			break
		}
		r.pauser.Pause(ctx, r.cfg.InterPageDelay)
	}
	if ctx.Err() != nil {
		summary.Canceled = true
	}
	return finish(nil)
}

func (r *Runner) warmup(ctx context.Context, baseURL string, logger *zap.Logger) error {
	target := r.cfg.WarmupURL
	if target == "" {
		target = SiteRoot(baseURL)
	}
	if err := r.task.Warmup(ctx, target); err != nil {
		return &FatalCrawlError{Reason: "warm-up navigation", Err: err}
	}
	logger.Info("warm-up navigation complete", zap.String("url", target))
	return nil
}

// SiteRoot returns scheme://host/ for rawURL, or rawURL unchanged when it
// cannot be parsed.
func SiteRoot(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return rawURL
	}
	return u.Scheme + "://" + u.Host + "/"
}

type runEmitter struct {
	emitter progress.Emitter
	clock   Clock
	runID   [16]byte
}

func (e runEmitter) emit(evt progress.Event) {
	if e.emitter == nil {
		return
	}
	evt.RunID = e.runID
	evt.TS = e.clock.Now().UTC()
	e.emitter.Emit(evt)
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
