package cmd

import (
	"context"
	"fmt"
	"time"

	gcsclient "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wiki-crawler/internal/clock/system"
	"github.com/JakeFAU/wiki-crawler/internal/config"
	"github.com/JakeFAU/wiki-crawler/internal/crawler"
	"github.com/JakeFAU/wiki-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/wiki-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/wiki-crawler/internal/fetcher/headless"
	stealthfetcher "github.com/JakeFAU/wiki-crawler/internal/fetcher/stealth"
	"github.com/JakeFAU/wiki-crawler/internal/hash/sha256"
	"github.com/JakeFAU/wiki-crawler/internal/id/uuid"
	"github.com/JakeFAU/wiki-crawler/internal/logging"
	"github.com/JakeFAU/wiki-crawler/internal/progress"
	"github.com/JakeFAU/wiki-crawler/internal/progress/sinks"
	"github.com/JakeFAU/wiki-crawler/internal/storage"
	"github.com/JakeFAU/wiki-crawler/internal/storage/gcs"
	"github.com/JakeFAU/wiki-crawler/internal/storage/local"
	"github.com/JakeFAU/wiki-crawler/internal/storage/memory"
)

const shutdownTimeout = 10 * time.Second

func runCrawl(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()
	restore := zap.ReplaceGlobals(logger)
	defer restore()

	summary, err := crawl(cmd.Context(), cfg, logger)
	if len(summary.Failures) > 0 {
		logger.Warn("pages failed", zap.Strings("pages", summary.Failures))
	}
	if err != nil {
		logger.Error("crawl aborted", zap.Error(err))
		return err
	}
	return nil
}

// crawl wires the pipeline from cfg and runs it to completion.
func crawl(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.Summary, error) {
	session, err := openSession(ctx, cfg, logger)
	if err != nil {
		return crawler.Summary{}, &crawler.FatalCrawlError{Reason: "start " + cfg.Fetcher.Backend + " session", Err: err}
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warn("session close failed", zap.Error(cerr))
		}
	}()

	records, snapshots, closeStores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return crawler.Summary{}, &crawler.FatalCrawlError{Reason: "open artifact stores", Err: err}
	}
	defer closeStores()

	registry := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return crawler.Summary{}, fmt.Errorf("register metrics: %w", err)
	}
	progressLogger := logger.Named("progress")
	hub := progress.NewHub(progress.Config{Logger: progressLogger}, sinks.NewLogSink(progressLogger), promSink)

	clk := system.New()
	fetcher := crawler.NewPageFetcher(cfg.FetchConfig(), crawler.NewChallengeDetector(cfg.Fetcher.ChallengeMarkers))
	task := crawler.NewTask(
		session,
		fetcher,
		extract.New(cfg.ExtractorConfig()),
		records,
		snapshots,
		crawler.NewExponentialRetryPolicy(cfg.Crawler.MaxRetries),
		sha256.New(),
		clk,
		cfg.RequestProfile(),
		logger.Named("task"),
	)
	runner := crawler.NewRunner(task, records, hub, clk, uuid.New(), cfg.RunnerConfig(), logger.Named("runner"))

	summary, runErr := runner.Run(ctx, cfg.Crawler.BaseURL, cfg.Crawler.Pages)

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := hub.Close(closeCtx); err != nil {
		logger.Warn("progress hub close failed", zap.Error(err))
	}
	stats := hub.Stats()
	progressLogger.Debug("progress hub closed",
		zap.Int64("delivered", stats.Delivered),
		zap.Int64("dropped", stats.Dropped),
		zap.Int64("sink_errors", stats.SinkErrors),
	)
	if path := cfg.Metrics.Textfile; path != "" {
		if err := prometheus.WriteToTextfile(path, registry); err != nil {
			logger.Warn("metrics textfile write failed", zap.String("path", path), zap.Error(err))
		}
	}
	return summary, runErr
}

func openSession(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.Session, error) {
	fc := cfg.Fetcher
	logger = logger.Named("fetcher." + fc.Backend)
	switch fc.Backend {
	case config.BackendColly:
		logger.Info("session ready", zap.Duration("poll_interval", fc.ChallengePollInterval))
		return collyfetcher.New(collyfetcher.Config{
			Timeout:      fc.NavigationTimeout,
			PollInterval: fc.ChallengePollInterval,
		}), nil
	case config.BackendRod:
		session, err := stealthfetcher.NewSession(ctx, stealthfetcher.Config{
			Headless:       fc.Headless,
			ExecPath:       fc.BrowserPath,
			ViewportWidth:  fc.ViewportWidth,
			ViewportHeight: fc.ViewportHeight,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("browser started", zap.Bool("headless", fc.Headless))
		return session, nil
	default:
		session, err := headlessfetcher.NewSession(ctx, headlessfetcher.Config{
			Headless:       fc.Headless,
			ExecPath:       fc.BrowserPath,
			ViewportWidth:  fc.ViewportWidth,
			ViewportHeight: fc.ViewportHeight,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("browser started", zap.Bool("headless", fc.Headless))
		return session, nil
	}
}

// openStores returns the record and snapshot stores. Local directories are
// authoritative; when a bucket is configured each store is mirrored to GCS.
// A dry run keeps both in memory and reports their paths on close.
func openStores(
	ctx context.Context,
	cfg config.Config,
	logger *zap.Logger,
) (crawler.BlobStore, crawler.BlobStore, func(), error) {
	noop := func() {}
	if cfg.Storage.DryRun {
		memRecords, memSnapshots := memory.NewBlobStore(), memory.NewBlobStore()
		report := func() {
			logger.Info("dry run, artifacts discarded",
				zap.Strings("records", memRecords.Paths()),
				zap.Strings("snapshots", memSnapshots.Paths()),
			)
		}
		return memRecords, memSnapshots, report, nil
	}
	records, err := local.New(local.Config{BaseDir: cfg.Crawler.OutputDir})
	if err != nil {
		return nil, nil, noop, fmt.Errorf("records store: %w", err)
	}
	snapshots, err := local.New(local.Config{BaseDir: cfg.Crawler.HTMLDir})
	if err != nil {
		return nil, nil, noop, fmt.Errorf("snapshot store: %w", err)
	}
	if cfg.Storage.GCSBucket == "" {
		return records, snapshots, noop, nil
	}

	client, err := gcsclient.NewClient(ctx)
	if err != nil {
		return nil, nil, noop, fmt.Errorf("gcs client: %w", err)
	}
	closeClient := func() {
		if cerr := client.Close(); cerr != nil {
			logger.Warn("gcs client close failed", zap.Error(cerr))
		}
	}
	bucket, err := gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket, Prefix: cfg.Storage.GCSPrefix})
	if err == nil {
		err = bucket.CheckBucket(ctx)
	}
	if err != nil {
		closeClient()
		return nil, nil, noop, err
	}

	mirrorLogger := logger.Named("storage")
	mirroredRecords, err := storage.NewMirror(records, bucket.WithPrefix("json"), mirrorLogger)
	if err != nil {
		closeClient()
		return nil, nil, noop, err
	}
	mirroredSnapshots, err := storage.NewMirror(snapshots, bucket.WithPrefix("html"), mirrorLogger)
	if err != nil {
		closeClient()
		return nil, nil, noop, err
	}
	logger.Info("mirroring artifacts to gcs",
		zap.String("bucket", cfg.Storage.GCSBucket),
		zap.String("prefix", cfg.Storage.GCSPrefix),
	)
	return mirroredRecords, mirroredSnapshots, closeClient, nil
}
