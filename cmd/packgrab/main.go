package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beatmap-tools/packgrab/internal/cleanup"
	"github.com/beatmap-tools/packgrab/internal/config"
	"github.com/beatmap-tools/packgrab/internal/downloader"
	"github.com/beatmap-tools/packgrab/internal/http/rest"
	"github.com/beatmap-tools/packgrab/internal/logctx"
	"github.com/beatmap-tools/packgrab/internal/notifier"
	"github.com/beatmap-tools/packgrab/internal/progress"
	"github.com/beatmap-tools/packgrab/internal/resolver"
	"github.com/beatmap-tools/packgrab/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	var (
		start       = flag.Int("start", 0, "first pack number of a range")
		end         = flag.Int("end", 0, "last pack number of a range (inclusive)")
		packs       = flag.String("packs", "", "comma-separated list of specific pack numbers")
		retryFailed = flag.Bool("retry-failed", false, "retry packs that failed in earlier runs")
		noDelay     = flag.Bool("no-delay", false, "disable the randomized pause between downloads")
		noResume    = flag.Bool("no-resume", false, "disable resuming of partial downloads")
	)

	flag.StringVar(&cfg.DownloadDir, "dir", cfg.DownloadDir, "directory to save the packs into")
	flag.IntVar(&cfg.Workers, "workers", cfg.Workers, "number of concurrent downloads")
	flag.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "download chunk size in bytes")
	flag.Float64Var(&cfg.BandwidthLimit, "bandwidth-limit", cfg.BandwidthLimit, "per-worker bandwidth limit in MB/s")
	flag.StringVar(&cfg.StatePath, "state", cfg.StatePath, "path of the JSON state file")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (DEBUG, INFO, WARN, ERROR)")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve /metrics and /status on this address while running")
	flag.Parse()

	if *noDelay {
		cfg.Delay = false
	}

	if *noResume {
		cfg.Resume = false
	}

	// Logs go to stderr as JSON; stdout belongs to the progress line.
	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sel := selection{Start: *start, End: *end, Packs: *packs, RetryFailed: *retryFailed}

	if err := run(logctx.WithLogger(ctx, logger), cfg, sel); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, sel selection) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Load State
	store := config.NewStateStore(cfg.StatePath)

	state, err := store.Load()
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	packs, err := selectPacks(sel, state)
	if err != nil {
		return err
	}

	if len(packs) == 0 {
		return fmt.Errorf("no packs to download: use -start/-end, -packs or -retry-failed")
	}

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:     cfg.MetricsAddr != "",
		ServiceName: "packgrab",
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Error("failed to shut down telemetry", "err", err)
		}
	}()

	table := progress.NewTable()

	if cfg.MetricsAddr != "" {
		if err := runtime.Start(); err != nil {
			logger.Warn("failed to start runtime metrics", "err", err)
		}

		server := &http.Server{Addr: cfg.MetricsAddr, Handler: rest.NewRouter(table, tel)}

		go func() {
			logger.Info("serving metrics and status", "addr", cfg.MetricsAddr)

			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "err", err)
			}
		}()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shut down metrics server", "err", err)
			}
		}()
	}

	// =========================================================================
	// Sweep Stale Partials
	if err := cleanup.RemoveStaleParts(ctx, cfg.DownloadDir); err != nil {
		logger.Warn("failed to sweep stale partial files", "err", err)
	}

	// =========================================================================
	// Run Downloads
	d := downloader.New(downloader.Config{
		DownloadDir:    cfg.DownloadDir,
		Workers:        cfg.Workers,
		ChunkSize:      cfg.ChunkSize,
		Resume:         cfg.Resume,
		Delay:          cfg.Delay,
		BytesPerSecond: cfg.BytesPerSecond(),
		RequestTimeout: cfg.RequestTimeout,
	}, resolver.New(), table, tel)

	d.Enqueue(packs)

	reporterCtx, cancelReporter := context.WithCancel(ctx)
	defer cancelReporter()

	reporter := progress.NewReporter(table, os.Stdout, time.Second)
	reporterDone := make(chan struct{})

	go func() {
		reporter.Run(reporterCtx)
		close(reporterDone)
	}()

	logger.Info("starting downloads",
		"packs", len(packs),
		"workers", cfg.Workers,
		"download_dir", cfg.DownloadDir,
		"resume", cfg.Resume,
	)

	runErr := d.Run(ctx)

	cancelReporter()
	<-reporterDone

	if runErr != nil {
		return runErr
	}

	// =========================================================================
	// Collect Results
	reporter.Summary(d.FailedPacks())

	successes := make(map[int]bool)
	for pack, outcome := range d.Results() {
		successes[pack] = outcome.Success
	}

	state.Merge(successes)

	if err := store.Save(state); err != nil {
		logger.Error("failed to save state", "path", cfg.StatePath, "err", err)
	} else {
		logger.Info("state saved", "path", cfg.StatePath)
	}

	if cfg.WebhookURL != "" {
		counts := table.Counts()

		n := &notifier.WebhookNotifier{WebhookURL: cfg.WebhookURL}

		msg := fmt.Sprintf("packgrab finished: %d/%d packs downloaded, %d failed",
			counts.Completed, counts.Total, counts.Failed)

		if err := n.Notify(msg); err != nil {
			logger.Error("failed to send webhook notification", "err", err)
		}
	}

	return nil
}
