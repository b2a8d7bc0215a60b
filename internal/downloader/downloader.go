package downloader

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/beatmap-tools/packgrab/internal/fetcher"
	"github.com/beatmap-tools/packgrab/internal/logctx"
	"github.com/beatmap-tools/packgrab/internal/progress"
	"github.com/beatmap-tools/packgrab/internal/resolver"
	"github.com/beatmap-tools/packgrab/internal/telemetry"
	"github.com/beatmap-tools/packgrab/internal/transport"
	"golang.org/x/sync/errgroup"
)

const dirPerm = 0755

// Config carries the pool settings handed in by the CLI layer.
type Config struct {
	DownloadDir string
	Workers     int
	ChunkSize   int
	Resume      bool

	// Delay inserts a short randomized pause after each successful
	// download so workers don't hammer the mirror in lockstep.
	Delay bool

	// BytesPerSecond caps each worker's throughput. Zero is unlimited;
	// aggregate bandwidth is roughly BytesPerSecond * Workers.
	BytesPerSecond float64

	RequestTimeout time.Duration
}

// Outcome is the terminal record for one pack.
type Outcome struct {
	Success  bool
	URL      string
	FilePath string
}

// Downloader owns the work queue, the worker pool and the outcome map.
// Packs are seeded before Run starts; a fixed number of workers drain
// the queue, each with its own transport client and fetcher.
type Downloader struct {
	cfg   Config
	res   *resolver.Resolver
	table *progress.Table
	tel   *telemetry.Telemetry

	queue chan int
	packs []int

	mu       sync.Mutex
	outcomes map[int]Outcome
}

// New creates a Downloader. The queue is sized up front in Enqueue;
// workers only start inside Run.
func New(cfg Config, res *resolver.Resolver, table *progress.Table, tel *telemetry.Telemetry) *Downloader {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	return &Downloader{
		cfg:      cfg,
		res:      res,
		table:    table,
		tel:      tel,
		outcomes: make(map[int]Outcome),
	}
}

// Enqueue registers packs for download. Must be called before Run.
// A pack already enqueued is ignored; every pack gets exactly one
// queue slot and one terminal outcome.
func (d *Downloader) Enqueue(packs []int) {
	for _, pack := range packs {
		if slices.Contains(d.packs, pack) {
			continue
		}

		d.packs = append(d.packs, pack)
		d.table.Add(pack)
	}
}

// Run drains the queue with the configured number of workers and
// blocks until every in-flight transfer reaches a terminal state.
// The only fatal error is failing to create the download directory;
// everything else is contained per item.
func (d *Downloader) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	if err := os.MkdirAll(d.cfg.DownloadDir, dirPerm); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	d.queue = make(chan int, len(d.packs))
	for _, pack := range d.packs {
		d.queue <- pack
	}

	close(d.queue)

	logger.Info("starting download workers",
		"workers", d.cfg.Workers, "packs", len(d.packs), "download_dir", d.cfg.DownloadDir)

	wg, ctx := errgroup.WithContext(ctx)

	for i := 0; i < d.cfg.Workers; i++ {
		workerID := i + 1

		wg.Go(func() error {
			d.worker(ctx, workerID)

			return nil
		})
	}

	return wg.Wait()
}

// worker pulls packs off the queue until it is empty. Each worker owns
// its own client so connection pools are never shared.
func (d *Downloader) worker(ctx context.Context, id int) {
	logger := logctx.LoggerFromContext(ctx).With("worker", id)

	client := transport.NewClient(d.cfg.RequestTimeout)
	f := fetcher.New(client, fetcher.Config{
		DownloadDir:    d.cfg.DownloadDir,
		ChunkSize:      d.cfg.ChunkSize,
		Resume:         d.cfg.Resume,
		BytesPerSecond: d.cfg.BytesPerSecond,
	}, d.table, d.tel)

	for pack := range d.queue {
		if ctx.Err() != nil {
			// Still drain to a terminal state so no pack is lost.
			d.record(pack, Outcome{})

			continue
		}

		outcome := d.process(logctx.WithLogger(ctx, logger), f, pack)
		d.record(pack, outcome)

		if d.cfg.Delay && outcome.Success {
			jitter := time.Duration(500+rand.Intn(1000)) * time.Millisecond

			select {
			case <-ctx.Done():
			case <-time.After(jitter):
			}
		}
	}
}

// process runs one pack through the fetcher. A panic in here is a bug,
// but it must never take the worker down with it; the pack is counted
// as failed and the worker moves on.
func (d *Downloader) process(ctx context.Context, f *fetcher.Fetcher, pack int) (outcome Outcome) {
	logger := logctx.LoggerFromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker panic while processing pack",
				"pack", pack, "panic", r, "stack", string(debug.Stack()))

			outcome = Outcome{}
		}
	}()

	d.table.MarkDownloading(pack)
	d.tel.IncrementActiveDownloads()

	start := time.Now()

	result, err := f.Fetch(ctx, pack, d.res.Candidates(pack))

	d.tel.DecrementActiveDownloads()

	if err != nil {
		logger.Error("pack download failed", "pack", pack, "err", err)
		d.tel.RecordDownload("failed", time.Since(start))

		return Outcome{}
	}

	d.tel.RecordDownload("completed", time.Since(start))

	return Outcome{Success: result.Success, URL: result.URL, FilePath: result.FilePath}
}

// record writes the terminal outcome for a pack. One write per pack;
// a later write for the same pack would be a bookkeeping bug, so the
// first one wins.
func (d *Downloader) record(pack int, outcome Outcome) {
	d.mu.Lock()

	_, exists := d.outcomes[pack]
	if !exists {
		d.outcomes[pack] = outcome
	}

	d.mu.Unlock()

	// The counters must move once per pack, same as the outcome map.
	if !exists {
		d.table.MarkDone(pack, outcome.Success)
	}
}

// Results assembles the final outcome map. Call after Run returns.
func (d *Downloader) Results() map[int]Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()

	results := make(map[int]Outcome, len(d.outcomes))
	for pack, outcome := range d.outcomes {
		results[pack] = outcome
	}

	return results
}

// FailedPacks lists the packs that ended in failure, for the summary.
func (d *Downloader) FailedPacks() []int {
	d.mu.Lock()
	defer d.mu.Unlock()

	var failed []int

	for pack, outcome := range d.outcomes {
		if !outcome.Success {
			failed = append(failed, pack)
		}
	}

	return failed
}
