package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/beatmap-tools/packgrab/internal/logctx"
	"github.com/beatmap-tools/packgrab/internal/progress"
	"github.com/beatmap-tools/packgrab/internal/resolver"
	"github.com/beatmap-tools/packgrab/internal/telemetry"
	"github.com/beatmap-tools/packgrab/internal/transport"
	"golang.org/x/time/rate"
)

const (
	partSuffix = ".part"
	filePerm   = 0644

	// speedSampleInterval is how often the running byte count and
	// instantaneous speed are published into the progress table.
	speedSampleInterval = time.Second
)

// Outcome is the terminal result of one pack's download.
type Outcome struct {
	Success  bool
	URL      string
	FilePath string
}

// Fetcher downloads one pack at a time to completion or terminal
// failure, walking candidate URLs in priority order. Each worker owns
// its own Fetcher; nothing in here is shared except the progress table,
// which synchronizes internally.
type Fetcher struct {
	client    *transport.Client
	dir       string
	chunkSize int
	resume    bool
	limiter   *rate.Limiter
	table     *progress.Table
	tel       *telemetry.Telemetry
}

// Config carries per-worker fetcher settings.
type Config struct {
	DownloadDir string
	ChunkSize   int
	Resume      bool

	// BytesPerSecond caps this fetcher's throughput via a token
	// bucket. Zero means unlimited.
	BytesPerSecond float64
}

// New builds a Fetcher around a worker-owned transport client.
func New(client *transport.Client, cfg Config, table *progress.Table, tel *telemetry.Telemetry) *Fetcher {
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = 8192
	}

	f := &Fetcher{
		client:    client,
		dir:       cfg.DownloadDir,
		chunkSize: cfg.ChunkSize,
		resume:    cfg.Resume,
		table:     table,
		tel:       tel,
	}

	if cfg.BytesPerSecond > 0 {
		burst := cfg.ChunkSize
		if burst < 1 {
			burst = 1
		}

		f.limiter = rate.NewLimiter(rate.Limit(cfg.BytesPerSecond), burst)
	}

	return f
}

// Fetch downloads one pack. It never returns both success and an
// error: a nil error means Outcome.Success is true. Candidate-level
// failures are contained here; the returned error is the pack's
// terminal failure only.
func (f *Fetcher) Fetch(ctx context.Context, pack int, candidates []resolver.Candidate) (Outcome, error) {
	logger := logctx.LoggerFromContext(ctx).With("pack", pack)

	// A finished archive under any candidate name means the pack is
	// done. No network traffic for work already on disk.
	for _, c := range candidates {
		target := filepath.Join(f.dir, c.Filename)
		if _, err := os.Stat(target); err == nil {
			logger.Info("pack already exists, skipping", "file", c.Filename)

			return Outcome{Success: true, URL: c.URL, FilePath: target}, nil
		}
	}

	for _, c := range candidates {
		target := filepath.Join(f.dir, c.Filename)

		f.table.SetTarget(pack, c.URL, target)

		if err := f.fetchCandidate(ctx, pack, c.URL, target); err != nil {
			if ctx.Err() != nil {
				return Outcome{}, ctx.Err()
			}

			f.tel.RecordCandidateMiss(missReason(err))

			var notFound *NotFoundError
			if errors.As(err, &notFound) {
				logger.Debug("candidate not found", "url", c.URL)
			} else {
				logger.Warn("candidate failed", "url", c.URL, "err", err)
			}

			continue
		}

		logger.Info("pack downloaded", "file", c.Filename)

		return Outcome{Success: true, URL: c.URL, FilePath: target}, nil
	}

	return Outcome{}, &ExhaustedError{Pack: pack, Candidates: len(candidates)}
}

// fetchCandidate attempts one candidate URL end to end: probe, resume
// detection, streamed write, atomic rename.
func (f *Fetcher) fetchCandidate(ctx context.Context, pack int, url, target string) error {
	partPath := target + partSuffix

	offset := f.resumeOffset(ctx, partPath)

	meta, err := f.client.Probe(ctx, url, offset)
	if err != nil {
		return &TransferError{URL: url, Op: "probe", Err: err}
	}

	switch {
	case meta.StatusCode == http.StatusNotFound:
		return &NotFoundError{URL: url}
	case meta.StatusCode != http.StatusOK && meta.StatusCode != http.StatusPartialContent:
		return &UnavailableError{URL: url, StatusCode: meta.StatusCode}
	}

	// A 200 to a range-qualified probe means the server ignored the
	// range, no matter what Accept-Ranges advertises. Its content
	// length is the full size, and appending to the partial file would
	// corrupt it, so the attempt restarts from zero.
	if offset > 0 && meta.StatusCode != http.StatusPartialContent {
		logctx.LoggerFromContext(ctx).Warn("server ignored range request, restarting from zero",
			"url", url, "accept_ranges", meta.AcceptsRanges)

		offset = 0

		if err := os.Remove(partPath); err != nil && !os.IsNotExist(err) {
			return &TransferError{URL: url, Op: "probe", Err: err}
		}
	}

	total := meta.ContentLength
	if total > 0 {
		total += offset
	}

	f.table.SetSize(pack, total)

	body, err := f.client.Stream(ctx, url, offset)
	if err != nil {
		return &TransferError{URL: url, Op: "stream", Err: err}
	}
	defer body.Close()

	switch {
	case body.StatusCode == http.StatusNotFound:
		return &NotFoundError{URL: url}
	case body.StatusCode != http.StatusOK && body.StatusCode != http.StatusPartialContent:
		return &UnavailableError{URL: url, StatusCode: body.StatusCode}
	}

	// The probe said ranges are honored but the GET disagreed; start
	// the file over rather than append misaligned bytes.
	if offset > 0 && body.StatusCode == http.StatusOK {
		offset = 0
		total = body.ContentLength
		f.table.SetSize(pack, total)
	}

	written, err := f.writeStream(ctx, pack, body, partPath, offset, total)
	if err != nil {
		return &TransferError{URL: url, Op: "write", Err: err}
	}

	if total > 0 && written < total {
		return &TransferError{
			URL: url,
			Op:  "write",
			Err: fmt.Errorf("stream ended early: got %d of %d bytes", written, total),
		}
	}

	// The rename is the single commit point. Before it only the .part
	// file exists; after it only the finished archive does.
	if err := os.Rename(partPath, target); err != nil {
		return &TransferError{URL: url, Op: "finalize", Err: err}
	}

	return nil
}

// resumeOffset returns the size of an existing partial file, or zero
// when resuming is off or no partial exists.
func (f *Fetcher) resumeOffset(ctx context.Context, partPath string) int64 {
	if !f.resume {
		return 0
	}

	info, err := os.Stat(partPath)
	if err != nil {
		return 0
	}

	logctx.LoggerFromContext(ctx).Info("resuming partial download",
		"part", filepath.Base(partPath), "offset", info.Size())

	return info.Size()
}

// writeStream copies the body into the partial file chunk by chunk,
// publishing progress once per sample interval and paying the token
// bucket after every chunk when a bandwidth ceiling is set. Returns the
// final on-disk size including any resumed prefix.
func (f *Fetcher) writeStream(ctx context.Context, pack int, body io.Reader, partPath string, offset, total int64) (int64, error) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if offset > 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}

	out, err := os.OpenFile(partPath, flags, filePerm)
	if err != nil {
		return 0, fmt.Errorf("failed to open partial file: %w", err)
	}
	defer out.Close()

	var (
		downloaded      = offset
		sinceLastSample int64
		lastSample      = time.Now()
	)

	buf := make([]byte, f.chunkSize)

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return downloaded, fmt.Errorf("failed to write chunk: %w", err)
			}

			downloaded += int64(n)
			sinceLastSample += int64(n)

			if elapsed := time.Since(lastSample); elapsed >= speedSampleInterval {
				speed := float64(sinceLastSample) / elapsed.Seconds()
				f.table.Publish(pack, downloaded, speed)
				f.tel.RecordBytes(sinceLastSample)

				sinceLastSample = 0
				lastSample = time.Now()
			}

			if f.limiter != nil {
				if err := f.limiter.WaitN(ctx, n); err != nil {
					return downloaded, err
				}
			}
		}

		if readErr == io.EOF {
			break
		}

		if readErr != nil {
			return downloaded, fmt.Errorf("failed to read stream: %w", readErr)
		}
	}

	f.table.Publish(pack, downloaded, 0)
	f.tel.RecordBytes(sinceLastSample)

	if err := out.Close(); err != nil {
		return downloaded, fmt.Errorf("failed to close partial file: %w", err)
	}

	return downloaded, nil
}

func missReason(err error) string {
	var (
		notFound    *NotFoundError
		unavailable *UnavailableError
	)

	switch {
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &unavailable):
		return "unavailable"
	default:
		return "io_error"
	}
}
