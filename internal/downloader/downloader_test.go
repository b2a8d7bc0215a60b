package downloader_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/beatmap-tools/packgrab/internal/downloader"
	"github.com/beatmap-tools/packgrab/internal/progress"
	"github.com/beatmap-tools/packgrab/internal/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payloadServer(t *testing.T, payload string, fail func(pack string) bool) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail != nil && fail(r.RequestURI) {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))

		if r.Method == http.MethodGet {
			w.Write([]byte(payload))
		}
	}))
}

func newDownloader(t *testing.T, baseURL, dir string, workers int) (*downloader.Downloader, *progress.Table) {
	t.Helper()

	table := progress.NewTable()

	d := downloader.New(downloader.Config{
		DownloadDir:    dir,
		Workers:        workers,
		ChunkSize:      1024,
		Resume:         true,
		RequestTimeout: 5 * time.Second,
	}, resolver.NewWithBaseURL(baseURL), table, nil)

	return d, table
}

func TestRun_AllPacksSucceed(t *testing.T) {
	ts := payloadServer(t, "pack bytes", nil)
	defer ts.Close()

	dir := t.TempDir()

	d, table := newDownloader(t, ts.URL, dir, 2)
	d.Enqueue([]int{1, 2, 3, 4, 5})

	require.NoError(t, d.Run(context.Background()))

	results := d.Results()
	require.Len(t, results, 5)

	for pack, outcome := range results {
		assert.True(t, outcome.Success, "pack %d", pack)
		assert.FileExists(t, outcome.FilePath)
	}

	counts := table.Counts()
	assert.Equal(t, 5, counts.Completed)
	assert.Equal(t, 0, counts.Failed)
	assert.Empty(t, d.FailedPacks())
}

func TestEnqueue_DeduplicatesPacks(t *testing.T) {
	ts := payloadServer(t, "pack bytes", nil)
	defer ts.Close()

	dir := t.TempDir()

	d, table := newDownloader(t, ts.URL, dir, 2)
	d.Enqueue([]int{1, 2, 1})
	d.Enqueue([]int{2, 3})

	require.NoError(t, d.Run(context.Background()))

	require.Len(t, d.Results(), 3)

	counts := table.Counts()
	assert.Equal(t, 3, counts.Total)
	assert.Equal(t, 3, counts.Completed)
	assert.Equal(t, 0, counts.Failed)
}

func TestRun_MixedOutcomes(t *testing.T) {
	// Every candidate for pack 2 is missing; everything else succeeds.
	ts := payloadServer(t, "pack bytes", func(uri string) bool {
		return strings.Contains(uri, "S2%20")
	})
	defer ts.Close()

	dir := t.TempDir()

	d, table := newDownloader(t, ts.URL, dir, 2)
	d.Enqueue([]int{1, 2, 3})

	require.NoError(t, d.Run(context.Background()))

	results := d.Results()
	require.Len(t, results, 3)
	assert.True(t, results[1].Success)
	assert.False(t, results[2].Success)
	assert.True(t, results[3].Success)

	counts := table.Counts()
	assert.Equal(t, 2, counts.Completed)
	assert.Equal(t, 1, counts.Failed)
	assert.Equal(t, []int{2}, d.FailedPacks())
}

func TestRun_OutcomeCountInvariant(t *testing.T) {
	// Repeated runs with more workers than packs must always produce
	// exactly one terminal outcome per pack.
	ts := payloadServer(t, "x", func(uri string) bool {
		return strings.Contains(uri, "S3%20") || strings.Contains(uri, "S7%20")
	})
	defer ts.Close()

	packs := []int{1, 2, 3, 4, 5, 6, 7, 8}

	for run := 0; run < 3; run++ {
		d, table := newDownloader(t, ts.URL, t.TempDir(), 4)
		d.Enqueue(packs)

		require.NoError(t, d.Run(context.Background()))

		results := d.Results()
		assert.Len(t, results, len(packs), "run %d lost or duplicated outcomes", run)

		counts := table.Counts()
		assert.Equal(t, len(packs), counts.Completed+counts.Failed, "run %d", run)
		assert.Equal(t, 6, counts.Completed, "run %d", run)
		assert.Equal(t, 2, counts.Failed, "run %d", run)
	}
}

func TestRun_FatalWhenDownloadDirUncreatable(t *testing.T) {
	dir := t.TempDir()

	// A file where the directory should go makes MkdirAll fail.
	blocked := filepath.Join(dir, "blocked")
	require.NoError(t, os.WriteFile(blocked, []byte("file"), 0644))

	d, _ := newDownloader(t, "http://127.0.0.1:0", filepath.Join(blocked, "sub"), 1)
	d.Enqueue([]int{1})

	err := d.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download directory")
}

func TestRun_ExistingFilesSkipNetwork(t *testing.T) {
	var requests atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	dir := t.TempDir()
	res := resolver.NewWithBaseURL(ts.URL)

	for _, pack := range []int{1, 2} {
		name := res.Candidates(pack)[0].Filename
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("done"), 0644))
	}

	d, _ := newDownloader(t, ts.URL, dir, 2)
	d.Enqueue([]int{1, 2})

	require.NoError(t, d.Run(context.Background()))

	results := d.Results()
	assert.True(t, results[1].Success)
	assert.True(t, results[2].Success)
	assert.Equal(t, int32(0), requests.Load())
}
