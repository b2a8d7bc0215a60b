package transport_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/beatmap-tools/packgrab/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbe_ReportsMetadata(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", "1024")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := transport.NewClient(5 * time.Second)

	meta, err := client.Probe(context.Background(), ts.URL, 0)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, meta.StatusCode)
	assert.Equal(t, int64(1024), meta.ContentLength)
	assert.True(t, meta.AcceptsRanges)
}

func TestProbe_RangeQualified(t *testing.T) {
	var gotRange string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer ts.Close()

	client := transport.NewClient(5 * time.Second)

	meta, err := client.Probe(context.Background(), ts.URL, 512)
	require.NoError(t, err)
	assert.Equal(t, "bytes=512-", gotRange)
	assert.True(t, meta.AcceptsRanges)
}

func TestDo_SetsBrowserHeaders(t *testing.T) {
	var gotUA, gotAccept string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
	}))
	defer ts.Close()

	client := transport.NewClient(5 * time.Second)

	_, err := client.Probe(context.Background(), ts.URL, 0)
	require.NoError(t, err)
	assert.Contains(t, gotUA, "Mozilla/5.0")
	assert.NotEmpty(t, gotAccept)
}

func TestDo_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		fmt.Fprint(w, "payload")
	}))
	defer ts.Close()

	client := transport.NewClient(5 * time.Second)

	body, err := client.Stream(context.Background(), ts.URL, 0)
	require.NoError(t, err)

	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_NoRetryOnNotFound(t *testing.T) {
	var calls atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	client := transport.NewClient(5 * time.Second)

	meta, err := client.Probe(context.Background(), ts.URL, 0)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, meta.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	client := transport.NewClient(5 * time.Second)

	_, err := client.Probe(context.Background(), ts.URL, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), calls.Load())
}
