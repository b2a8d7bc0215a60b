package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/beatmap-tools/packgrab/internal/logctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	maxAttempts = 3
	backoffBase = time.Second

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

// Meta is the result of a metadata probe against a candidate URL.
type Meta struct {
	StatusCode    int
	ContentLength int64
	AcceptsRanges bool
}

// Body is a streaming response body plus the metadata needed to
// account for it.
type Body struct {
	io.ReadCloser

	StatusCode    int
	ContentLength int64
}

// Client issues outbound HTTP requests with connection reuse and a
// bounded retry on transient server errors. Each worker owns its own
// Client so connection pools are never shared across workers.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a Client with its own connection pool. The timeout
// bounds dial, TLS handshake and response headers; it deliberately does
// not bound body reads, which stream for as long as a download takes.
func NewClient(timeout time.Duration) *Client {
	dialer := &net.Dialer{Timeout: timeout}

	return &Client{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(&http.Transport{
				DialContext:           dialer.DialContext,
				TLSHandshakeTimeout:   timeout,
				ResponseHeaderTimeout: timeout,
				MaxIdleConnsPerHost:   4,
				IdleConnTimeout:       90 * time.Second,
			}),
		},
	}
}

// Probe issues a HEAD request. When offset > 0 the request is
// range-qualified so the caller can tell whether the server honors
// partial content. Any HTTP response is returned as Meta with a nil
// error; only transport-level failures produce an error.
func (c *Client) Probe(ctx context.Context, url string, offset int64) (*Meta, error) {
	resp, err := c.do(ctx, http.MethodHead, url, offset)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	return &Meta{
		StatusCode:    resp.StatusCode,
		ContentLength: resp.ContentLength,
		AcceptsRanges: acceptsRanges(resp),
	}, nil
}

// Stream issues a GET request and hands back the body for streaming.
// The caller owns closing it.
func (c *Client) Stream(ctx context.Context, url string, offset int64) (*Body, error) {
	resp, err := c.do(ctx, http.MethodGet, url, offset)
	if err != nil {
		return nil, err
	}

	return &Body{
		ReadCloser:    resp.Body,
		StatusCode:    resp.StatusCode,
		ContentLength: resp.ContentLength,
	}, nil
}

// do runs one request with up to maxAttempts tries. Retries apply only
// to transient server statuses and transport errors; a 404 comes back
// immediately so candidate fallback stays fast.
func (c *Client) do(ctx context.Context, method, url string, offset int64) (*http.Response, error) {
	logger := logctx.LoggerFromContext(ctx)

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}

		setHeaders(req)

		if offset > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else if !retryableStatus(resp.StatusCode) {
			return resp, nil
		} else {
			lastErr = fmt.Errorf("server returned %d", resp.StatusCode)

			// Release the connection before retrying.
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		if attempt < maxAttempts {
			wait := backoffBase << (attempt - 1)

			logger.Warn("retrying request",
				"method", method, "url", url, "attempt", attempt, "backoff", wait.String(), "err", lastErr)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxAttempts, lastErr)
}

func setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Connection", "keep-alive")
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

func acceptsRanges(resp *http.Response) bool {
	if resp.StatusCode == http.StatusPartialContent {
		return true
	}

	return strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes")
}
