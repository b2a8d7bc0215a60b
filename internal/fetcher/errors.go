package fetcher

import "fmt"

// NotFoundError means a candidate URL answered 404: the pack was never
// published under that pattern. Non-fatal; the next candidate is tried.
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("candidate not found: %s", e.URL)
}

// UnavailableError means a candidate URL answered with a status other
// than 200/206/404. Non-fatal; the next candidate is tried.
type UnavailableError struct {
	URL        string
	StatusCode int
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("candidate unavailable (HTTP %d): %s", e.StatusCode, e.URL)
}

// TransferError means the stream or the local write failed mid-flight.
// The partial file stays on disk for a later resume; the next candidate
// is tried.
type TransferError struct {
	URL string
	Op  string // "probe", "stream", "write", "finalize"
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer failed during %s of %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// ExhaustedError is the terminal failure for one pack: every candidate
// was tried and none produced a complete file.
type ExhaustedError struct {
	Pack       int
	Candidates int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("pack %d failed after trying %d candidate URLs", e.Pack, e.Candidates)
}
