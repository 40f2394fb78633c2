// Package fetcher downloads the source PDF of a paper from an
// identifier-templated URL. It makes exactly one attempt per call;
// retrying is left to the caller.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// IDPlaceholder is replaced by the paper identifier in the URL template.
const IDPlaceholder = "{id}"

var (
	// ErrNotFound is returned when the upstream reports the paper does not exist.
	ErrNotFound = errors.New("paper not found upstream")
	// ErrTransport matches every *TransportError.
	ErrTransport = errors.New("transport error")
)

// TransportError describes a network failure, timeout or non-2xx response
// other than 404.
type TransportError struct {
	PaperID    string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected HTTP status %d", e.PaperID, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.PaperID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// Config holds configuration for the HTTP fetcher.
type Config struct {
	URLTemplate string
	Timeout     time.Duration
	MaxBytes    int64
	UserAgent   string
	// RateLimit caps requests per second across all jobs. Zero disables it.
	RateLimit float64
}

// HTTPFetcher retrieves raw paper payloads over HTTP.
type HTTPFetcher struct {
	client      *resty.Client
	urlTemplate string
	maxBytes    int64
	limiter     *rate.Limiter
}

// New creates a fetcher. A zero timeout falls back to 60 seconds so a hung
// upstream always ends in a transport error.
func New(cfg *Config) *HTTPFetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(0)
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}

	return &HTTPFetcher{
		client:      client,
		urlTemplate: cfg.URLTemplate,
		maxBytes:    cfg.MaxBytes,
		limiter:     newLimiter(cfg.RateLimit),
	}
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// URL returns the download location of a paper. Each path segment of the
// id is escaped; the slash of old-style ids is kept.
func (f *HTTPFetcher) URL(id string) string {
	segments := strings.Split(id, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.ReplaceAll(f.urlTemplate, IDPlaceholder, strings.Join(segments, "/"))
}

// Fetch downloads the raw payload of a paper.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: paper identifier.
//
// Returns:
//   - []byte: response body.
//   - error: ErrNotFound on 404, *TransportError for anything else that failed.
func (f *HTTPFetcher) Fetch(ctx context.Context, id string) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{PaperID: id, Err: fmt.Errorf("rate limit: %w", err)}
		}
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(f.URL(id))
	if err != nil {
		return nil, &TransportError{PaperID: id, Err: err}
	}

	body := resp.RawBody()
	defer body.Close()

	switch code := resp.StatusCode(); {
	case code == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case code < 200 || code > 299:
		return nil, &TransportError{PaperID: id, StatusCode: code, Err: fmt.Errorf("http %d", code)}
	}

	var reader io.Reader = body
	if f.maxBytes > 0 {
		reader = io.LimitReader(body, f.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, &TransportError{PaperID: id, Err: fmt.Errorf("read body: %w", err)}
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, &TransportError{PaperID: id, Err: fmt.Errorf("payload exceeds %d bytes", f.maxBytes)}
	}
	if len(data) == 0 {
		return nil, &TransportError{PaperID: id, Err: errors.New("empty response body")}
	}
	return data, nil
}
