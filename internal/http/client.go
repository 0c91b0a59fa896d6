package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Common errors.
var (
	ErrRangeNotSupported = errors.New("http: server does not support range requests")
	ErrNotFound          = errors.New("http: resource not found")
	ErrForbidden         = errors.New("http: access forbidden")
	ErrUnauthorized      = errors.New("http: unauthorized")
	ErrServerError       = errors.New("http: server error")
)

// DefaultUserAgent is sent with every request. Vendor CDNs reject the Go
// default agent, so impersonate a desktop browser.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 100
	MaxIdleConnsPerHost int

	// Timeout applies per individual request, not per task.
	// Default: 30s
	Timeout time.Duration

	// UserAgent overrides DefaultUserAgent when set.
	UserAgent string

	// ProbeAttempts is the number of attempts Head makes.
	// Default: 3
	ProbeAttempts int
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 100,
		Timeout:             30 * time.Second,
		UserAgent:           DefaultUserAgent,
		ProbeAttempts:       3,
	}
}

// FileInfo contains metadata about a remote file.
type FileInfo struct {
	Size          int64
	ETag          string
	AcceptsRanges bool
	ContentType   string
	LastModified  time.Time
}

// RangeResponse is the body of a successful partial-content request.
type RangeResponse struct {
	Body          io.ReadCloser
	ContentLength int64
	ETag          string
}

// Client is an HTTP client optimized for parallel range downloads.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = 100
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.ProbeAttempts <= 0 {
		opts.ProbeAttempts = 3
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true, // raw bytes, ranges must not be recoded
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		opts: opts,
	}
}

func (c *Client) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "*/*")
	return req, nil
}

// Head probes a URL for file metadata. Follows redirects. Retries a few
// times on transient failure since the probe gates the whole download.
func (c *Client) Head(ctx context.Context, url string) (*FileInfo, error) {
	var lastErr error

	for attempt := 0; attempt < c.opts.ProbeAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		req, err := c.newRequest(ctx, http.MethodHead, url)
		if err != nil {
			return nil, err
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("%w: %d %s", ErrServerError, resp.StatusCode, resp.Status)
			continue
		}
		if err := checkStatusCode(resp.StatusCode); err != nil {
			return nil, err
		}

		info := &FileInfo{
			Size:          resp.ContentLength,
			ETag:          cleanETag(resp.Header.Get("ETag")),
			AcceptsRanges: resp.Header.Get("Accept-Ranges") == "bytes",
			ContentType:   resp.Header.Get("Content-Type"),
		}
		if lm := resp.Header.Get("Last-Modified"); lm != "" {
			if t, err := http.ParseTime(lm); err == nil {
				info.LastModified = t
			}
		}
		return info, nil
	}

	return nil, fmt.Errorf("head request failed after %d attempts: %w", c.opts.ProbeAttempts, lastErr)
}

// GetRange requests the inclusive byte span [startByte, endByte]. It makes
// exactly one attempt; the caller owns the retry budget. A server answering
// 200 without a Content-Range header does not honor ranges and the body is
// never handed to the caller, so full-file bytes cannot end up at a chunk
// offset.
func (c *Client) GetRange(ctx context.Context, url string, startByte, endByte int64) (*RangeResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", startByte, endByte))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 500 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d %s", ErrServerError, resp.StatusCode, resp.Status)
	}
	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		resp.Body.Close()
		return nil, ErrRangeNotSupported
	}
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		if err := checkStatusCode(resp.StatusCode); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if resp.StatusCode == http.StatusOK {
		// Some servers return 200 but still honor the range via Content-Range.
		// Without that header the body is the whole file.
		if resp.Header.Get("Content-Range") == "" {
			resp.Body.Close()
			return nil, ErrRangeNotSupported
		}
	}

	if cr := resp.Header.Get("Content-Range"); cr != "" {
		start, end, _, err := ParseContentRange(cr)
		if err == nil && (start != startByte || end != endByte) {
			resp.Body.Close()
			return nil, fmt.Errorf("server returned range %d-%d, requested %d-%d", start, end, startByte, endByte)
		}
	}

	return &RangeResponse{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		ETag:          cleanETag(resp.Header.Get("ETag")),
	}, nil
}

// Get streams a whole resource with a single attempt. Used for the
// full-stream fallback when the server does not support ranges.
func (c *Client) Get(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return nil, 0, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}

	if resp.StatusCode >= 500 {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("%w: %d %s", ErrServerError, resp.StatusCode, resp.Status)
	}
	if err := checkStatusCode(resp.StatusCode); err != nil {
		resp.Body.Close()
		return nil, 0, err
	}

	return resp.Body, resp.ContentLength, nil
}

// Retryable reports whether an error is transient: network failures,
// timeouts on a single attempt and server-side 5xx responses. Capability
// and client errors (range unsupported, 404, 403) are fatal.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrRangeNotSupported),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrUnauthorized):
		return false
	case errors.Is(err, ErrServerError):
		return true
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return true
	}

	// Per-attempt timeouts and transport failures (connection reset, broken
	// pipe) surface as net.Error or wrapped syscall errors.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if strings.Contains(err.Error(), "connection reset") ||
		strings.Contains(err.Error(), "broken pipe") {
		return true
	}
	return false
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	default:
		return fmt.Errorf("unexpected status code: %d", code)
	}
}

// cleanETag removes quotes and weak-validator prefixes from an ETag value.
func cleanETag(etag string) string {
	etag = strings.TrimPrefix(etag, "W/")
	etag = strings.Trim(etag, `"`)
	return etag
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total may be -1 if unknown.
func ParseContentRange(header string) (start, end, total int64, err error) {
	// Format: bytes start-end/total or bytes start-end/*
	header = strings.TrimPrefix(header, "bytes ")
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	start, err = strconv.ParseInt(rangeParts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}

	end, err = strconv.ParseInt(rangeParts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	if parts[1] == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}

	return start, end, total, nil
}
