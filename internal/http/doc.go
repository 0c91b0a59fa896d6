// Package http provides the HTTP client used by the download engine.
//
// This package handles:
//   - Connection pooling sized for many parallel range requests
//   - HEAD probes for size, ETag and range support
//   - Single-attempt range requests with typed errors
//   - Classifying errors as retryable or fatal
//
// Retry policy lives with the caller (the chunk fetcher owns the attempt
// budget); this client makes exactly one request per call, except Head,
// which is a cheap control-plane probe and retries internally.
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions())
//
//	info, err := client.Head(ctx, url)
//	// info.Size, info.ETag, info.AcceptsRanges
//
//	resp, err := client.GetRange(ctx, url, startByte, endByte)
//	defer resp.Body.Close()
package http
