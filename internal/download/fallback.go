package download

import (
	"context"
	"fmt"
	"io"
	"os"

	parhttp "github.com/Liu8Can/parfetch/internal/http"
	"github.com/Liu8Can/parfetch/internal/verify"
	"github.com/Liu8Can/parfetch/pkg/chunked"
)

// runFallback downloads the whole file on a single stream. Used when the
// server hides the total size or does not honor range requests. There is no
// chunk record to resume from, so each attempt starts over and a failed or
// cancelled attempt removes the partial file.
func runFallback(ctx context.Context, client *parhttp.Client, task Task, opts Options) (*Result, error) {
	// A stale chunk record from an earlier ranged attempt no longer
	// describes the file being written.
	chunked.RemoveRecord(chunked.RecordPath(task.Dest))

	var (
		written int64
		lastErr error
	)

	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 1 {
			if err := opts.sleep(ctx, opts.Backoff.Delay(attempt-1)); err != nil {
				break
			}
		}

		written, lastErr = streamOnce(ctx, client, task, opts)
		if lastErr == nil {
			break
		}
		if !parhttp.Retryable(lastErr) {
			break
		}
	}

	if ctx.Err() != nil {
		os.Remove(task.Dest)
		return &Result{Path: task.Dest, Outcome: OutcomeCancelled}, nil
	}
	if lastErr != nil {
		os.Remove(task.Dest)
		return nil, fmt.Errorf("single-stream download: %w", lastErr)
	}

	// A digest mismatch keeps the file on disk for inspection.
	digest, err := verify.File(task.Dest, task.Digest)
	if err != nil {
		return nil, err
	}

	outcome := OutcomeUnverified
	if task.Digest != "" {
		outcome = OutcomeVerified
	}
	return &Result{
		Path:    task.Dest,
		Bytes:   written,
		Digest:  digest,
		Outcome: outcome,
	}, nil
}

// streamOnce makes one whole-file attempt, truncating the destination
// first so retries never append to a previous partial body.
func streamOnce(ctx context.Context, client *parhttp.Client, task Task, opts Options) (int64, error) {
	body, length, err := client.Get(ctx, task.URL)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	f, err := os.OpenFile(task.Dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("open destination: %w", err)
	}
	defer f.Close()

	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				return written, fmt.Errorf("write destination: %w", writeErr)
			}
			written += int64(n)
			if opts.Progress != nil {
				opts.Progress.BytesTransferred(int64(n))
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return written, readErr
		}
	}

	if length > 0 && written != length {
		return written, fmt.Errorf("wrote %d of %d bytes: %w", written, length, io.ErrUnexpectedEOF)
	}
	if task.Size > 0 && written != task.Size {
		return written, fmt.Errorf("wrote %d bytes, task expects %d", written, task.Size)
	}

	if err := f.Sync(); err != nil {
		return written, fmt.Errorf("sync destination: %w", err)
	}
	return written, nil
}
