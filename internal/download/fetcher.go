package download

import (
	"context"
	"fmt"
	"io"
	"os"

	parhttp "github.com/Liu8Can/parfetch/internal/http"
	"github.com/Liu8Can/parfetch/pkg/chunked"
)

// copyBufferSize bounds how much of a chunk sits in memory at once.
const copyBufferSize = 1024 * 1024

// fetcher downloads single chunks into their region of the destination
// file. One fetcher is shared by all workers: it has no per-chunk state and
// WriteAt calls on disjoint regions need no locking.
type fetcher struct {
	client  *parhttp.Client
	url     string
	dest    *os.File
	retries int
	backoff Backoff
	sleep   sleepFunc
}

// fetch downloads one chunk, retrying transient failures up to the attempt
// budget. Returns the number of attempts made; on success that is also the
// attempt count recorded for the chunk. Fatal errors (range unsupported,
// 404, cancellation) abort immediately without consuming the budget.
func (f *fetcher) fetch(ctx context.Context, rng chunked.Range) (attempts int, err error) {
	var lastErr error

	for attempts = 1; attempts <= f.retries; attempts++ {
		if attempts > 1 {
			if err := f.sleep(ctx, f.backoff.Delay(attempts-1)); err != nil {
				return attempts - 1, err
			}
		}

		lastErr = f.attempt(ctx, rng)
		if lastErr == nil {
			return attempts, nil
		}
		if !parhttp.Retryable(lastErr) {
			return attempts, lastErr
		}
	}

	return f.retries, fmt.Errorf("retry budget exhausted: %w", lastErr)
}

// attempt makes one range request and streams the body into the chunk's
// region of the destination.
func (f *fetcher) attempt(ctx context.Context, rng chunked.Range) error {
	resp, err := f.client.GetRange(ctx, f.url, rng.Start, rng.End)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	written, err := f.copyAt(resp.Body, rng.Start)
	if err != nil {
		return err
	}
	if written != rng.Length() {
		// Short body: the connection dropped mid-chunk. Retryable.
		return fmt.Errorf("chunk %d: wrote %d of %d bytes: %w",
			rng.Index, written, rng.Length(), io.ErrUnexpectedEOF)
	}
	return nil
}

// copyAt streams r to the destination starting at offset using a bounded
// buffer, so large chunks never sit wholly in memory.
func (f *fetcher) copyAt(r io.Reader, offset int64) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var written int64

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			nw, writeErr := f.dest.WriteAt(buf[:n], offset)
			if writeErr != nil {
				return written, fmt.Errorf("write at %d: %w", offset, writeErr)
			}
			written += int64(nw)
			offset += int64(nw)
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}
