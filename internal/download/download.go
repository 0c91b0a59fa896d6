package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	parhttp "github.com/Liu8Can/parfetch/internal/http"
	"github.com/Liu8Can/parfetch/internal/verify"
	"github.com/Liu8Can/parfetch/pkg/chunked"
)

// Probe fetches metadata about a remote file: size, ETag, range support.
// Callers use it to validate candidate URLs and to size progress reporters
// before starting a run.
func Probe(ctx context.Context, url string, opts parhttp.Options) (*parhttp.FileInfo, error) {
	client := parhttp.NewClient(opts)
	return client.Head(ctx, url)
}

// Run downloads a task to its destination and returns a Result.
//
// Failures return a nil Result with a *FailedError (chunk retry budget
// exhausted), *verify.MismatchError (digest mismatch) or another error.
// Cancellation is not a failure: Run returns a Result with
// OutcomeCancelled and a progress record consistent for later resume.
func Run(ctx context.Context, task Task, opts Options) (*Result, error) {
	if task.URL == "" || task.Dest == "" {
		return nil, errors.New("download: task needs a URL and a destination")
	}

	// Apply defaults
	if opts.Workers <= 0 {
		opts.Workers = 16
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 6_291_456
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff()
	}
	if opts.sleep == nil {
		opts.sleep = realSleep
	}

	client := parhttp.NewClient(opts.HTTPOptions)

	info, err := client.Head(ctx, task.URL)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", task.URL, err)
	}

	size := task.Size
	if size <= 0 {
		size = info.Size
	} else if info.Size > 0 && info.Size != size {
		return nil, fmt.Errorf("download: server reports %d bytes, task expects %d", info.Size, size)
	}

	// Servers that hide the size or refuse ranges get the documented
	// single-stream fallback.
	if size <= 0 || !info.AcceptsRanges {
		return runFallback(ctx, client, task, opts)
	}

	result, err := runChunked(ctx, client, task, opts, size, info.ETag)
	if errors.Is(err, parhttp.ErrRangeNotSupported) {
		// Accept-Ranges advertised but not honored. Start over on one stream.
		return runFallback(ctx, client, task, opts)
	}
	return result, err
}

func runChunked(ctx context.Context, client *parhttp.Client, task Task, opts Options, size int64, etag string) (*Result, error) {
	ranges, err := chunked.Plan(size, opts.ChunkSize)
	if err != nil {
		return nil, err
	}

	recordPath := chunked.RecordPath(task.Dest)
	taskID := chunked.TaskID(task.URL, task.Dest)

	f, err := os.OpenFile(task.Dest, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open destination: %w", err)
	}
	defer f.Close()

	// Resume only when the record matches this exact task and plan and the
	// destination file still has the recorded size. Anything else, including
	// a destination truncated behind our back, forces a clean restart.
	rec, err := chunked.LoadRecord(recordPath)
	if err != nil || opts.Force || rec == nil || !rec.Matches(taskID, size, opts.ChunkSize, etag) {
		rec = nil
	}
	if rec != nil {
		if fi, statErr := f.Stat(); statErr != nil || fi.Size() != size {
			rec = nil
		}
	}

	resumed := 0
	if rec == nil {
		rec = chunked.NewRecord(task.URL, task.Dest, size, opts.ChunkSize, etag)
		// Pre-allocate so region writes land at their final offsets.
		if err := f.Truncate(size); err != nil {
			return nil, fmt.Errorf("allocate %d bytes: %w", size, err)
		}
	} else {
		resumed = len(rec.Done)
	}

	table := chunked.NewTable(ranges)
	table.Restore(rec.Done)
	if opts.Progress != nil {
		for range rec.Done {
			opts.Progress.ChunkSkipped()
		}
	}

	// Idempotence: a complete record plus a correctly-sized file means
	// nothing to fetch, only a quick re-verify.
	if !table.AllDone() {
		if err := runPool(ctx, client, f, task, opts, table, rec, recordPath); err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			return &Result{
				Path:          task.Dest,
				Bytes:         doneBytes(table, ranges),
				Outcome:       OutcomeCancelled,
				ResumedChunks: resumed,
			}, nil
		}
		if err := f.Sync(); err != nil {
			return nil, fmt.Errorf("sync destination: %w", err)
		}
	}

	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close destination: %w", err)
	}

	digest, err := verify.File(task.Dest, task.Digest)
	if err != nil {
		var mismatch *verify.MismatchError
		if errors.As(err, &mismatch) {
			// The file is complete but corrupt; resuming cannot repair it,
			// so drop the record and keep the file for inspection.
			chunked.RemoveRecord(recordPath)
		}
		return nil, err
	}

	if err := chunked.RemoveRecord(recordPath); err != nil {
		return nil, err
	}

	outcome := OutcomeUnverified
	if task.Digest != "" {
		outcome = OutcomeVerified
	}
	return &Result{
		Path:          task.Dest,
		Bytes:         size,
		Digest:        digest,
		Outcome:       outcome,
		ResumedChunks: resumed,
	}, nil
}

// runPool runs the worker pool until every pending chunk is done, a chunk
// fails fatally, or the context is cancelled. The first fatal chunk error
// stops dispatch of new chunks; in-flight fetches finish naturally.
func runPool(ctx context.Context, client *parhttp.Client, f *os.File, task Task, opts Options, table *chunked.Table, rec *chunked.Record, recordPath string) error {
	ftr := &fetcher{
		client:  client,
		url:     task.URL,
		dest:    f,
		retries: opts.MaxRetries,
		backoff: opts.Backoff,
		sleep:   opts.sleep,
	}

	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()

	var (
		mu       sync.Mutex
		firstErr *ChunkError
	)

	jobs := make(chan chunked.Range)
	var wg sync.WaitGroup

	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rng := range jobs {
				// A chunk handed over in the same instant dispatch stopped
				// must not start; the failed run ignores its pending state.
				if dispatchCtx.Err() != nil {
					continue
				}
				if opts.Progress != nil {
					opts.Progress.ChunkStarted()
				}

				attempts, err := ftr.fetch(ctx, rng)
				if err != nil {
					table.Fail(rng.Index, attempts)
					if opts.Progress != nil {
						opts.Progress.ChunkFailed()
					}
					mu.Lock()
					if firstErr == nil {
						firstErr = &ChunkError{Index: rng.Index, Attempts: attempts, Err: err}
					}
					mu.Unlock()
					stopDispatch()
					continue
				}

				table.Done(rng.Index, attempts)

				// The record lists a chunk only after its bytes are on disk,
				// and each save is atomic. A failed save costs resume, not
				// correctness, so the download carries on.
				mu.Lock()
				rec.MarkDone(rng.Index)
				rec.Save(recordPath)
				mu.Unlock()

				if opts.Progress != nil {
					opts.Progress.ChunkCompleted(rng.Length())
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for {
			rng, ok := table.Claim()
			if !ok {
				return
			}
			select {
			case jobs <- rng:
			case <-dispatchCtx.Done():
				return
			}
		}
	}()

	wg.Wait()

	if ctx.Err() != nil {
		// Cancellation wins over whatever errors it caused in flight.
		return nil
	}

	mu.Lock()
	defer mu.Unlock()
	if firstErr != nil {
		if errors.Is(firstErr.Err, parhttp.ErrRangeNotSupported) {
			return firstErr.Err
		}
		return &FailedError{Cause: firstErr}
	}
	return nil
}

func doneBytes(table *chunked.Table, ranges []chunked.Range) int64 {
	var n int64
	for _, idx := range table.DoneIndices() {
		n += ranges[idx].Length()
	}
	return n
}
