package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/Liu8Can/parfetch/internal/config"
	"github.com/Liu8Can/parfetch/internal/download"
	parhttp "github.com/Liu8Can/parfetch/internal/http"
	"github.com/Liu8Can/parfetch/internal/mirror"
	"github.com/Liu8Can/parfetch/internal/progress"
	"github.com/Liu8Can/parfetch/internal/verify"
	"github.com/Liu8Can/parfetch/pkg/chunked"
)

// runFetch downloads a file in parallel chunks with resume, digest
// verification and optional mirroring to object storage.
func runFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)

	url := fs.String("url", "", "Source URL to download (required)")
	output := fs.String("output", "", "Destination file path (required)")
	digest := fs.String("digest", "", "Expected SHA-256 digest (hex)")
	configPath := fs.String("config", "", "Path to YAML config file")
	workers := fs.Int("workers", 0, "Number of parallel workers (0 = auto-size from host)")
	chunkSize := fs.String("chunk-size", "", "Size of each chunk (e.g. 6MB)")
	retries := fs.Int("retries", 0, "Max attempts per chunk")
	retryBackoff := fs.Duration("retry-backoff", 0, "Initial retry backoff")
	retryMaxBackoff := fs.Duration("retry-max-backoff", 0, "Max retry backoff")
	mirrorURL := fs.String("mirror", "", "Bucket URL to mirror the verified file to (s3://, gs://, file://)")
	mirrorKey := fs.String("mirror-key", "", "Object key in the mirror bucket (default: output file name)")
	showProgress := fs.Bool("progress", false, "Show progress output")
	force := fs.Bool("force", false, "Force restart, ignoring existing progress")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: parfetch fetch [options]

Download a file over HTTP in parallel chunks. Interrupted downloads resume
from a sidecar progress record next to the destination file.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	// Precedence: defaults < config file < environment < flags.
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			return ExitInvalidArgs
		}
		cfg = loaded
	}
	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading environment: %v\n", err)
		return ExitInvalidArgs
	}

	override := config.Config{
		URL:    *url,
		Output: *output,
		Digest: *digest,
		Mirror: *mirrorURL,
		Retry: config.RetryConfig{
			Backoff:    *retryBackoff,
			MaxBackoff: *retryMaxBackoff,
		},
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "workers":
			override.Workers = *workers
			if *workers == 0 {
				cfg.Workers = 0 // explicit request for auto-sizing
			}
		case "retries":
			override.MaxRetries = *retries
		case "progress":
			override.Progress = *showProgress
		case "force":
			override.Force = *force
		}
	})
	if *chunkSize != "" {
		size, err := progress.ParseBytes(*chunkSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid chunk size: %v\n", err)
			return ExitInvalidArgs
		}
		override.ChunkSize = size
	}
	cfg = cfg.Merge(override)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		return ExitInvalidArgs
	}

	if cfg.Workers == 0 {
		cfg.Workers = config.AutoWorkers(cfg.ChunkSize)
		fmt.Fprintf(os.Stderr, "[parfetch] Auto-sized worker pool: %d workers\n", cfg.Workers)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\n[parfetch] Received interrupt, shutting down...")
		cancel()
	}()

	httpOpts := parhttp.Options{
		MaxIdleConnsPerHost: cfg.Workers * 2,
		Timeout:             30 * time.Second,
	}

	// Probe up front so the progress header can show totals.
	info, err := download.Probe(ctx, cfg.URL, httpOpts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error accessing source URL: %v\n", err)
		return ExitSourceNotAccess
	}

	// Small files get their chunk size reduced so every worker has a range
	// to fetch, never below the 1MiB floor.
	if info.Size > 0 {
		cfg.ChunkSize = chunked.ClampChunkSize(cfg.ChunkSize, info.Size, cfg.Workers)
	}

	var reporter *progress.Reporter
	if cfg.Progress {
		totalChunks := 0
		if info.Size > 0 {
			totalChunks = int((info.Size + cfg.ChunkSize - 1) / cfg.ChunkSize)
		}
		reporter = progress.NewReporter(progress.Options{
			TotalSize:   info.Size,
			TotalChunks: totalChunks,
			Workers:     cfg.Workers,
			SourceURL:   cfg.URL,
			ChunkSize:   cfg.ChunkSize,
		})
		reporter.Start()
		defer reporter.Stop()
	}

	result, err := download.Run(ctx, download.Task{
		URL:    cfg.URL,
		Dest:   cfg.Output,
		Digest: cfg.Digest,
	}, download.Options{
		Workers:    cfg.Workers,
		ChunkSize:  cfg.ChunkSize,
		MaxRetries: cfg.MaxRetries,
		Backoff: download.Backoff{
			Base: cfg.Retry.Backoff,
			Max:  cfg.Retry.MaxBackoff,
		},
		Progress:    reporter,
		Force:       cfg.Force,
		HTTPOptions: httpOpts,
	})
	if err != nil {
		var mismatch *verify.MismatchError
		if errors.As(err, &mismatch) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fmt.Fprintln(os.Stderr, "The file is kept for inspection; re-run to download again")
			return ExitVerifyFailed
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}

	if result.Outcome == download.OutcomeCancelled {
		fmt.Fprintln(os.Stderr, "[parfetch] Download interrupted, progress saved for resume")
		return ExitGeneralError
	}

	fmt.Fprintf(os.Stderr, "[parfetch] Download complete: %s (%s, %s)\n",
		result.Path, progress.FormatBytes(result.Bytes), result.Outcome)
	if result.Digest != "" {
		fmt.Fprintf(os.Stderr, "[parfetch] SHA-256: %s\n", result.Digest)
	}

	if cfg.Mirror != "" {
		key := *mirrorKey
		if key == "" {
			key = filepath.Base(cfg.Output)
		}
		if code := mirrorResult(ctx, cfg.Mirror, key, cfg.URL, result); code != ExitSuccess {
			return code
		}
	}

	return ExitSuccess
}

// mirrorResult uploads a finished download to the mirror bucket, skipping
// the upload when the bucket already holds the same digest.
func mirrorResult(ctx context.Context, bucketURL, key, sourceURL string, result *download.Result) int {
	m, err := mirror.Open(ctx, bucketURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening mirror bucket: %v\n", err)
		return ExitStorageError
	}
	defer m.Close()

	has, err := m.Has(ctx, key, result.Digest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error checking mirror: %v\n", err)
		return ExitStorageError
	}
	if has {
		fmt.Fprintf(os.Stderr, "[parfetch] Mirror already holds %s, skipping upload\n", key)
		return ExitSuccess
	}

	err = m.Upload(ctx, result.Path, key, mirror.Manifest{
		SourceURL: sourceURL,
		Size:      result.Bytes,
		Digest:    result.Digest,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error mirroring to %s: %v\n", bucketURL, err)
		return ExitStorageError
	}

	fmt.Fprintf(os.Stderr, "[parfetch] Mirrored to %s/%s\n", bucketURL, key)
	return ExitSuccess
}
