package download

import (
	parhttp "github.com/Liu8Can/parfetch/internal/http"
	"github.com/Liu8Can/parfetch/internal/progress"
)

// Task describes one download invocation. Immutable after creation.
type Task struct {
	// URL of the remote file.
	URL string

	// Dest is the local destination path.
	Dest string

	// Size is the expected total size in bytes. Zero means take the size
	// from the server's HEAD response.
	Size int64

	// Digest is the expected hex SHA-256 of the finished file. Empty means
	// skip verification; the result is then Unverified, not Verified.
	Digest string
}

// Options configures the coordinator.
type Options struct {
	// Workers is the number of parallel download workers. Default: 16.
	Workers int

	// ChunkSize is the size of each chunk in bytes. Default: 6291456 (6MiB).
	ChunkSize int64

	// MaxRetries is the per-chunk attempt budget. Default: 5.
	MaxRetries int

	// Backoff controls the delay between attempts.
	Backoff Backoff

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	// Force discards any existing progress record and starts fresh.
	Force bool

	// HTTPOptions configures the HTTP client.
	HTTPOptions parhttp.Options

	// sleep is the wait between retry attempts, injectable in tests.
	sleep sleepFunc
}

// Outcome classifies a finished task.
type Outcome string

const (
	// OutcomeVerified means the file is complete and its digest matched.
	OutcomeVerified Outcome = "verified"
	// OutcomeUnverified means the file is complete but no expected digest
	// was supplied. Callers must not treat this as verified.
	OutcomeUnverified Outcome = "unverified"
	// OutcomeCancelled means the caller cancelled the task. The progress
	// record is left consistent so a later run can resume.
	OutcomeCancelled Outcome = "cancelled"
)

// Result is produced once per completed Run call.
type Result struct {
	// Path is the destination file.
	Path string

	// Bytes is the total bytes written across all runs of this task.
	Bytes int64

	// Digest is the computed hex SHA-256 of the finished file. Empty when
	// the task was cancelled before completion.
	Digest string

	// Outcome classifies the result.
	Outcome Outcome

	// ResumedChunks is how many chunks were restored from the progress
	// record instead of fetched.
	ResumedChunks int
}
