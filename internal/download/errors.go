package download

import "fmt"

// ChunkError is returned when a single chunk exhausts its retry budget.
// It carries the chunk index and the last underlying cause.
type ChunkError struct {
	Index    int
	Attempts int
	Err      error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d failed after %d attempts: %v", e.Index, e.Attempts, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// FailedError is the task-level failure wrapping the first fatal chunk
// error. The partial file and progress record are left in place so a later
// run can resume, but the task must never be reported as a success.
type FailedError struct {
	Cause *ChunkError
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("download failed: %v", e.Cause)
}

func (e *FailedError) Unwrap() error {
	return e.Cause
}
