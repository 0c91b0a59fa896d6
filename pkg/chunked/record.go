package chunked

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// RecordSuffix is appended to the destination path to name the sidecar file.
const RecordSuffix = ".parfetch.json"

// Record is the persisted progress of a chunked download. It maps a task
// identity to the set of completed chunk indices so an interrupted download
// can resume. A chunk index in Done implies its byte range in the
// destination file already holds the fetched data.
type Record struct {
	TaskID    string    `json:"task_id"`
	URL       string    `json:"url"`
	TotalSize int64     `json:"total_size"`
	ChunkSize int64     `json:"chunk_size"`
	ETag      string    `json:"etag,omitempty"`
	Done      []int     `json:"done"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TaskID derives a stable identity for a (url, destination) pair.
func TaskID(url, dest string) string {
	h := sha256.Sum256([]byte(url + "\x00" + dest))
	return hex.EncodeToString(h[:16])
}

// NewRecord creates a fresh record for a task.
func NewRecord(url, dest string, totalSize, chunkSize int64, etag string) *Record {
	now := time.Now().UTC()
	return &Record{
		TaskID:    TaskID(url, dest),
		URL:       url,
		TotalSize: totalSize,
		ChunkSize: chunkSize,
		ETag:      etag,
		Done:      []int{},
		StartedAt: now,
		UpdatedAt: now,
	}
}

// RecordPath returns the sidecar path for a destination file.
func RecordPath(dest string) string {
	return dest + RecordSuffix
}

// LoadRecord reads a record from path. A missing file is not an error and
// returns (nil, nil). A corrupt file is an error so callers decide whether
// to restart cleanly.
func LoadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("chunked: read record: %w", err)
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("chunked: parse record: %w", err)
	}
	return &r, nil
}

// Matches reports whether the record belongs to the same task and plan.
// ETag is only compared when both sides have one; servers that omit ETags
// still get resume support.
func (r *Record) Matches(taskID string, totalSize, chunkSize int64, etag string) bool {
	if r.TaskID != taskID || r.TotalSize != totalSize || r.ChunkSize != chunkSize {
		return false
	}
	if r.ETag != "" && etag != "" && r.ETag != etag {
		return false
	}
	return true
}

// MarkDone appends a chunk index to the done set if not already present.
func (r *Record) MarkDone(idx int) {
	for _, d := range r.Done {
		if d == idx {
			return
		}
	}
	r.Done = append(r.Done, idx)
	r.UpdatedAt = time.Now().UTC()
}

// Complete reports whether the record covers all chunks of its plan.
func (r *Record) Complete() bool {
	if r.TotalSize <= 0 || r.ChunkSize <= 0 {
		return false
	}
	total := int((r.TotalSize + r.ChunkSize - 1) / r.ChunkSize)
	return len(r.Done) >= total
}

// Save writes the record atomically: marshal to a temp file in the same
// directory, fsync, then rename over the final path. A crash mid-save never
// leaves a truncated record behind.
func (r *Record) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("chunked: marshal record: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("chunked: create record temp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("chunked: write record: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("chunked: sync record: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("chunked: close record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("chunked: rename record: %w", err)
	}
	return nil
}

// RemoveRecord deletes the record file. Missing files are not an error.
func RemoveRecord(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("chunked: remove record: %w", err)
	}
	return nil
}
