// Package mirror publishes verified download artifacts to object storage.
// Storage is addressed by gocloud bucket URL (s3://, gs://, file://), so the
// same code serves cloud buckets and local directories.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gocloud.dev/blob"
)

// ManifestSuffix is appended to the object key to name its manifest.
const ManifestSuffix = ".manifest.json"

// Manifest describes a mirrored artifact. It is stored next to the object
// so consumers can check provenance and integrity without re-hashing.
type Manifest struct {
	SourceURL  string    `json:"source_url"`
	Size       int64     `json:"size"`
	Digest     string    `json:"digest,omitempty"`
	MirroredAt time.Time `json:"mirrored_at"`
}

// Mirror uploads artifacts to a single bucket.
type Mirror struct {
	bucket *blob.Bucket
	owned  bool
}

// Open connects to the bucket at the given gocloud URL. The caller must
// Close the mirror when done.
func Open(ctx context.Context, bucketURL string) (*Mirror, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("mirror: open bucket %s: %w", bucketURL, err)
	}
	return &Mirror{bucket: bucket, owned: true}, nil
}

// New wraps an already-open bucket. Closing the mirror does not close it.
func New(bucket *blob.Bucket) *Mirror {
	return &Mirror{bucket: bucket}
}

// Close releases the bucket if the mirror opened it.
func (m *Mirror) Close() error {
	if m.owned {
		return m.bucket.Close()
	}
	return nil
}

// Upload copies the local file at path to the object key and writes the
// manifest beside it. The object is written before the manifest, so a
// manifest's presence implies a complete object.
func (m *Mirror) Upload(ctx context.Context, path, key string, man Manifest) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("mirror: open %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("mirror: stat %s: %w", path, err)
	}
	if man.Size == 0 {
		man.Size = fi.Size()
	} else if man.Size != fi.Size() {
		return fmt.Errorf("mirror: %s is %d bytes, manifest says %d", path, fi.Size(), man.Size)
	}
	if man.MirroredAt.IsZero() {
		man.MirroredAt = time.Now().UTC()
	}

	w, err := m.bucket.NewWriter(ctx, key, &blob.WriterOptions{
		ContentType: "application/octet-stream",
		Metadata: map[string]string{
			"source-url": man.SourceURL,
			"digest":     man.Digest,
			"size":       strconv.FormatInt(man.Size, 10),
		},
	})
	if err != nil {
		return fmt.Errorf("mirror: create object %s: %w", key, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("mirror: write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("mirror: finish object %s: %w", key, err)
	}

	return m.writeManifest(ctx, key, man)
}

// Has reports whether the object already exists with the given digest, by
// consulting its manifest. Used to skip re-uploads of unchanged artifacts.
func (m *Mirror) Has(ctx context.Context, key, digest string) (bool, error) {
	man, err := m.ReadManifest(ctx, key)
	if err != nil {
		return false, err
	}
	if man == nil {
		return false, nil
	}
	return digest != "" && man.Digest == digest, nil
}

// ReadManifest loads the manifest for an object key. A missing manifest is
// not an error and returns (nil, nil).
func (m *Mirror) ReadManifest(ctx context.Context, key string) (*Manifest, error) {
	exists, err := m.bucket.Exists(ctx, key+ManifestSuffix)
	if err != nil {
		return nil, fmt.Errorf("mirror: check manifest %s: %w", key, err)
	}
	if !exists {
		return nil, nil
	}

	data, err := m.bucket.ReadAll(ctx, key+ManifestSuffix)
	if err != nil {
		return nil, fmt.Errorf("mirror: read manifest %s: %w", key, err)
	}

	var man Manifest
	if err := json.Unmarshal(data, &man); err != nil {
		return nil, fmt.Errorf("mirror: parse manifest %s: %w", key, err)
	}
	return &man, nil
}

func (m *Mirror) writeManifest(ctx context.Context, key string, man Manifest) error {
	data, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return fmt.Errorf("mirror: marshal manifest: %w", err)
	}
	opts := &blob.WriterOptions{ContentType: "application/json"}
	if err := m.bucket.WriteAll(ctx, key+ManifestSuffix, data, opts); err != nil {
		return fmt.Errorf("mirror: write manifest %s: %w", key, err)
	}
	return nil
}
