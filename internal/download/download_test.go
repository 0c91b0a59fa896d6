package download

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	parhttp "github.com/Liu8Can/parfetch/internal/http"
	"github.com/Liu8Can/parfetch/internal/testutils"
	"github.com/Liu8Can/parfetch/internal/verify"
	"github.com/Liu8Can/parfetch/pkg/chunked"
)

const testChunkSize = 16 * 1024

func hexDigest(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// noSleep replaces retry waits so tests finish instantly.
func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func testOptions() Options {
	return Options{
		Workers:    4,
		ChunkSize:  testChunkSize,
		MaxRetries: 5,
		sleep:      noSleep,
	}
}

// rangeIndex recovers the chunk index from a Range request header.
func rangeIndex(r *http.Request) int {
	header := strings.TrimPrefix(r.Header.Get("Range"), "bytes=")
	start, _ := strconv.ParseInt(strings.Split(header, "-")[0], 10, 64)
	return int(start / testChunkSize)
}

func TestRunChunked(t *testing.T) {
	data := testutils.GenerateTestData(t, 100*1024) // 7 chunks, last one short
	handler := &testutils.RangeHandler{Data: data}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	task := Task{URL: srv.URL, Dest: dest, Digest: hexDigest(data)}

	result, err := Run(context.Background(), task, testOptions())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Outcome != OutcomeVerified {
		t.Errorf("outcome = %q, want %q", result.Outcome, OutcomeVerified)
	}
	if result.Bytes != int64(len(data)) {
		t.Errorf("bytes = %d, want %d", result.Bytes, len(data))
	}
	if result.Digest != hexDigest(data) {
		t.Errorf("digest = %q, want %q", result.Digest, hexDigest(data))
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read destination: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("destination content differs from source")
	}

	if gets := handler.Gets(); gets != 7 {
		t.Errorf("server saw %d GETs, want 7", gets)
	}

	if _, err := os.Stat(chunked.RecordPath(dest)); !os.IsNotExist(err) {
		t.Error("progress record should be removed after success")
	}
}

func TestRunWithoutDigestIsUnverified(t *testing.T) {
	data := testutils.GenerateTestData(t, 40*1024)
	srv := httptest.NewServer(&testutils.RangeHandler{Data: data})
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	result, err := Run(context.Background(), Task{URL: srv.URL, Dest: dest}, testOptions())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Outcome != OutcomeUnverified {
		t.Errorf("outcome = %q, want %q", result.Outcome, OutcomeUnverified)
	}
	if result.Digest == "" {
		t.Error("digest should be computed even without an expected value")
	}
}

func TestRunResumeCompleteRecord(t *testing.T) {
	data := testutils.GenerateTestData(t, 64*1024) // 4 chunks
	handler := &testutils.RangeHandler{Data: data, ETag: "v1"}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	if err := os.WriteFile(dest, data, 0644); err != nil {
		t.Fatal(err)
	}

	rec := chunked.NewRecord(srv.URL, dest, int64(len(data)), testChunkSize, "v1")
	for i := 0; i < 4; i++ {
		rec.MarkDone(i)
	}
	if err := rec.Save(chunked.RecordPath(dest)); err != nil {
		t.Fatal(err)
	}

	task := Task{URL: srv.URL, Dest: dest, Digest: hexDigest(data)}
	result, err := Run(context.Background(), task, testOptions())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.ResumedChunks != 4 {
		t.Errorf("resumed %d chunks, want 4", result.ResumedChunks)
	}
	if result.Outcome != OutcomeVerified {
		t.Errorf("outcome = %q, want %q", result.Outcome, OutcomeVerified)
	}
	if gets := handler.Gets(); gets != 0 {
		t.Errorf("server saw %d GETs, want 0 for a complete record", gets)
	}
}

func TestRunResumePartialRecord(t *testing.T) {
	data := testutils.GenerateTestData(t, 64*1024) // 4 chunks
	handler := &testutils.RangeHandler{Data: data}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	// Chunk 0 already on disk, the rest zeroed.
	partial := make([]byte, len(data))
	copy(partial[:testChunkSize], data[:testChunkSize])
	dest := filepath.Join(t.TempDir(), "out.bin")
	if err := os.WriteFile(dest, partial, 0644); err != nil {
		t.Fatal(err)
	}

	rec := chunked.NewRecord(srv.URL, dest, int64(len(data)), testChunkSize, "")
	rec.MarkDone(0)
	if err := rec.Save(chunked.RecordPath(dest)); err != nil {
		t.Fatal(err)
	}

	task := Task{URL: srv.URL, Dest: dest, Digest: hexDigest(data)}
	result, err := Run(context.Background(), task, testOptions())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.ResumedChunks != 1 {
		t.Errorf("resumed %d chunks, want 1", result.ResumedChunks)
	}
	if gets := handler.Gets(); gets != 3 {
		t.Errorf("server saw %d GETs, want 3", gets)
	}

	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, data) {
		t.Error("destination content differs from source after resume")
	}
}

func TestRunForceIgnoresRecord(t *testing.T) {
	data := testutils.GenerateTestData(t, 64*1024)
	handler := &testutils.RangeHandler{Data: data}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	if err := os.WriteFile(dest, data, 0644); err != nil {
		t.Fatal(err)
	}
	rec := chunked.NewRecord(srv.URL, dest, int64(len(data)), testChunkSize, "")
	for i := 0; i < 4; i++ {
		rec.MarkDone(i)
	}
	if err := rec.Save(chunked.RecordPath(dest)); err != nil {
		t.Fatal(err)
	}

	opts := testOptions()
	opts.Force = true
	result, err := Run(context.Background(), Task{URL: srv.URL, Dest: dest}, opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.ResumedChunks != 0 {
		t.Errorf("resumed %d chunks, want 0 with Force", result.ResumedChunks)
	}
	if gets := handler.Gets(); gets != 4 {
		t.Errorf("server saw %d GETs, want 4", gets)
	}
}

func TestRunMismatchedRecordRestartsClean(t *testing.T) {
	data := testutils.GenerateTestData(t, 64*1024)
	handler := &testutils.RangeHandler{Data: data}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	if err := os.WriteFile(dest, data, 0644); err != nil {
		t.Fatal(err)
	}
	// Record from a different plan: chunk size changed between runs.
	rec := chunked.NewRecord(srv.URL, dest, int64(len(data)), 8*1024, "")
	rec.MarkDone(0)
	if err := rec.Save(chunked.RecordPath(dest)); err != nil {
		t.Fatal(err)
	}

	result, err := Run(context.Background(), Task{URL: srv.URL, Dest: dest}, testOptions())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.ResumedChunks != 0 {
		t.Errorf("resumed %d chunks from a mismatched record, want 0", result.ResumedChunks)
	}
	if gets := handler.Gets(); gets != 4 {
		t.Errorf("server saw %d GETs, want 4", gets)
	}
}

func TestRunRetriesTransientFailures(t *testing.T) {
	data := testutils.GenerateTestData(t, 48*1024) // 3 chunks
	var failures atomic.Int32
	handler := &testutils.RangeHandler{Data: data}
	handler.Intercept = func(w http.ResponseWriter, r *http.Request) bool {
		// Chunk 1 fails twice before succeeding.
		if r.Method == http.MethodGet && r.Header.Get("Range") != "" && rangeIndex(r) == 1 {
			if failures.Add(1) <= 2 {
				w.WriteHeader(http.StatusInternalServerError)
				return true
			}
		}
		return false
	}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	task := Task{URL: srv.URL, Dest: dest, Digest: hexDigest(data)}

	opts := testOptions()
	opts.Workers = 1
	result, err := Run(context.Background(), task, opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Outcome != OutcomeVerified {
		t.Errorf("outcome = %q, want %q", result.Outcome, OutcomeVerified)
	}
	// 3 chunks plus 2 failed attempts on chunk 1.
	if gets := handler.Gets(); gets != 5 {
		t.Errorf("server saw %d GETs, want 5", gets)
	}
}

func TestRunFailFastStopsDispatch(t *testing.T) {
	data := testutils.GenerateTestData(t, 64*1024) // 4 chunks
	handler := &testutils.RangeHandler{Data: data}
	handler.Intercept = func(w http.ResponseWriter, r *http.Request) bool {
		if r.Method == http.MethodGet && r.Header.Get("Range") != "" && rangeIndex(r) == 1 {
			w.WriteHeader(http.StatusNotFound) // fatal, never retried
			return true
		}
		return false
	}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	opts := testOptions()
	opts.Workers = 1

	result, err := Run(context.Background(), Task{URL: srv.URL, Dest: dest}, opts)
	if result != nil {
		t.Fatal("failed run must not produce a result")
	}

	var failed *FailedError
	if !errors.As(err, &failed) {
		t.Fatalf("error = %v, want *FailedError", err)
	}
	if failed.Cause.Index != 1 {
		t.Errorf("failing chunk = %d, want 1", failed.Cause.Index)
	}

	// With one worker, nothing past the failing chunk may be dispatched.
	for _, rh := range handler.Ranges() {
		start, _, _ := testutils.ParseRangeHeader(rh, int64(len(data)))
		if start >= 2*testChunkSize {
			t.Errorf("chunk dispatched after failure: %s", rh)
		}
	}

	// Partial progress survives for a later resume.
	rec, loadErr := chunked.LoadRecord(chunked.RecordPath(dest))
	if loadErr != nil || rec == nil {
		t.Fatalf("progress record missing after failure: %v", loadErr)
	}
	if len(rec.Done) != 1 || rec.Done[0] != 0 {
		t.Errorf("record done = %v, want [0]", rec.Done)
	}
}

func TestRunRetryBudgetExhausted(t *testing.T) {
	data := testutils.GenerateTestData(t, 32*1024) // 2 chunks
	handler := &testutils.RangeHandler{Data: data}
	handler.Intercept = func(w http.ResponseWriter, r *http.Request) bool {
		if r.Method == http.MethodGet && r.Header.Get("Range") != "" && rangeIndex(r) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return true
		}
		return false
	}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	opts := testOptions()
	opts.Workers = 1
	opts.MaxRetries = 3

	_, err := Run(context.Background(), Task{URL: srv.URL, Dest: dest}, opts)
	var failed *FailedError
	if !errors.As(err, &failed) {
		t.Fatalf("error = %v, want *FailedError", err)
	}
	if failed.Cause.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", failed.Cause.Attempts)
	}
}

func TestRunDigestMismatch(t *testing.T) {
	data := testutils.GenerateTestData(t, 32*1024)
	srv := httptest.NewServer(&testutils.RangeHandler{Data: data})
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	task := Task{URL: srv.URL, Dest: dest, Digest: strings.Repeat("0", 64)}

	result, err := Run(context.Background(), task, testOptions())
	if result != nil {
		t.Fatal("mismatched digest must not produce a result")
	}

	var mismatch *verify.MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("error = %v, want *verify.MismatchError", err)
	}
	if mismatch.Got != hexDigest(data) {
		t.Errorf("computed digest = %q, want %q", mismatch.Got, hexDigest(data))
	}

	// File stays for inspection, record goes: resuming cannot repair it.
	if _, statErr := os.Stat(dest); statErr != nil {
		t.Error("destination file should survive a digest mismatch")
	}
	if _, statErr := os.Stat(chunked.RecordPath(dest)); !os.IsNotExist(statErr) {
		t.Error("progress record should be removed on digest mismatch")
	}
}

func TestRunCancellationLeavesResumableRecord(t *testing.T) {
	data := testutils.GenerateTestData(t, 64*1024) // 4 chunks
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := &testutils.RangeHandler{Data: data}
	handler.Intercept = func(w http.ResponseWriter, r *http.Request) bool {
		if r.Method == http.MethodGet && r.Header.Get("Range") != "" && rangeIndex(r) >= 1 {
			cancel()
			w.WriteHeader(http.StatusInternalServerError)
			return true
		}
		return false
	}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	opts := testOptions()
	opts.Workers = 1

	result, err := Run(ctx, Task{URL: srv.URL, Dest: dest}, opts)
	if err != nil {
		t.Fatalf("cancellation is not an error, got: %v", err)
	}
	if result.Outcome != OutcomeCancelled {
		t.Errorf("outcome = %q, want %q", result.Outcome, OutcomeCancelled)
	}
	if result.Bytes != testChunkSize {
		t.Errorf("bytes = %d, want %d", result.Bytes, testChunkSize)
	}

	rec, loadErr := chunked.LoadRecord(chunked.RecordPath(dest))
	if loadErr != nil || rec == nil {
		t.Fatalf("progress record missing after cancellation: %v", loadErr)
	}
	if len(rec.Done) != 1 || rec.Done[0] != 0 {
		t.Errorf("record done = %v, want [0]", rec.Done)
	}
}

func TestRunFallbackWhenRangesNotAdvertised(t *testing.T) {
	data := testutils.GenerateTestData(t, 48*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			return // no Accept-Ranges
		}
		w.Write(data)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	task := Task{URL: srv.URL, Dest: dest, Digest: hexDigest(data)}

	result, err := Run(context.Background(), task, testOptions())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Outcome != OutcomeVerified {
		t.Errorf("outcome = %q, want %q", result.Outcome, OutcomeVerified)
	}

	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, data) {
		t.Error("destination content differs from source")
	}
}

func TestRunFallbackWhenRangesIgnored(t *testing.T) {
	data := testutils.GenerateTestData(t, 48*1024)
	handler := &testutils.RangeHandler{Data: data}
	handler.Intercept = func(w http.ResponseWriter, r *http.Request) bool {
		// Accept-Ranges advertised but ranged GETs answered with the
		// whole body and no Content-Range.
		if r.Method == http.MethodGet && r.Header.Get("Range") != "" {
			w.Write(data)
			return true
		}
		return false
	}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	task := Task{URL: srv.URL, Dest: dest, Digest: hexDigest(data)}

	opts := testOptions()
	opts.Workers = 1
	result, err := Run(context.Background(), task, opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Outcome != OutcomeVerified {
		t.Errorf("outcome = %q, want %q", result.Outcome, OutcomeVerified)
	}

	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, data) {
		t.Error("destination content differs from source")
	}
}

func TestRunSizeDisagreement(t *testing.T) {
	data := testutils.GenerateTestData(t, 32*1024)
	srv := httptest.NewServer(&testutils.RangeHandler{Data: data})
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	task := Task{URL: srv.URL, Dest: dest, Size: 999}

	if _, err := Run(context.Background(), task, testOptions()); err == nil {
		t.Fatal("expected an error when the server size disagrees with the task")
	}
}

func TestRunRejectsEmptyTask(t *testing.T) {
	if _, err := Run(context.Background(), Task{}, testOptions()); err == nil {
		t.Fatal("expected an error for a task without URL and destination")
	}
}

func TestProbe(t *testing.T) {
	data := testutils.GenerateTestData(t, 32*1024)
	srv := httptest.NewServer(&testutils.RangeHandler{Data: data, ETag: "probe-tag"})
	defer srv.Close()

	info, err := Probe(context.Background(), srv.URL, parhttp.Options{})
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if info.Size != int64(len(data)) {
		t.Errorf("size = %d, want %d", info.Size, len(data))
	}
	if !info.AcceptsRanges {
		t.Error("expected range support to be reported")
	}
	if info.ETag != "probe-tag" {
		t.Errorf("etag = %q, want %q", info.ETag, "probe-tag")
	}
}
