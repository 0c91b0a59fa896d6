package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	parhttp "github.com/Liu8Can/parfetch/internal/http"
	"github.com/Liu8Can/parfetch/internal/testutils"
	"github.com/Liu8Can/parfetch/pkg/chunked"
)

func newTestFetcher(t *testing.T, url string, retries int) *fetcher {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "dest.bin"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return &fetcher{
		client:  parhttp.NewClient(parhttp.Options{}),
		url:     url,
		dest:    f,
		retries: retries,
		sleep:   noSleep,
	}
}

func TestFetchCountsAttempts(t *testing.T) {
	data := testutils.GenerateTestData(t, 2*testChunkSize)
	var calls atomic.Int32
	handler := &testutils.RangeHandler{Data: data}
	handler.Intercept = func(w http.ResponseWriter, r *http.Request) bool {
		// Two transient failures, then success.
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return true
		}
		return false
	}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	ftr := newTestFetcher(t, srv.URL, 5)
	attempts, err := ftr.fetch(context.Background(), chunked.Range{Index: 0, Start: 0, End: testChunkSize - 1})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestFetchFatalErrorSkipsRetries(t *testing.T) {
	data := testutils.GenerateTestData(t, testChunkSize)
	handler := &testutils.RangeHandler{Data: data}
	handler.Intercept = func(w http.ResponseWriter, r *http.Request) bool {
		w.WriteHeader(http.StatusNotFound)
		return true
	}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	ftr := newTestFetcher(t, srv.URL, 5)
	attempts, err := ftr.fetch(context.Background(), chunked.Range{Index: 0, Start: 0, End: testChunkSize - 1})
	if err == nil {
		t.Fatal("expected an error for a 404")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 for a fatal error", attempts)
	}
	if gets := handler.Gets(); gets != 1 {
		t.Errorf("server saw %d GETs, want 1", gets)
	}
}

func TestFetchExhaustsBudget(t *testing.T) {
	data := testutils.GenerateTestData(t, testChunkSize)
	handler := &testutils.RangeHandler{Data: data}
	handler.Intercept = func(w http.ResponseWriter, r *http.Request) bool {
		w.WriteHeader(http.StatusInternalServerError)
		return true
	}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	ftr := newTestFetcher(t, srv.URL, 3)
	attempts, err := ftr.fetch(context.Background(), chunked.Range{Index: 0, Start: 0, End: testChunkSize - 1})
	if err == nil {
		t.Fatal("expected an error after exhausting the budget")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if gets := handler.Gets(); gets != 3 {
		t.Errorf("server saw %d GETs, want 3", gets)
	}
}
