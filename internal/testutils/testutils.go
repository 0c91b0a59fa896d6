// Package testutils provides shared test infrastructure: an httptest
// handler with real partial-content semantics and request counting.
package testutils

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// GenerateTestData generates deterministic test data of the given size.
func GenerateTestData(t *testing.T, size int64) []byte {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251) // prime period so chunk boundaries don't align
	}
	return data
}

// RangeHandler serves a single blob with HEAD metadata and byte-range GET
// support, counting requests so tests can assert how many fetches ran.
type RangeHandler struct {
	Data []byte
	ETag string

	// Intercept, when set, runs before normal handling. Returning true
	// means the request was consumed (e.g. to inject a failure).
	Intercept func(w http.ResponseWriter, r *http.Request) bool

	mu     sync.Mutex
	heads  int
	gets   int
	ranges []string
}

func (h *RangeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	switch r.Method {
	case http.MethodHead:
		h.heads++
	case http.MethodGet:
		h.gets++
		if rh := r.Header.Get("Range"); rh != "" {
			h.ranges = append(h.ranges, rh)
		}
	}
	h.mu.Unlock()

	if h.Intercept != nil && h.Intercept(w, r) {
		return
	}

	size := int64(len(h.Data))
	etag := h.ETag
	if etag == "" {
		etag = "test-etag"
	}

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("ETag", fmt.Sprintf("%q", etag))
		return
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.Header().Set("ETag", fmt.Sprintf("%q", etag))
		w.Write(h.Data)
		return
	}

	start, end, ok := ParseRangeHeader(rangeHeader, size)
	if !ok {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.Header().Set("ETag", fmt.Sprintf("%q", etag))
	w.WriteHeader(http.StatusPartialContent)
	w.Write(h.Data[start : end+1])
}

// Heads returns how many HEAD requests the handler served.
func (h *RangeHandler) Heads() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.heads
}

// Gets returns how many GET requests the handler served.
func (h *RangeHandler) Gets() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gets
}

// Ranges returns the Range header of every ranged GET, in arrival order.
func (h *RangeHandler) Ranges() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.ranges...)
}

// ParseRangeHeader parses "bytes=start-end" and clamps end to size.
func ParseRangeHeader(header string, size int64) (start, end int64, ok bool) {
	header = strings.TrimPrefix(header, "bytes=")
	parts := strings.Split(header, "-")
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || start >= size {
		return 0, 0, false
	}
	end, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if end >= size {
		end = size - 1
	}
	return start, end, true
}
