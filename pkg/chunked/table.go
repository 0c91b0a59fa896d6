package chunked

import (
	"fmt"
	"sync"
)

// Status represents the state of a chunk during download.
type Status string

const (
	// StatusPending means the chunk has not been dispatched yet.
	StatusPending Status = "pending"
	// StatusInFlight means a worker is currently fetching the chunk.
	StatusInFlight Status = "in_flight"
	// StatusDone means the chunk's bytes were written to the destination.
	StatusDone Status = "done"
	// StatusFailed means the chunk exhausted its retry budget.
	StatusFailed Status = "failed"
)

// entry is the per-chunk slot in the table.
type entry struct {
	status   Status
	attempts int
}

// Table tracks the state of every chunk in a plan. All transitions go
// through one mutex; at most one worker holds a chunk in flight at a time.
type Table struct {
	mu      sync.Mutex
	ranges  []Range
	entries []entry
	next    int
	done    int
}

// NewTable creates a table with every chunk pending.
func NewTable(ranges []Range) *Table {
	entries := make([]entry, len(ranges))
	for i := range entries {
		entries[i].status = StatusPending
	}
	return &Table{
		ranges:  ranges,
		entries: entries,
	}
}

func (t *Table) status(i int) Status {
	return t.entries[i].status
}

// Restore marks the given chunk indices as done without dispatching them.
// Used when resuming from a progress record. Unknown indices are ignored
// rather than trusted.
func (t *Table) Restore(doneIndices []int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, idx := range doneIndices {
		if idx < 0 || idx >= len(t.entries) {
			continue
		}
		if t.status(idx) != StatusDone {
			t.entries[idx].status = StatusDone
			t.done++
		}
	}
}

// Claim returns the next pending chunk and marks it in flight. The second
// return value is false when no pending chunks remain.
func (t *Table) Claim() (Range, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for ; t.next < len(t.ranges); t.next++ {
		if t.status(t.next) == StatusPending {
			t.entries[t.next].status = StatusInFlight
			rng := t.ranges[t.next]
			t.next++
			return rng, true
		}
	}
	return Range{}, false
}

// Done transitions an in-flight chunk to done and records how many fetch
// attempts it took.
func (t *Table) Done(idx, attempts int) error {
	return t.transition(idx, attempts, StatusDone)
}

// Fail transitions an in-flight chunk to failed.
func (t *Table) Fail(idx, attempts int) error {
	return t.transition(idx, attempts, StatusFailed)
}

func (t *Table) transition(idx, attempts int, to Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx < 0 || idx >= len(t.entries) {
		return fmt.Errorf("chunked: chunk index %d out of range", idx)
	}
	if t.status(idx) != StatusInFlight {
		return fmt.Errorf("chunked: chunk %d is %s, not in flight", idx, t.status(idx))
	}
	t.entries[idx].status = to
	t.entries[idx].attempts = attempts
	if to == StatusDone {
		t.done++
	}
	return nil
}

// Status returns the current state of a chunk.
func (t *Table) Status(idx int) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.entries) {
		return ""
	}
	return t.status(idx)
}

// Attempts returns the number of fetch attempts recorded for a chunk.
func (t *Table) Attempts(idx int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.entries) {
		return 0
	}
	return t.entries[idx].attempts
}

// DoneCount returns how many chunks are done.
func (t *Table) DoneCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// AllDone reports whether every chunk is done.
func (t *Table) AllDone() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done == len(t.entries)
}

// DoneIndices returns the sorted indices of all done chunks.
func (t *Table) DoneIndices() []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]int, 0, t.done)
	for i := range t.entries {
		if t.status(i) == StatusDone {
			out = append(out, i)
		}
	}
	return out
}

// Len returns the number of chunks in the table.
func (t *Table) Len() int {
	return len(t.ranges)
}
