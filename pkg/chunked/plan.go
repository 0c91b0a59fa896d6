package chunked

import "errors"

// ErrInvalidSize is returned by Plan when the total size or chunk size
// is not positive.
var ErrInvalidSize = errors.New("chunked: size and chunk size must be positive")

// MinChunkSize is the smallest chunk a plan will produce when clamping.
// Chunks below this are not worth the per-request overhead.
const MinChunkSize = 1024 * 1024

// Range is a contiguous byte range of the target file, the unit of
// concurrent transfer. Start and End are inclusive, matching the HTTP
// Range header convention.
type Range struct {
	Index int
	Start int64
	End   int64
}

// Length returns the number of bytes in the range.
func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// Plan partitions [0, totalSize) into ordered, contiguous, non-overlapping
// ranges of chunkSize bytes. The last range may be shorter. Returns
// ErrInvalidSize if either argument is not positive.
func Plan(totalSize, chunkSize int64) ([]Range, error) {
	if totalSize <= 0 || chunkSize <= 0 {
		return nil, ErrInvalidSize
	}

	n := int((totalSize + chunkSize - 1) / chunkSize)
	ranges := make([]Range, 0, n)
	for start := int64(0); start < totalSize; start += chunkSize {
		end := start + chunkSize - 1
		if end > totalSize-1 {
			end = totalSize - 1
		}
		ranges = append(ranges, Range{Index: len(ranges), Start: start, End: end})
	}

	return ranges, nil
}

// ClampChunkSize adjusts a configured chunk size so that a file of totalSize
// bytes keeps all workers busy without dropping below MinChunkSize. A chunk
// is never larger than the configured size and never smaller than 1MiB.
func ClampChunkSize(chunkSize, totalSize int64, workers int) int64 {
	if workers < 1 {
		workers = 1
	}
	perWorker := totalSize / int64(workers)
	if perWorker < chunkSize {
		chunkSize = perWorker
	}
	if chunkSize < MinChunkSize {
		chunkSize = MinChunkSize
	}
	return chunkSize
}
