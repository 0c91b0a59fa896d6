// Package chunked provides types for planning and tracking chunked downloads.
//
// This package splits a known-size remote file into contiguous byte ranges,
// tracks the per-chunk state machine during a parallel transfer, and persists
// completion state so an interrupted download can resume by chunk index alone.
//
// # Planning
//
// Use [Plan] to partition a file into ranges:
//
//	ranges, err := chunked.Plan(totalSize, chunkSize)
//	// ranges[0] = {Index: 0, Start: 0, End: chunkSize-1}, ...
//
// Plans are deterministic: the same inputs always produce the same partition,
// so a resumed download only needs the indices of completed chunks.
//
// # State tracking
//
// [NewTable] wraps a plan in a state machine. Each chunk moves
// Pending -> InFlight -> Done or Failed, and all transitions go through a
// single mutex so no per-chunk locking is needed:
//
//	table := chunked.NewTable(ranges)
//	rng, ok := table.Claim()       // Pending -> InFlight
//	table.Done(rng.Index, attempts)
//
// # Resume
//
// [Record] is the JSON sidecar written next to the destination file. It is
// saved with a write-to-temp-then-rename pattern after each chunk completes,
// so a crash mid-write never leaves an unreadable record. A record only lists
// a chunk as done after its bytes were written to the destination.
package chunked
