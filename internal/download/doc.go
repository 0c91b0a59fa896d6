// Package download orchestrates parallel chunked HTTP downloads to disk.
//
// This package coordinates between the HTTP client and the chunked state
// table to fetch a file as concurrent byte-range requests written directly
// into a pre-allocated destination. It manages the worker pool, the resume
// record, the retry budget per chunk, and final integrity verification.
//
// # Usage
//
// The main entry point is Run:
//
//	result, err := download.Run(ctx, download.Task{
//	    URL:    url,
//	    Dest:   "downloads/WPS_Setup_X64.exe",
//	    Digest: expectedSHA256, // optional
//	}, download.Options{Workers: 16})
//
// # Worker Pool
//
// Workers receive chunk assignments from a channel, make HTTP range
// requests, and write responses at the chunk offset. Each chunk carries its
// own bounded retry budget with exponential backoff. The first chunk to
// exhaust its budget stops dispatch of new chunks (fail fast); in-flight
// fetches finish naturally.
//
// # Resume
//
// A JSON sidecar next to the destination records completed chunk indices
// after the bytes land on disk. Re-running the same task skips those chunks;
// a task whose record is already complete performs no network fetch at all,
// only a re-verify.
//
// # Fallback
//
// Servers that do not honor range requests (no Accept-Ranges, or a 200
// response without Content-Range) get a single-stream download instead.
// The fallback cannot resume, so a failed attempt removes the partial file.
package download
