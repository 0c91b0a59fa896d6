// Package progress renders human-readable download progress.
//
// The reporter is a pure observer: workers bump atomic counters as chunks
// start, finish or fail, and a ticker goroutine renders the current state.
// It never blocks the coordinator; under load, ticks simply render the
// latest counter values and intermediate updates are dropped.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalSize:   totalBytes,
//	    TotalChunks: numChunks,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	reporter.ChunkCompleted(chunkSize)
//
// # Output Format
//
//	[parfetch] Downloading https://example.com/WPS_Setup_X64.exe
//	[parfetch] 220.50 MB | 36 chunks x 6.00 MB | 16 workers
//	[parfetch] 45.2% | 99.68 MB / 220.50 MB | 12.40 MB/s | ETA 10s | chunks 16/36
package progress
