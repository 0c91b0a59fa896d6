// Package config defines configuration for the parfetch CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (DOWNLOAD_THREADS, CHUNK_SIZE, MAX_RETRIES)
//   - YAML configuration file
//
// Precedence is file < environment < flags; later sources override earlier
// ones through [Config.Merge].
//
// The environment names match the scheduler that drives the engine, which
// exports DOWNLOAD_THREADS, CHUNK_SIZE and MAX_RETRIES for every run.
//
// Workers set to 0 means "auto": size the pool from the machine's logical
// CPUs and available memory via [AutoWorkers].
package config
