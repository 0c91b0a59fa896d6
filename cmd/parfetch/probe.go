package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Liu8Can/parfetch/internal/download"
	parhttp "github.com/Liu8Can/parfetch/internal/http"
	"github.com/Liu8Can/parfetch/internal/progress"
)

// runProbe prints remote file metadata without downloading anything.
func runProbe(args []string) int {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)

	url := fs.String("url", "", "URL to probe (required)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: parfetch probe [options]

Query a URL for size, ETag and range-request support.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *url == "" {
		fmt.Fprintln(os.Stderr, "Error: -url is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	info, err := download.Probe(ctx, *url, parhttp.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitSourceNotAccess
	}

	fmt.Printf("URL:     %s\n", *url)
	if info.Size > 0 {
		fmt.Printf("Size:    %d bytes (%s)\n", info.Size, progress.FormatBytes(info.Size))
	} else {
		fmt.Println("Size:    unknown")
	}
	if info.ETag != "" {
		fmt.Printf("ETag:    %s\n", info.ETag)
	}
	fmt.Printf("Ranges:  %v\n", info.AcceptsRanges)

	return ExitSuccess
}
