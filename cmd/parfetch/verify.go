package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/Liu8Can/parfetch/internal/verify"
)

// runVerify computes the SHA-256 of a local file and optionally checks it
// against an expected digest.
func runVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)

	file := fs.String("file", "", "File to verify (required)")
	digest := fs.String("digest", "", "Expected SHA-256 digest (hex); omit to just print the digest")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: parfetch verify [options]

Compute the SHA-256 digest of a local file, optionally checking it against
an expected value.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *file == "" {
		fmt.Fprintln(os.Stderr, "Error: -file is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	computed, err := verify.File(*file, *digest)
	if err != nil {
		var mismatch *verify.MismatchError
		if errors.As(err, &mismatch) {
			fmt.Fprintf(os.Stderr, "MISMATCH %s\n  want %s\n  got  %s\n", *file, mismatch.Want, mismatch.Got)
			return ExitVerifyFailed
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}

	fmt.Printf("%s  %s\n", computed, *file)
	return ExitSuccess
}
