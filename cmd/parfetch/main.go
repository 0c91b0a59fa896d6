package main

import (
	"fmt"
	"os"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitGeneralError    = 1
	ExitInvalidArgs     = 2
	ExitSourceNotAccess = 3
	ExitVerifyFailed    = 4
	ExitStorageError    = 5
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "fetch":
		return runFetch(cmdArgs)
	case "probe":
		return runProbe(cmdArgs)
	case "verify":
		return runVerify(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: parfetch <command> [options]

Commands:
  fetch   Download a file in parallel chunks with resume and verification
  probe   Show remote file metadata (size, ETag, range support)
  verify  Compute or check the SHA-256 digest of a local file

Run 'parfetch <command> -h' for command-specific help.`)
}
