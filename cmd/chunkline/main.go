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
	ExitValidationError = 3
	ExitSplitError      = 4
	ExitTaskError       = 5
	ExitMergeError      = 6
	ExitPublishError    = 7
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
	case "run":
		return runJob(cmdArgs)
	case "worker":
		return runWorker(cmdArgs)
	case "transforms":
		return runTransforms(cmdArgs)
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
	fmt.Fprintln(os.Stderr, `Usage: chunkline <command> [options]

Commands:
  run         Split a file into chunks, transform every line in parallel, merge the results
  worker      Transform a single chunk (used internally by 'run -isolate')
  transforms  List the available transforms

Run 'chunkline <command> -h' for command-specific help.`)
}
