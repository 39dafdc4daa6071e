package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/ligustah/chunkline/pkg/transform"
)

// runTransforms lists the registered transforms, one per line.
func runTransforms(args []string) int {
	fs := flag.NewFlagSet("transforms", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: chunkline transforms

List the transforms accepted by 'run -transform'. Names ending in :ARG take
an argument, e.g. repeat:10.`)
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}

	for _, name := range transform.Names() {
		fmt.Fprintln(os.Stdout, name)
	}
	return ExitSuccess
}
