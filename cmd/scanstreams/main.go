// Package main implements the scanstreams command line entry point.
// Scanstreams is a distributed content scanner: sources are explored into
// handles, handles are converted into representations, and representations
// are matched against a composable rule tree, with every hop carried on
// durable broker queues.
package main

import (
	"fmt"
	"os"
	"runtime"
)

const appName = "scanstreams"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
