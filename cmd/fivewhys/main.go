// fivewhys is the command-line client: run, mcp, report, sidecar.
//
// Usage:
//
//	fivewhys run "<problem statement>" [--offline] [--report md]
//	fivewhys mcp [--offline]
//	fivewhys report <session-id> [--format md|html|xlsx|yaml|json] [-o file]
//	fivewhys sidecar [--listen :50051] [--offline]
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
