// Command msgctl is the operator tool for the messaging store: export,
// import, verify and reindex a stopped server's data directory, and watch
// a user's inbox against a running server.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
