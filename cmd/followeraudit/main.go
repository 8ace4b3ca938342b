package main

import (
	"context"
	"fmt"
	"os"
)

// main defers all execution to the Cobra CLI.
func main() {
	if err := execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
