// Package main provides the framedzstd CLI for creating and inspecting
// seekable framed-zstd containers.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
