package main

import (
	"log"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags.
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "framedzstd",
	Short: "Seekable fixed-frame zstd containers",
	Long: `framedzstd creates and inspects seekable compressed containers that
store a byte stream as independently compressed fixed-size frames, so any
byte range can be extracted without decompressing the whole stream.

Examples:
  # Compress a file
  framedzstd compress -f input.bin -o input.fzst

  # Extract 4 KiB starting at offset 1 MiB
  framedzstd extract -f input.fzst -o slice.bin --offset 1048576 --length 4096

  # Show container layout
  framedzstd info -f input.fzst`,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

func newLogger() *zap.Logger {
	var logger *zap.Logger
	var err error
	if verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	return logger
}
