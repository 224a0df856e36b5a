package main

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	framed "github.com/framedbuf/zstd-framed-buffer-go"
)

var (
	extractInput  string
	extractOutput string
	extractOffset uint64
	extractLength int64
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract a byte range from a container",
	Long: `Extract decompresses only the frames covering the requested range.
Without --length the rest of the stream from --offset is extracted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		defer func() {
			_ = logger.Sync()
		}()

		in, err := os.Open(extractInput)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer in.Close()

		var out io.Writer
		if extractOutput == "-" {
			out = os.Stdout
		} else {
			f, err := os.Create(extractOutput)
			if err != nil {
				return fmt.Errorf("failed to create output: %w", err)
			}
			defer f.Close()
			out = f
		}

		dec, err := zstd.NewReader(nil)
		if err != nil {
			return fmt.Errorf("failed to create decoder: %w", err)
		}
		defer dec.Close()

		r, err := framed.NewReader(in, dec, framed.WithRLogger(logger))
		if err != nil {
			return fmt.Errorf("failed to open container: %w", err)
		}
		defer r.Close()

		length := extractLength
		if length < 0 {
			if uint64(r.Size()) < extractOffset {
				return fmt.Errorf("offset %d past end of stream (%d)", extractOffset, r.Size())
			}
			length = r.Size() - int64(extractOffset)
		}

		data, err := r.ReadRange(extractOffset, uint64(length))
		if err != nil {
			return fmt.Errorf("failed to read range: %w", err)
		}

		if _, err := out.Write(data); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	},
}

func init() {
	extractCmd.Flags().StringVarP(&extractInput, "file", "f", "", "input container")
	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", "-", "output filename (- for stdout)")
	extractCmd.Flags().Uint64Var(&extractOffset, "offset", 0, "uncompressed byte offset to start from")
	extractCmd.Flags().Int64Var(&extractLength, "length", -1, "number of bytes to extract")
	_ = extractCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(extractCmd)
}
