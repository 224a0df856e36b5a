package main

import (
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	framed "github.com/framedbuf/zstd-framed-buffer-go"
)

var infoInput string

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the layout of a container",
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := os.Open(infoInput)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer in.Close()

		stat, err := in.Stat()
		if err != nil {
			return fmt.Errorf("failed to stat input: %w", err)
		}

		dec, err := zstd.NewReader(nil)
		if err != nil {
			return fmt.Errorf("failed to create decoder: %w", err)
		}
		defer dec.Close()

		r, err := framed.NewReader(in, dec)
		if err != nil {
			return fmt.Errorf("failed to open container: %w", err)
		}
		defer r.Close()

		var compressed uint64
		for id := int64(0); id < r.NumFrames(); id++ {
			compressed += uint64(r.GetIndexByID(id).CompSize)
		}

		fmt.Printf("frame size:          %d\n", r.FrameSize())
		fmt.Printf("frames:              %d\n", r.NumFrames())
		fmt.Printf("uncompressed size:   %d\n", r.Size())
		fmt.Printf("compressed payload:  %d\n", compressed)
		fmt.Printf("container size:      %d\n", stat.Size())
		if r.Size() > 0 {
			fmt.Printf("ratio:               %.3f\n", float64(stat.Size())/float64(r.Size()))
		}
		return nil
	},
}

func init() {
	infoCmd.Flags().StringVarP(&infoInput, "file", "f", "", "input container")
	_ = infoCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(infoCmd)
}
