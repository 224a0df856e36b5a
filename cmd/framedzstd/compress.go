package main

import (
	"bytes"
	"crypto/sha512"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	framed "github.com/framedbuf/zstd-framed-buffer-go"
)

var (
	compressInput  string
	compressOutput string
	frameSize      uint32
	level          string
	noChecksums    bool
	verify         bool
)

var compressCmd = &cobra.Command{
	Use:   "compress",
	Short: "Compress a file into a seekable framed container",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		defer func() {
			_ = logger.Sync()
		}()

		in, err := os.Open(compressInput)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer in.Close()

		out, err := os.Create(compressOutput)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer out.Close()

		ok, encoderLevel := zstd.EncoderLevelFromString(level)
		if !ok {
			return fmt.Errorf("unknown compression level: %q", level)
		}
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encoderLevel))
		if err != nil {
			return fmt.Errorf("failed to create encoder: %w", err)
		}
		defer enc.Close()

		w, err := framed.NewWriter(out, enc,
			framed.WithWLogger(logger),
			framed.WithWFrameSize(frameSize),
			framed.WithWChecksums(!noChecksums))
		if err != nil {
			return fmt.Errorf("failed to create writer: %w", err)
		}

		var bar *progressbar.ProgressBar
		if stat, err := in.Stat(); err == nil {
			bar = progressbar.DefaultBytes(stat.Size(), "compressing")
		} else {
			bar = progressbar.DefaultBytes(-1, "compressing")
		}

		expected := sha512.New512_256()
		src := io.TeeReader(in, expected)

		written, err := w.WriteMany(cmd.Context(), src,
			framed.WithWriteCallback(func(size uint32) {
				_ = bar.Add(int(size))
			}))
		if err != nil {
			return fmt.Errorf("failed to compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("failed to finalize container: %w", err)
		}
		_ = bar.Finish()
		logger.Info("compressed", zap.Int64("bytes", written),
			zap.String("output", compressOutput))

		if verify {
			return verifyOutput(logger, expected.Sum(nil))
		}
		return nil
	},
}

func verifyOutput(logger *zap.Logger, expected []byte) error {
	f, err := os.Open(compressOutput)
	if err != nil {
		return fmt.Errorf("failed to reopen output: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	defer dec.Close()

	r, err := framed.NewReader(f, dec, framed.WithRLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to open container: %w", err)
	}
	defer r.Close()

	actual := sha512.New512_256()
	if _, err := io.CopyBuffer(actual, r, make([]byte, 128<<10)); err != nil {
		return fmt.Errorf("failed to read container back: %w", err)
	}

	if !bytes.Equal(expected, actual.Sum(nil)) {
		return fmt.Errorf("verification failed: checksum mismatch")
	}
	logger.Info("verification passed")
	return nil
}

func init() {
	compressCmd.Flags().StringVarP(&compressInput, "file", "f", "", "input filename")
	compressCmd.Flags().StringVarP(&compressOutput, "output", "o", "", "output filename")
	compressCmd.Flags().Uint32Var(&frameSize, "frame-size", 8<<10, "uncompressed frame size in bytes")
	compressCmd.Flags().StringVar(&level, "level", "default", "compression level (fastest, default, better, best)")
	compressCmd.Flags().BoolVar(&noChecksums, "no-checksums", false, "omit per-frame checksums")
	compressCmd.Flags().BoolVarP(&verify, "verify", "t", false, "read the container back and verify its content")
	_ = compressCmd.MarkFlagRequired("file")
	_ = compressCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(compressCmd)
}
