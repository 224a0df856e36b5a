package framed

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/framedbuf/zstd-framed-buffer-go/env"
)

type wOption func(*writerImpl) error

func WithWLogger(l *zap.Logger) wOption {
	return func(w *writerImpl) error { w.logger = l; return nil }
}

func WithWEnvironment(e env.WEnvironment) wOption {
	return func(w *writerImpl) error { w.env = e; return nil }
}

// WithWFrameSize sets the fixed uncompressed frame size.  Smaller frames give
// finer random-access granularity, bigger frames compress better.
func WithWFrameSize(size uint32) wOption {
	return func(w *writerImpl) error {
		if size == 0 {
			return fmt.Errorf("frame size must be positive")
		}
		w.frameSize = size
		return nil
	}
}

// WithWChecksums controls whether each frame table entry carries a checksum
// of the frame's uncompressed content.  Enabled by default.
func WithWChecksums(enabled bool) wOption {
	return func(w *writerImpl) error { w.codec.checksums = enabled; return nil }
}

// WithWAllowEmpty makes Finish produce an explicit zero-frame container when
// no bytes were written instead of failing with ErrEmptyInput.
func WithWAllowEmpty() wOption {
	return func(w *writerImpl) error { w.allowEmpty = true; return nil }
}

type writeManyOptions struct {
	concurrency   int
	writeCallback func(uint32)
}

type WriteManyOption func(*writeManyOptions) error

// WithConcurrency sets the number of concurrent compression workers.
// Defaults to GOMAXPROCS.
func WithConcurrency(n int) WriteManyOption {
	return func(o *writeManyOptions) error {
		if n < 1 {
			return fmt.Errorf("concurrency must be positive: %d", n)
		}
		o.concurrency = n
		return nil
	}
}

// WithWriteCallback is called with the uncompressed size of every frame
// appended to the container.
func WithWriteCallback(cb func(size uint32)) WriteManyOption {
	return func(o *writeManyOptions) error {
		o.writeCallback = cb
		return nil
	}
}
