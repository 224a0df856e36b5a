package framed

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/framedbuf/zstd-framed-buffer-go/env"
)

type rOption func(*readerImpl) error

func WithRLogger(l *zap.Logger) rOption {
	return func(r *readerImpl) error { r.logger = l; return nil }
}

func WithREnvironment(e env.REnvironment) rOption {
	return func(r *readerImpl) error { r.env = e; return nil }
}

// WithRFrameCache keeps up to size decompressed frames in an LRU cache shared
// by all reads.  Without it only the most recently decompressed frame is
// retained, which is enough for sequential scans but not for scattered
// re-reads.
func WithRFrameCache(size int) rOption {
	return func(r *readerImpl) error {
		if size < 1 {
			return fmt.Errorf("frame cache size must be positive: %d", size)
		}
		r.frameCacheSize = size
		return nil
	}
}
