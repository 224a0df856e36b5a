package framed

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/framedbuf/zstd-framed-buffer-go/env"
)

// Decoder is an index-oriented API that is useful for cases where the data
// region is persisted separately from the header and frame table.
type Decoder interface {
	// GetIndexByDecompOffset returns the FrameOffsetEntry covering an offset
	// in the decompressed stream.  Returns nil if the offset is greater or
	// equal than Size().
	GetIndexByDecompOffset(off uint64) *env.FrameOffsetEntry

	// GetIndexByID returns the FrameOffsetEntry for a given frame id.
	// Returns nil if id is greater or equal than NumFrames() or less than 0.
	GetIndexByID(id int64) *env.FrameOffsetEntry

	// Size returns the size of the uncompressed stream.
	Size() int64

	// NumFrames returns the number of frames in the container.
	NumFrames() int64

	// FrameSize returns the fixed uncompressed frame size of the container.
	FrameSize() uint32

	io.Closer
}

// decoderEnv serves header and frame table lookups from serialized index
// bytes.  There is no data region attached.
type decoderEnv struct {
	index []byte
}

func (d *decoderEnv) ReadHeader() ([]byte, error) {
	if len(d.index) < headerSize {
		return nil, fmt.Errorf("%w: index shorter than header: %d", ErrInvalidContainer, len(d.index))
	}
	return d.index[:headerSize], nil
}

func (d *decoderEnv) ReadSeekTable(size int64) ([]byte, error) {
	if int64(len(d.index)-headerSize) < size {
		return nil, fmt.Errorf("%w: index shorter than frame table: %d vs %d",
			ErrInvalidContainer, len(d.index)-headerSize, size)
	}
	return d.index[headerSize : headerSize+int(size)], nil
}

func (d *decoderEnv) GetFrameByIndex(index env.FrameOffsetEntry) ([]byte, error) {
	return nil, fmt.Errorf("no data region attached to an index-only decoder")
}

// NewDecoder creates a Decoder from serialized index bytes (the container
// header followed by the frame table).  CompOffset values of the returned
// entries are relative to the start of the data region, wherever it is
// stored.  The Decoder is safe for concurrent use.
func NewDecoder(index []byte, opts ...rOption) (Decoder, error) {
	opts = append(opts, WithREnvironment(&decoderEnv{index: index}))

	sr := readerImpl{
		indexOnly: true,
		logger:    zap.NewNop(),
	}

	for _, o := range opts {
		err := o(&sr)
		if err != nil {
			return nil, err
		}
	}

	if err := sr.readIndex(); err != nil {
		return nil, err
	}

	// Release the index reference to not leak memory.
	sr.env = nil

	return &sr, nil
}

func (r *readerImpl) Size() int64 {
	return r.endOffset
}

func (r *readerImpl) NumFrames() int64 {
	return r.numFrames
}

func (r *readerImpl) FrameSize() uint32 {
	return r.header.FrameSize
}

func (r *readerImpl) GetIndexByDecompOffset(off uint64) *env.FrameOffsetEntry {
	if off >= r.header.TotalUncompressedSize {
		return nil
	}
	return &r.entries[off/uint64(r.header.FrameSize)]
}

func (r *readerImpl) GetIndexByID(id int64) *env.FrameOffsetEntry {
	if id < 0 || id >= r.numFrames {
		return nil
	}
	return &r.entries[id]
}
