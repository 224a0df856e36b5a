package env

import (
	"go.uber.org/zap/zapcore"
)

// FrameOffsetEntry is the post-processed view of a frame table entry suitable for indexing.
type FrameOffsetEntry struct {
	// ID is the sequence number of the frame in the container.
	ID int64

	// CompOffset is the offset of the compressed payload within the container.
	// For index-only decoders it is relative to the start of the data region.
	CompOffset uint64
	// DecompOffset is the offset of the frame within the decompressed stream,
	// always a multiple of the container's frame size.
	DecompOffset uint64
	// CompSize is the size of the stored magic-stripped payload.
	CompSize uint32
	// DecompSize is the size of the original data.  Equal to the container's
	// frame size for every frame except possibly the last.
	DecompSize uint32

	// Checksum is the lower 32 bits of the XXH64 hash of the uncompressed data.
	// Zero when the container was written without checksums.
	Checksum uint32
}

func (o *FrameOffsetEntry) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt64("ID", o.ID)
	enc.AddUint64("CompOffset", o.CompOffset)
	enc.AddUint64("DecompOffset", o.DecompOffset)
	enc.AddUint32("CompSize", o.CompSize)
	enc.AddUint32("DecompSize", o.DecompSize)
	enc.AddUint32("Checksum", o.Checksum)

	return nil
}
