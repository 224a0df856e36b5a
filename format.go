// Package framed implements a seekable compressed-buffer container.
//
// A logical byte stream is partitioned into fixed-size frames, each
// compressed independently as a ZSTD frame with its 4-byte frame magic
// stripped before storage.  A compact frame table maps frame numbers to
// compressed byte ranges, so any slice of the stream can be recovered by
// decompressing only the frames it touches.
package framed

import (
	"encoding/binary"
	"fmt"
	"math"

	"go.uber.org/zap/zapcore"
)

const (
	/*
		The container consists of a header, a frame table and a data region,
		in that order:

			|`Header` |`Frame_Table`         |`Data_Region`|
			|---------|----------------------|-------------|
			| 28 bytes| 4-8 bytes per frame  | n bytes     |

		Header

			|`Magic_Number`|`Version`|`Descriptor`|`Reserved`|`Frame_Size`|`Total_Size`|`Number_Of_Frames`|
			|--------------|---------|------------|----------|------------|------------|------------------|
			| 4 bytes      | 1 byte  | 1 byte     | 2 bytes  | 4 bytes    | 8 bytes    | 8 bytes          |

		All fields are little-endian.  `Magic_Number` is distinct from the
		ZSTD frame magic, so a container is never mistaken for a raw ZSTD
		stream.  `Frame_Size` is the fixed uncompressed size of every frame
		except possibly the last.  `Number_Of_Frames` always equals
		ceil(`Total_Size` / `Frame_Size`).
	*/
	containerMagicNumber uint32 = 0xB7E4C90D

	formatVersion uint8 = 1

	headerSize = 28

	// maxDecoderFrameSize is the maximum frame size accepted by the reader.
	// This is to prevent OOMs due to untrusted input.
	maxDecoderFrameSize = 128 << 20

	// maximum size of a single frame and maximum number of frames in a container
	maxFrameSize      int64 = math.MaxUint32
	maxNumberOfFrames int64 = math.MaxUint32
)

/*
headerDescriptor is a Go representation of a bitfield.

	| Bit number | Field name      |
	| ---------- | ----------      |
	| 7          | `Checksum_Flag` |
	| 6-0        | `Reserved_Bits` |

While only `Checksum_Flag` currently exists, the remaining bits are kept for
future changes to the format, for example the addition of frame dictionaries.
`Reserved_Bits` may be used for breaking changes, so a compliant decoder must
ensure they are set to 0.
*/
type headerDescriptor struct {
	// If the checksum flag is set, each of the frame table entries contains a
	// 4 byte checksum of the uncompressed data contained in its frame.
	ChecksumFlag bool
}

func (d *headerDescriptor) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddBool("ChecksumFlag", d.ChecksumFlag)
	return nil
}

// containerHeader is the fixed-size header at the start of every container.
type containerHeader struct {
	// A bitfield describing the format of the frame table.
	Descriptor headerDescriptor
	// The fixed uncompressed size of every frame except possibly the last.
	FrameSize uint32
	// The total size of the uncompressed stream.
	TotalUncompressedSize uint64
	// The number of frames in the data region, ceil(TotalUncompressedSize / FrameSize).
	NumberOfFrames uint64
}

func (h *containerHeader) marshalBinaryInline(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:], containerMagicNumber)
	dst[4] = formatVersion
	if h.Descriptor.ChecksumFlag {
		dst[5] |= 1 << 7
	}
	binary.LittleEndian.PutUint32(dst[8:], h.FrameSize)
	binary.LittleEndian.PutUint64(dst[12:], h.TotalUncompressedSize)
	binary.LittleEndian.PutUint64(dst[20:], h.NumberOfFrames)
}

func (h *containerHeader) MarshalBinary() ([]byte, error) {
	dst := make([]byte, headerSize)
	h.marshalBinaryInline(dst)
	return dst, nil
}

func (h *containerHeader) UnmarshalBinary(p []byte) error {
	if len(p) != headerSize {
		return fmt.Errorf("%w: header length mismatch %d vs %d", ErrInvalidContainer, len(p), headerSize)
	}
	magic := binary.LittleEndian.Uint32(p[0:])
	if magic != containerMagicNumber {
		return fmt.Errorf("%w: header magic mismatch %x vs %x", ErrInvalidContainer, magic, containerMagicNumber)
	}
	if p[4] != formatVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidContainer, p[4])
	}
	// Check that reserved bits are set to 0.
	if p[5]&0x7f != 0 {
		return fmt.Errorf("%w: descriptor reserved bits %d != 0", ErrInvalidContainer, p[5]&0x7f)
	}
	if reserved := binary.LittleEndian.Uint16(p[6:]); reserved != 0 {
		return fmt.Errorf("%w: header reserved bytes %d != 0", ErrInvalidContainer, reserved)
	}
	h.Descriptor.ChecksumFlag = (p[5] & (1 << 7)) > 0
	h.FrameSize = binary.LittleEndian.Uint32(p[8:])
	h.TotalUncompressedSize = binary.LittleEndian.Uint64(p[12:])
	h.NumberOfFrames = binary.LittleEndian.Uint64(p[20:])
	return h.validate()
}

// validate checks the invariants that hold for every well-formed header.
func (h *containerHeader) validate() error {
	if h.FrameSize == 0 {
		return fmt.Errorf("%w: frame size is zero", ErrInvalidContainer)
	}
	if h.FrameSize > maxDecoderFrameSize {
		return fmt.Errorf("%w: frame size %d exceeds limit %d",
			ErrInvalidContainer, h.FrameSize, maxDecoderFrameSize)
	}
	if h.NumberOfFrames > uint64(maxNumberOfFrames) {
		return fmt.Errorf("%w: frame count %d exceeds limit %d",
			ErrInvalidContainer, h.NumberOfFrames, maxNumberOfFrames)
	}
	if want := frameCountFor(h.TotalUncompressedSize, h.FrameSize); h.NumberOfFrames != want {
		return fmt.Errorf("%w: frame count %d inconsistent with size %d / frame size %d (want %d)",
			ErrInvalidContainer, h.NumberOfFrames, h.TotalUncompressedSize, h.FrameSize, want)
	}
	return nil
}

// entrySize returns the serialized size of one frame table entry.
func (h *containerHeader) entrySize() int64 {
	if h.Descriptor.ChecksumFlag {
		return 8
	}
	return 4
}

func (h *containerHeader) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if err := enc.AddObject("Descriptor", &h.Descriptor); err != nil {
		return err
	}
	enc.AddUint32("FrameSize", h.FrameSize)
	enc.AddUint64("TotalUncompressedSize", h.TotalUncompressedSize)
	enc.AddUint64("NumberOfFrames", h.NumberOfFrames)
	return nil
}

/*
frameTableEntry is an element of the frame table describing one stored frame.

`Frame_Table` consists of `Number_Of_Frames` entries of the following form, in
frame order:

	|`Compressed_Size`|`[Checksum]`|
	|-----------------|------------|
	| 4 bytes         | 4 bytes    |

The decompressed size is not stored: every frame decompresses to exactly
`Frame_Size` bytes except the last, whose size follows from `Total_Size`.
*/
type frameTableEntry struct {
	// The size of the stored magic-stripped payload.  The cumulative sum of
	// the `Compressed_Size` fields of frames `0` to `i` gives the offset in
	// the data region of frame `i+1`.
	CompressedSize uint32
	// Only present if `Checksum_Flag` is set in the header descriptor.
	// Value: the least significant 32 bits of the XXH64 digest of the
	// uncompressed data, stored in little-endian format.
	Checksum uint32
}

func (e *frameTableEntry) marshalBinaryInline(dst []byte, checksums bool) {
	binary.LittleEndian.PutUint32(dst[0:], e.CompressedSize)
	if checksums {
		binary.LittleEndian.PutUint32(dst[4:], e.Checksum)
	}
}

func (e *frameTableEntry) UnmarshalBinary(p []byte) error {
	if len(p) < 4 {
		return fmt.Errorf("%w: entry length mismatch %d vs %d", ErrInvalidContainer, len(p), 4)
	}
	e.CompressedSize = binary.LittleEndian.Uint32(p[0:])
	if len(p) >= 8 {
		e.Checksum = binary.LittleEndian.Uint32(p[4:])
	}
	return nil
}

func (e *frameTableEntry) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint32("CompressedSize", e.CompressedSize)
	enc.AddUint32("Checksum", e.Checksum)
	return nil
}

// frameCountFor returns ceil(total / frameSize).  Computed without the usual
// (total + frameSize - 1) trick, which wraps around for totals near 2^64.
func frameCountFor(total uint64, frameSize uint32) uint64 {
	count := total / uint64(frameSize)
	if total%uint64(frameSize) != 0 {
		count++
	}
	return count
}
