package framed

import (
	"bytes"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// zstdFrameMagic is the 4-byte magic number that starts every ZSTD frame
// (0xFD2FB528, little-endian).  It is constant across all frames, so the
// writer strips it from every stored payload and the reader re-prepends it
// before decompression.
var zstdFrameMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// ZSTDEncoder is the compression primitive.  Tested with github.com/klauspost/compress/zstd.
//
// The compression level is a property of the encoder, so writers with
// different levels can coexist.
type ZSTDEncoder interface {
	EncodeAll(src, dst []byte) []byte
}

// ZSTDDecoder is the decompression primitive.  Tested with github.com/klauspost/compress/zstd.
type ZSTDDecoder interface {
	DecodeAll(input, dst []byte) ([]byte, error)
}

// frameCodec adapts the ZSTD primitives to the container's stored-frame
// representation.  It is stateless apart from the injected encoder/decoder,
// so a single instance is safe for concurrent use.
type frameCodec struct {
	enc ZSTDEncoder
	dec ZSTDDecoder

	checksums bool
}

// compressFrame compresses one frame's worth of uncompressed bytes and
// returns the stored payload with the ZSTD frame magic stripped.
func (c *frameCodec) compressFrame(src []byte) ([]byte, frameTableEntry, error) {
	dst := c.enc.EncodeAll(src, nil)

	if len(dst) <= len(zstdFrameMagic) || !bytes.Equal(dst[:len(zstdFrameMagic)], zstdFrameMagic) {
		return nil, frameTableEntry{}, fmt.Errorf("%w: encoder did not produce a ZSTD frame (%d bytes)",
			ErrCompressionFailure, len(dst))
	}

	payload := dst[len(zstdFrameMagic):]
	if int64(len(payload)) > maxFrameSize {
		return nil, frameTableEntry{}, fmt.Errorf("%w: result size too big for frame table: %d > %d",
			ErrCompressionFailure, len(payload), maxFrameSize)
	}

	entry := frameTableEntry{
		CompressedSize: uint32(len(payload)),
	}
	if c.checksums {
		entry.Checksum = uint32((xxhash.Sum64(src) << 32) >> 32)
	}
	return payload, entry, nil
}

// decompressFrame re-prepends the frame magic, decompresses the payload and
// validates the result against the frame table entry.
func (c *frameCodec) decompressFrame(payload []byte, expectedSize uint32, checksum uint32) ([]byte, error) {
	src := make([]byte, 0, len(zstdFrameMagic)+len(payload))
	src = append(src, zstdFrameMagic...)
	src = append(src, payload...)

	decompressed, err := c.dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompression failed: %s", ErrCorruptFrame, err)
	}

	if uint32(len(decompressed)) != expectedSize {
		return nil, fmt.Errorf("%w: decompressed size mismatch: %d vs %d",
			ErrCorruptFrame, len(decompressed), expectedSize)
	}

	if c.checksums {
		actual := uint32((xxhash.Sum64(decompressed) << 32) >> 32)
		if actual != checksum {
			return nil, fmt.Errorf("%w: checksum verification failed: expected: %d, actual: %d",
				ErrCorruptFrame, checksum, actual)
		}
	}
	return decompressed, nil
}
