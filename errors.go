package framed

import "errors"

var (
	// ErrInvalidContainer is returned when the container header or frame table
	// fails structural validation at open time.
	ErrInvalidContainer = errors.New("framed: invalid container")

	// ErrOutOfRange is returned when a requested range extends past the
	// total uncompressed size of the container.
	ErrOutOfRange = errors.New("framed: range out of bounds")

	// ErrCorruptFrame is returned when a frame fails to decompress, produces
	// a different number of bytes than recorded, or fails its checksum.
	ErrCorruptFrame = errors.New("framed: corrupt frame")

	// ErrCompressionFailure is returned when the compression primitive
	// produces output the container cannot store.
	ErrCompressionFailure = errors.New("framed: compression failure")

	// ErrEmptyInput is returned by Finish when no bytes were ever written
	// and the writer was not constructed with WithWAllowEmpty.
	ErrEmptyInput = errors.New("framed: no input written")

	// ErrWriterClosed is returned when a Writer is used after Finish.
	ErrWriterClosed = errors.New("framed: writer is finished")
)
