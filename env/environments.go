package env

// WEnvironment can be used to inject a custom sink that is different from a plain io.Writer.
// This is useful when, for example, the container sections are persisted separately.
//
// Finish calls the methods in container order: WriteHeader, then WriteSeekTable,
// then WriteFrame once per frame payload.
type WEnvironment interface {
	// WriteHeader is called first with the serialized container header.
	WriteHeader(p []byte) (n int, err error)
	// WriteSeekTable is called with the serialized frame table.
	WriteSeekTable(p []byte) (n int, err error)
	// WriteFrame is called once per frame with its magic-stripped compressed payload,
	// in frame order.
	WriteFrame(p []byte) (n int, err error)
}

// REnvironment can be used to inject a custom source that is different from a plain io.ReadSeeker.
// This is useful when, for example, the container sections are persisted separately.
type REnvironment interface {
	// ReadHeader returns the container header bytes from the start of the container.
	ReadHeader() ([]byte, error)
	// ReadSeekTable returns size bytes of the frame table that follows the header.
	ReadSeekTable(size int64) ([]byte, error)
	// GetFrameByIndex returns the magic-stripped compressed payload of the frame.
	GetFrameByIndex(index FrameOffsetEntry) ([]byte, error)
}
