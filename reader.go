package framed

import (
	"fmt"
	"io"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/framedbuf/zstd-framed-buffer-go/env"
)

type cachedFrame struct {
	id   int64
	data []byte
}

// readerEnvImpl is the environment implementation for the underlying ReadSeeker.
type readerEnvImpl struct {
	rs io.ReadSeeker
	// ra is set when rs also implements io.ReaderAt, which avoids seeking
	// and makes concurrent frame fetches possible without the lock.
	ra io.ReaderAt

	mu sync.Mutex
}

func (e *readerEnvImpl) readAt(p []byte, off int64) error {
	if e.ra != nil {
		n, err := e.ra.ReadAt(p, off)
		if err == io.EOF && n == len(p) {
			err = nil
		}
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.rs.Seek(off, io.SeekStart); err != nil {
		return err
	}
	_, err := io.ReadFull(e.rs, p)
	return err
}

func (e *readerEnvImpl) ReadHeader() ([]byte, error) {
	buf := make([]byte, headerSize)
	if err := e.readAt(buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

func (e *readerEnvImpl) ReadSeekTable(size int64) ([]byte, error) {
	buf := make([]byte, size)
	if err := e.readAt(buf, headerSize); err != nil {
		return nil, err
	}
	return buf, nil
}

func (e *readerEnvImpl) GetFrameByIndex(index env.FrameOffsetEntry) ([]byte, error) {
	buf := make([]byte, index.CompSize)
	if err := e.readAt(buf, int64(index.CompOffset)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (e *readerEnvImpl) sourceSize() (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	size, err := e.rs.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	return size, nil
}

// Reader provides random access into a finalized container.
//
// ReadRange and ReadAt are safe for concurrent use.  Read and Seek share a
// stream position and must not be called concurrently with each other.
type Reader interface {
	// ReadRange returns length uncompressed bytes starting at start.
	// Decompression work is proportional to the number of frames the range
	// touches, not to the container size.  A zero-length range at any valid
	// offset returns an empty slice without invoking the decompressor.
	ReadRange(start, length uint64) ([]byte, error)

	io.Reader
	io.Seeker
	io.ReaderAt

	Decoder
}

type readerImpl struct {
	codec  frameCodec
	header containerHeader

	entries   []env.FrameOffsetEntry
	numFrames int64
	endOffset int64

	logger *zap.Logger
	env    env.REnvironment

	// indexOnly is set for Decoders built from serialized index bytes;
	// frame offsets are then relative to the data region.
	indexOnly bool

	offset int64

	mu          sync.Mutex
	cachedFrame *cachedFrame

	frameCache     *lru.Cache[int64, []byte]
	frameCacheSize int
}

var _ Reader = (*readerImpl)(nil)

// NewReader opens a finalized container for random access.  It validates the
// header and frame table and materializes the offset index; a structurally
// broken container fails here with ErrInvalidContainer.
//
// The decompressor is injected and stays owned by the caller; readers with
// different decoder settings can coexist.
func NewReader(rs io.ReadSeeker, decoder ZSTDDecoder, opts ...rOption) (Reader, error) {
	sr := readerImpl{
		codec:  frameCodec{dec: decoder},
		logger: zap.NewNop(),
	}

	for _, o := range opts {
		err := o(&sr)
		if err != nil {
			return nil, err
		}
	}

	if sr.env == nil {
		e := &readerEnvImpl{rs: rs}
		if ra, ok := rs.(io.ReaderAt); ok {
			e.ra = ra
		}
		sr.env = e
	}

	if err := sr.readIndex(); err != nil {
		return nil, err
	}

	if sr.frameCacheSize > 0 {
		cache, err := lru.New[int64, []byte](sr.frameCacheSize)
		if err != nil {
			return nil, err
		}
		sr.frameCache = cache
	}

	return &sr, nil
}

// readIndex reads and validates the header and frame table, and builds the
// materialized prefix-sum index.
func (s *readerImpl) readIndex() error {
	headerBytes, err := s.env.ReadHeader()
	if err != nil {
		return fmt.Errorf("%w: failed to read header: %s", ErrInvalidContainer, err)
	}
	if len(headerBytes) > headerSize {
		headerBytes = headerBytes[:headerSize]
	}
	if err := s.header.UnmarshalBinary(headerBytes); err != nil {
		return err
	}
	s.codec.checksums = s.header.Descriptor.ChecksumFlag
	s.logger.Debug("opening container", zap.Object("header", &s.header))

	entrySize := s.header.entrySize()
	tableSize := int64(s.header.NumberOfFrames) * entrySize

	// When the source size is known, bound the frame table before allocating
	// a buffer for it: an untrusted header can claim up to 2^32-1 frames.
	sourceLen := int64(-1)
	if sized, ok := s.env.(interface{ sourceSize() (int64, error) }); ok {
		size, err := sized.sourceSize()
		if err != nil {
			return fmt.Errorf("%w: failed to size source: %s", ErrInvalidContainer, err)
		}
		sourceLen = size
		if int64(headerSize)+tableSize > sourceLen {
			return fmt.Errorf("%w: frame table extends past the container end: %d vs %d",
				ErrInvalidContainer, int64(headerSize)+tableSize, sourceLen)
		}
	}

	table, err := s.env.ReadSeekTable(tableSize)
	if err != nil {
		return fmt.Errorf("%w: failed to read frame table: %s", ErrInvalidContainer, err)
	}
	if int64(len(table)) != tableSize {
		return fmt.Errorf("%w: frame table length mismatch %d vs %d",
			ErrInvalidContainer, len(table), tableSize)
	}

	dataBase := uint64(headerSize) + uint64(tableSize)
	if s.indexOnly {
		dataBase = 0
	}

	entries, compTotal, err := parseFrameTable(&s.header, table, dataBase)
	if err != nil {
		return err
	}
	s.entries = entries
	s.numFrames = int64(s.header.NumberOfFrames)
	s.endOffset = int64(s.header.TotalUncompressedSize)

	// When the source size is known, the data region must end exactly at it.
	if sourceLen >= 0 {
		expected := int64(headerSize) + tableSize + int64(compTotal)
		if sourceLen != expected {
			return fmt.Errorf("%w: container size mismatch %d vs %d",
				ErrInvalidContainer, sourceLen, expected)
		}
	}
	return nil
}

// parseFrameTable materializes the prefix-sum offset index.  It returns the
// entries and the total compressed length of the data region.
func parseFrameTable(header *containerHeader, table []byte, dataBase uint64) ([]env.FrameOffsetEntry, uint64, error) {
	entrySize := header.entrySize()
	entries := make([]env.FrameOffsetEntry, 0, header.NumberOfFrames)

	var entry frameTableEntry
	var compOffset, decompOffset uint64
	for i := uint64(0); i < header.NumberOfFrames; i++ {
		if err := entry.UnmarshalBinary(table[int64(i)*entrySize : int64(i+1)*entrySize]); err != nil {
			return nil, 0, err
		}
		if entry.CompressedSize == 0 {
			return nil, 0, fmt.Errorf("%w: frame %d has zero compressed size", ErrInvalidContainer, i)
		}

		decompSize := uint64(header.FrameSize)
		if i == header.NumberOfFrames-1 {
			decompSize = header.TotalUncompressedSize - decompOffset
		}

		entries = append(entries, env.FrameOffsetEntry{
			ID:           int64(i),
			CompOffset:   dataBase + compOffset,
			DecompOffset: decompOffset,
			CompSize:     entry.CompressedSize,
			DecompSize:   uint32(decompSize),
			Checksum:     entry.Checksum,
		})
		compOffset += uint64(entry.CompressedSize)
		decompOffset += decompSize
	}
	return entries, compOffset, nil
}

func (s *readerImpl) ReadRange(start, length uint64) ([]byte, error) {
	total := s.header.TotalUncompressedSize
	if start > total || length > total-start {
		return nil, fmt.Errorf("%w: [%d, %d) outside of [0, %d)",
			ErrOutOfRange, start, start+length, total)
	}
	if length == 0 {
		return []byte{}, nil
	}

	frameSize := uint64(s.header.FrameSize)
	first := start / frameSize
	last := (start + length - 1) / frameSize

	dst := make([]byte, 0, length)
	for id := first; id <= last; id++ {
		decompressed, err := s.frameData(&s.entries[id])
		if err != nil {
			return nil, err
		}

		frameStart := id * frameSize
		lo := uint64(0)
		if id == first {
			lo = start - frameStart
		}
		hi := uint64(len(decompressed))
		if end := start + length; end-frameStart < hi {
			hi = end - frameStart
		}
		dst = append(dst, decompressed[lo:hi]...)
	}
	return dst, nil
}

// frameData returns the decompressed content of one frame, consulting the
// caches first.
func (s *readerImpl) frameData(index *env.FrameOffsetEntry) ([]byte, error) {
	s.mu.Lock()
	if s.cachedFrame != nil && s.cachedFrame.id == index.ID {
		// fastpath
		decompressed := s.cachedFrame.data
		s.mu.Unlock()
		return decompressed, nil
	}
	s.mu.Unlock()

	if s.frameCache != nil {
		if decompressed, ok := s.frameCache.Get(index.ID); ok {
			return decompressed, nil
		}
	}

	// slowpath
	src, err := s.env.GetFrameByIndex(*index)
	if err != nil {
		return nil, fmt.Errorf("failed to read compressed data at: %d, %w", index.CompOffset, err)
	}
	if uint32(len(src)) != index.CompSize {
		return nil, fmt.Errorf("%w: frame %d payload length %d vs %d",
			ErrCorruptFrame, index.ID, len(src), index.CompSize)
	}

	decompressed, err := s.codec.decompressFrame(src, index.DecompSize, index.Checksum)
	if err != nil {
		return nil, fmt.Errorf("frame %d at %d: %w", index.ID, index.CompOffset, err)
	}

	s.mu.Lock()
	s.cachedFrame = &cachedFrame{id: index.ID, data: decompressed}
	s.mu.Unlock()
	if s.frameCache != nil {
		s.frameCache.Add(index.ID, decompressed)
	}
	return decompressed, nil
}

func (s *readerImpl) Read(dst []byte) (int, error) {
	if s.offset >= s.endOffset {
		return 0, io.EOF
	}

	index := s.GetIndexByDecompOffset(uint64(s.offset))
	if index == nil {
		return 0, io.EOF
	}

	decompressed, err := s.frameData(index)
	if err != nil {
		return 0, err
	}

	offsetWithinFrame := uint64(s.offset) - index.DecompOffset

	size := uint64(len(decompressed)) - offsetWithinFrame
	if size > uint64(len(dst)) {
		size = uint64(len(dst))
	}

	copy(dst, decompressed[offsetWithinFrame:offsetWithinFrame+size])

	s.offset += int64(size)
	return int(size), nil
}

func (s *readerImpl) Seek(offset int64, whence int) (int64, error) {
	newOffset := s.offset
	switch whence {
	case io.SeekCurrent:
		newOffset += offset
	case io.SeekStart:
		newOffset = offset
	case io.SeekEnd:
		newOffset = s.endOffset + offset
	}

	if newOffset < 0 {
		return 0, fmt.Errorf("offset before the start of the stream: %d (%d + %d)",
			newOffset, s.offset, offset)
	}

	s.offset = newOffset
	return s.offset, nil
}

func (s *readerImpl) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrOutOfRange, off)
	}
	// At or past the end every read reports io.EOF, even a zero-length one,
	// matching bytes.Reader.
	if off >= s.endOffset {
		return 0, io.EOF
	}

	length := uint64(len(p))
	short := false
	if remaining := uint64(s.endOffset - off); length > remaining {
		length = remaining
		short = true
	}

	decompressed, err := s.ReadRange(uint64(off), length)
	if err != nil {
		return 0, err
	}

	n := copy(p, decompressed)
	if short {
		return n, io.EOF
	}
	return n, nil
}

func (s *readerImpl) Close() error {
	s.mu.Lock()
	s.cachedFrame = nil
	s.mu.Unlock()

	if s.frameCache != nil {
		s.frameCache.Purge()
	}
	s.entries = nil
	return nil
}
