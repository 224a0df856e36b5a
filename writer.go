package framed

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/framedbuf/zstd-framed-buffer-go/env"
)

// writerEnvImpl is the environment implementation for the underlying io.Writer.
type writerEnvImpl struct {
	w io.Writer
}

func (w *writerEnvImpl) WriteHeader(p []byte) (n int, err error) {
	return w.w.Write(p)
}

func (w *writerEnvImpl) WriteSeekTable(p []byte) (n int, err error) {
	return w.w.Write(p)
}

func (w *writerEnvImpl) WriteFrame(p []byte) (n int, err error) {
	return w.w.Write(p)
}

// Writer partitions a logical byte stream into fixed-size frames, compresses
// each frame independently and finalizes the result into a container that
// supports random-access reads.
type Writer interface {
	// Write appends bytes to the logical stream.  Frame boundaries are
	// independent of Write call boundaries: bytes are staged until a full
	// frame accumulates.
	Write(src []byte) (int, error)

	// WriteMany drains src, compressing full frames concurrently while
	// preserving frame order in the container.  A trailing chunk shorter
	// than the frame size stays staged for Finish.
	WriteMany(ctx context.Context, src io.Reader, options ...WriteManyOption) (int64, error)

	// Finish flushes any staged bytes as the final (possibly short) frame
	// and serializes the container (header, frame table, data region) into
	// the environment.  The writer cannot accept writes afterwards.
	Finish() error

	// Close implements io.Closer.  It finishes the container if Finish was
	// not already called successfully.
	Close() (err error)
}

type writerImpl struct {
	codec     frameCodec
	frameSize uint32

	staged       []byte
	data         []byte
	frameEntries []frameTableEntry
	written      uint64

	allowEmpty bool
	finished   bool

	logger *zap.Logger
	env    env.WEnvironment

	once *sync.Once
}

var (
	_ io.Writer = (*writerImpl)(nil)
	_ io.Closer = (*writerImpl)(nil)
	_ Writer    = (*writerImpl)(nil)
)

// defaultFrameSize is the uncompressed frame size used unless overridden
// with WithWFrameSize.
const defaultFrameSize = 8 << 10

// NewWriter wraps the passed io.Writer and encoder into a framed container
// writer.  The resulting container can be randomly accessed through the
// Reader and Decoder interfaces.
//
// The compression level is carried by the encoder, so writers with different
// levels can coexist.
func NewWriter(w io.Writer, encoder ZSTDEncoder, opts ...wOption) (Writer, error) {
	sw := writerImpl{
		codec: frameCodec{
			enc:       encoder,
			checksums: true,
		},
		frameSize: defaultFrameSize,
		logger:    zap.NewNop(),
		once:      &sync.Once{},
	}

	for _, o := range opts {
		err := o(&sw)
		if err != nil {
			return nil, err
		}
	}

	if sw.env == nil {
		sw.env = &writerEnvImpl{
			w: w,
		}
	}

	sw.staged = make([]byte, 0, sw.frameSize)
	return &sw, nil
}

func (s *writerImpl) Write(src []byte) (int, error) {
	if s.finished {
		return 0, ErrWriterClosed
	}

	n := len(src)
	for len(src) > 0 {
		take := int(s.frameSize) - len(s.staged)
		if take > len(src) {
			take = len(src)
		}
		s.staged = append(s.staged, src[:take]...)
		src = src[take:]

		if len(s.staged) == int(s.frameSize) {
			if err := s.appendFrame(s.staged); err != nil {
				return 0, err
			}
			s.staged = s.staged[:0]
		}
	}

	s.written += uint64(n)
	return n, nil
}

// appendFrame compresses one complete frame and records it.
func (s *writerImpl) appendFrame(raw []byte) error {
	payload, entry, err := s.codec.compressFrame(raw)
	if err != nil {
		return err
	}
	return s.appendEncoded(payload, entry)
}

func (s *writerImpl) appendEncoded(payload []byte, entry frameTableEntry) error {
	if int64(len(s.frameEntries)) >= maxNumberOfFrames {
		return fmt.Errorf("%w: number of frames exceeds %d", ErrCompressionFailure, maxNumberOfFrames)
	}

	s.logger.Debug("appending frame",
		zap.Int("id", len(s.frameEntries)), zap.Object("entry", &entry))
	s.data = append(s.data, payload...)
	s.frameEntries = append(s.frameEntries, entry)
	return nil
}

func (s *writerImpl) Finish() error {
	if s.finished {
		return ErrWriterClosed
	}

	if len(s.staged) > 0 {
		if err := s.appendFrame(s.staged); err != nil {
			return err
		}
		s.staged = s.staged[:0]
	}

	if s.written == 0 && !s.allowEmpty {
		return ErrEmptyInput
	}

	header := containerHeader{
		Descriptor:            headerDescriptor{ChecksumFlag: s.codec.checksums},
		FrameSize:             s.frameSize,
		TotalUncompressedSize: s.written,
		NumberOfFrames:        uint64(len(s.frameEntries)),
	}
	s.logger.Debug("finishing container", zap.Object("header", &header))

	headerBytes, err := header.MarshalBinary()
	if err != nil {
		return err
	}
	n, err := s.env.WriteHeader(headerBytes)
	if err != nil {
		return err
	}
	if n != len(headerBytes) {
		return fmt.Errorf("partial header write: %d out of %d", n, len(headerBytes))
	}

	entrySize := header.entrySize()
	table := make([]byte, int64(len(s.frameEntries))*entrySize)
	for i := range s.frameEntries {
		s.frameEntries[i].marshalBinaryInline(table[int64(i)*entrySize:], s.codec.checksums)
	}
	n, err = s.env.WriteSeekTable(table)
	if err != nil {
		return err
	}
	if n != len(table) {
		return fmt.Errorf("partial frame table write: %d out of %d", n, len(table))
	}

	var off uint64
	for i := range s.frameEntries {
		payload := s.data[off : off+uint64(s.frameEntries[i].CompressedSize)]
		n, err = s.env.WriteFrame(payload)
		if err != nil {
			return err
		}
		if n != len(payload) {
			return fmt.Errorf("partial frame write: %d out of %d", n, len(payload))
		}
		off += uint64(s.frameEntries[i].CompressedSize)
	}

	s.finished = true
	s.frameEntries = nil
	s.data = nil
	return nil
}

func (s *writerImpl) Close() (err error) {
	s.once.Do(func() {
		if !s.finished {
			err = multierr.Append(err, s.Finish())
		}
	})
	return
}

type encodeResult struct {
	payload []byte
	entry   frameTableEntry
	rawLen  int
}

func (s *writerImpl) writeManyEncoder(ctx context.Context, ch chan<- encodeResult, frame []byte) func() error {
	return func() error {
		payload, entry, err := s.codec.compressFrame(frame)
		if err != nil {
			return fmt.Errorf("failed to encode frame: %w", err)
		}

		select {
		case <-ctx.Done():
		// Fulfill our promise
		case ch <- encodeResult{payload, entry, len(frame)}:
			close(ch)
		}

		return nil
	}
}

func (s *writerImpl) writeManyProducer(ctx context.Context, src io.Reader, read *int64, g *errgroup.Group, queue chan<- chan encodeResult) func() error {
	return func() error {
		for {
			frame := make([]byte, s.frameSize)
			n, err := io.ReadFull(src, frame)
			*read += int64(n)
			switch err {
			case nil:
			case io.EOF:
				close(queue)
				return nil
			case io.ErrUnexpectedEOF:
				// The trailing partial frame stays staged for Finish.
				s.staged = append(s.staged, frame[:n]...)
				close(queue)
				return nil
			default:
				return fmt.Errorf("frame source failed: %w", err)
			}

			// Put a channel on the queue as a sort of promise.
			// This is a nice trick to keep our results ordered, even when
			// compression completes out-of-order.
			ch := make(chan encodeResult, 1)
			select {
			case <-ctx.Done():
				return nil
			case queue <- ch:
			}

			g.Go(s.writeManyEncoder(ctx, ch, frame))
		}
	}
}

func (s *writerImpl) writeManyConsumer(ctx context.Context, callback func(uint32), queue <-chan chan encodeResult) func() error {
	return func() error {
		for {
			var ch <-chan encodeResult
			select {
			case <-ctx.Done():
				return nil
			case ch = <-queue:
			}
			if ch == nil {
				return nil
			}

			// Wait for the frame to be complete
			var result encodeResult
			select {
			case <-ctx.Done():
				return nil
			case result = <-ch:
			}

			if err := s.appendEncoded(result.payload, result.entry); err != nil {
				return err
			}

			if callback != nil {
				callback(uint32(result.rawLen))
			}
		}
	}
}

func (s *writerImpl) WriteMany(ctx context.Context, src io.Reader, options ...WriteManyOption) (int64, error) {
	if s.finished {
		return 0, ErrWriterClosed
	}

	opts := writeManyOptions{concurrency: runtime.GOMAXPROCS(0)}
	for _, o := range options {
		if err := o(&opts); err != nil {
			return 0, err // no wrap, these should be user-comprehensible
		}
	}

	var read int64

	// Top up a partial frame left over from sequential writes, so the
	// parallel portion starts on a frame boundary.
	if len(s.staged) > 0 {
		topUp := make([]byte, int(s.frameSize)-len(s.staged))
		n, err := io.ReadFull(src, topUp)
		s.staged = append(s.staged, topUp[:n]...)
		read += int64(n)
		switch err {
		case nil:
			if err := s.appendFrame(s.staged); err != nil {
				return read, err
			}
			s.staged = s.staged[:0]
		case io.EOF, io.ErrUnexpectedEOF:
			s.written += uint64(read)
			return read, nil
		default:
			return read, fmt.Errorf("frame source failed: %w", err)
		}
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency + 2) // producer and consumer
	// Add extra room in the queue, so we can keep throughput high even if
	// frames finish out of order.
	queue := make(chan chan encodeResult, opts.concurrency*2)
	g.Go(s.writeManyProducer(gCtx, src, &read, g, queue))
	g.Go(s.writeManyConsumer(gCtx, opts.writeCallback, queue))
	if err := g.Wait(); err != nil {
		return read, err
	}
	if err := ctx.Err(); err != nil {
		return read, err
	}

	s.written += uint64(read)
	return read, nil
}
