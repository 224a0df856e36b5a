package framed

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEncoder(t testing.TB) *zstd.Encoder {
	t.Helper()

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, enc.Close()) })
	return enc
}

func newTestDecoder(t testing.TB) *zstd.Decoder {
	t.Helper()

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	t.Cleanup(dec.Close)
	return dec
}

func TestWriter(t *testing.T) {
	t.Parallel()

	var b bytes.Buffer
	w, err := NewWriter(&b, newTestEncoder(t), WithWFrameSize(4))
	require.NoError(t, err)

	bytes1 := []byte("test")
	bytesWritten1, err := w.Write(bytes1)
	require.NoError(t, err)
	assert.Equal(t, len(bytes1), bytesWritten1)

	bytes2 := []byte("test2")
	bytesWritten2, err := w.Write(bytes2)
	require.NoError(t, err)
	assert.Equal(t, len(bytes2), bytesWritten2)

	// test internals: "test" + "test2" staged at frame size 4 gives two full
	// frames and one staged byte
	sw := w.(*writerImpl)
	assert.Len(t, sw.frameEntries, 2)
	assert.Equal(t, []byte("2"), sw.staged)
	assert.Equal(t, uint64(9), sw.written)
	// both full frames hold "test", so their entries must match
	assert.Equal(t, sw.frameEntries[0], sw.frameEntries[1])

	require.NoError(t, w.Finish())

	// verify container layout
	buf := b.Bytes()
	// header magic, little-endian 0xB7E4C90D
	assert.Equal(t, []byte{0x0d, 0xc9, 0xe4, 0xb7}, buf[0:4])
	assert.Equal(t, uint8(1), buf[4])
	// checksums on by default
	assert.Equal(t, uint8(1<<7), buf[5])
	assert.Equal(t, uint32(4), binary.LittleEndian.Uint32(buf[8:12]))
	assert.Equal(t, uint64(9), binary.LittleEndian.Uint64(buf[12:20]))
	assert.Equal(t, uint64(3), binary.LittleEndian.Uint64(buf[20:28]))

	// frame table: 3 entries of 8 bytes each
	comp0 := binary.LittleEndian.Uint32(buf[28:32])
	comp1 := binary.LittleEndian.Uint32(buf[36:40])
	comp2 := binary.LittleEndian.Uint32(buf[44:48])
	assert.Equal(t, comp0, comp1)
	assert.NotZero(t, comp0)
	assert.NotZero(t, comp2)

	// data region: payloads are magic-stripped, re-prepending the magic
	// yields valid ZSTD frames
	dataStart := uint32(28 + 3*8)
	assert.Equal(t, int(dataStart+comp0+comp1+comp2), len(buf))

	payload0 := buf[dataStart : dataStart+comp0]
	assert.NotEqual(t, zstdFrameMagic, payload0[:4])

	dec := newTestDecoder(t)
	decompressed, err := dec.DecodeAll(append(append([]byte{}, zstdFrameMagic...), payload0...), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("test"), decompressed)

	payload2 := buf[dataStart+comp0+comp1:]
	decompressed, err = dec.DecodeAll(append(append([]byte{}, zstdFrameMagic...), payload2...), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), decompressed)
}

func TestWriterChecksumsDisabled(t *testing.T) {
	t.Parallel()

	var b bytes.Buffer
	w, err := NewWriter(&b, newTestEncoder(t), WithWFrameSize(4), WithWChecksums(false))
	require.NoError(t, err)

	_, err = w.Write([]byte("testtest2"))
	require.NoError(t, err)
	require.NoError(t, w.Finish())

	buf := b.Bytes()
	assert.Equal(t, uint8(0), buf[5])
	// 4-byte entries without checksums
	comp0 := binary.LittleEndian.Uint32(buf[28:32])
	assert.NotZero(t, comp0)

	r, err := NewReader(bytes.NewReader(buf), newTestDecoder(t))
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	got, err := r.ReadRange(0, 9)
	require.NoError(t, err)
	assert.Equal(t, []byte("testtest2"), got)
}

func TestWriterEmptyInput(t *testing.T) {
	t.Parallel()

	var b bytes.Buffer
	w, err := NewWriter(&b, newTestEncoder(t))
	require.NoError(t, err)

	require.ErrorIs(t, w.Finish(), ErrEmptyInput)
}

func TestWriterEmptyAllowed(t *testing.T) {
	t.Parallel()

	var b bytes.Buffer
	w, err := NewWriter(&b, newTestEncoder(t), WithWAllowEmpty())
	require.NoError(t, err)
	require.NoError(t, w.Finish())

	// just a header, no table, no data
	assert.Equal(t, headerSize, b.Len())

	r, err := NewReader(bytes.NewReader(b.Bytes()), newTestDecoder(t))
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	assert.Equal(t, int64(0), r.Size())
	assert.Equal(t, int64(0), r.NumFrames())

	got, err := r.ReadRange(0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = r.ReadRange(0, 1)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestWriterUseAfterFinish(t *testing.T) {
	t.Parallel()

	var b bytes.Buffer
	w, err := NewWriter(&b, newTestEncoder(t))
	require.NoError(t, err)

	_, err = w.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, w.Finish())

	_, err = w.Write([]byte("more"))
	require.ErrorIs(t, err, ErrWriterClosed)
	require.ErrorIs(t, w.Finish(), ErrWriterClosed)

	_, err = w.WriteMany(context.Background(), bytes.NewReader([]byte("more")))
	require.ErrorIs(t, err, ErrWriterClosed)

	// Close after a successful Finish is a no-op
	require.NoError(t, w.Close())
}

func TestWriteMany(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	data := make([]byte, 64*1024+100)
	_, err := rng.Read(data)
	require.NoError(t, err)

	const frameSize = 1024

	// Write one frame at a time
	var sequential bytes.Buffer
	sw, err := NewWriter(&sequential, newTestEncoder(t), WithWFrameSize(frameSize))
	require.NoError(t, err)
	_, err = sw.Write(data)
	require.NoError(t, err)
	require.NoError(t, sw.Finish())

	// Write concurrently
	var concurrent bytes.Buffer
	cw, err := NewWriter(&concurrent, newTestEncoder(t), WithWFrameSize(frameSize))
	require.NoError(t, err)

	var callbackTotal uint64
	read, err := cw.WriteMany(context.Background(), bytes.NewReader(data),
		WithConcurrency(5),
		WithWriteCallback(func(size uint32) { callbackTotal += uint64(size) }))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), read)

	// the trailing 100 bytes stay staged until Finish
	assert.Equal(t, uint64(64*1024), callbackTotal)
	require.NoError(t, cw.Finish())

	// Output must be identical
	assert.Equal(t, sequential.Bytes(), concurrent.Bytes())
}

func TestWriteManyAfterWrite(t *testing.T) {
	t.Parallel()

	data := make([]byte, 10_000)
	for i := range data {
		data[i] = byte(i)
	}

	const frameSize = 1024
	split := 100 // not frame aligned

	var sequential bytes.Buffer
	sw, err := NewWriter(&sequential, newTestEncoder(t), WithWFrameSize(frameSize))
	require.NoError(t, err)
	_, err = sw.Write(data)
	require.NoError(t, err)
	require.NoError(t, sw.Finish())

	var mixed bytes.Buffer
	mw, err := NewWriter(&mixed, newTestEncoder(t), WithWFrameSize(frameSize))
	require.NoError(t, err)
	_, err = mw.Write(data[:split])
	require.NoError(t, err)
	read, err := mw.WriteMany(context.Background(), bytes.NewReader(data[split:]))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)-split), read)
	require.NoError(t, mw.Finish())

	assert.Equal(t, sequential.Bytes(), mixed.Bytes())
}

func TestWriteManyCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var b bytes.Buffer
	w, err := NewWriter(&b, newTestEncoder(t), WithWFrameSize(16))
	require.NoError(t, err)

	data := make([]byte, 16*100)
	_, err = w.WriteMany(ctx, bytes.NewReader(data))
	require.ErrorIs(t, err, context.Canceled)
}

type fakeWriteEnvironment struct {
	header    []byte
	seekTable []byte
	frames    [][]byte
}

func (s *fakeWriteEnvironment) WriteHeader(p []byte) (n int, err error) {
	s.header = append([]byte{}, p...)
	return len(p), nil
}

func (s *fakeWriteEnvironment) WriteSeekTable(p []byte) (n int, err error) {
	s.seekTable = append([]byte{}, p...)
	return len(p), nil
}

func (s *fakeWriteEnvironment) WriteFrame(p []byte) (n int, err error) {
	s.frames = append(s.frames, append([]byte{}, p...))
	return len(p), nil
}

func TestWriteEnvironment(t *testing.T) {
	t.Parallel()

	data := []byte("environment test data, longer than one frame")

	var fe fakeWriteEnvironment
	w, err := NewWriter(nil, newTestEncoder(t), WithWFrameSize(16), WithWEnvironment(&fe))
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Len(t, fe.header, headerSize)
	assert.Len(t, fe.frames, 3)
	assert.Len(t, fe.seekTable, 3*8)

	// the sections concatenated in order form a readable container
	container := append(append(fe.header, fe.seekTable...), bytes.Join(fe.frames, nil)...)
	r, err := NewReader(bytes.NewReader(container), newTestDecoder(t))
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	got, err := r.ReadRange(0, uint64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (n int, err error) {
	return len(p), nil
}

func BenchmarkWrite(b *testing.B) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	require.NoError(b, err)

	sizes := []int{4 * 1024, 64 * 1024, 1024 * 1024}
	for _, sz := range sizes {
		writeBuf := make([]byte, sz)
		rng := rand.New(rand.NewSource(1))
		_, err := rng.Read(writeBuf)
		require.NoError(b, err)

		b.Run(fmt.Sprintf("%d", sz), func(b *testing.B) {
			w, err := NewWriter(nullWriter{}, enc, WithWFrameSize(8<<10))
			require.NoError(b, err)

			b.SetBytes(int64(sz))
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				_, _ = w.Write(writeBuf)
			}
		})
	}
}
