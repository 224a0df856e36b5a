package framed_test

import (
	"fmt"
	"log"
	"os"

	"github.com/klauspost/compress/zstd"

	framed "github.com/framedbuf/zstd-framed-buffer-go"
)

func Example() {
	f, err := os.CreateTemp("", "example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.Remove(f.Name())

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		log.Fatal(err)
	}
	defer enc.Close()

	w, err := framed.NewWriter(f, enc, framed.WithWFrameSize(4))
	if err != nil {
		log.Fatal(err)
	}

	// Write data in chunks; frame boundaries do not depend on chunk sizes.
	for _, b := range [][]byte{[]byte("Hello"), []byte(" World!")} {
		_, err = w.Write(b)
		if err != nil {
			log.Fatal(err)
		}
	}

	// Finalize the container: header, frame table, data region.
	err = w.Finish()
	if err != nil {
		log.Fatal(err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		log.Fatal(err)
	}
	defer dec.Close()

	r, err := framed.NewReader(f, dec)
	if err != nil {
		log.Fatal(err)
	}
	defer r.Close()

	// Only the frames covering the range are decompressed.
	world, err := r.ReadRange(6, 5)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Range [6, 11): %s\n", string(world))

	all, err := r.ReadRange(0, uint64(r.Size()))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Whole string: %s\n", string(all))
	fmt.Printf("Frames: %d\n", r.NumFrames())

	// Output:
	// Range [6, 11): World
	// Whole string: Hello World!
	// Frames: 3
}
