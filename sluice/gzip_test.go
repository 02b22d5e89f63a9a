package sluice

import (
	"bytes"
	"hash/crc32"
	"testing"

	"github.com/klauspost/compress/flate"
)

func TestGzipHeader_Fixed(t *testing.T) {
	want := []byte{0x1f, 0x8b, 0x08, 0, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(gzipHeader[:], want) {
		t.Errorf("gzipHeader = % x, want % x", gzipHeader, want)
	}
}

func TestAppendGzipTrailer(t *testing.T) {
	got := appendGzipTrailer([]byte{0xaa}, 0x04030201, 0x08070605)
	want := []byte{0xaa, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	if !bytes.Equal(got, want) {
		t.Errorf("trailer = % x, want % x", got, want)
	}
}

func TestCRCUpdate_SplitIndependent(t *testing.T) {
	data := []byte("the crc accumulates identically across any split")
	whole := crcUpdate(0, data)
	if whole != crc32.ChecksumIEEE(data) {
		t.Fatalf("crcUpdate = %#x, want %#x", whole, crc32.ChecksumIEEE(data))
	}

	for _, split := range []int{0, 1, 7, len(data) - 1, len(data)} {
		crc := crcUpdate(0, data[:split])
		crc = crcUpdate(crc, data[split:])
		if crc != whole {
			t.Errorf("split %d: crc = %#x, want %#x", split, crc, whole)
		}
	}
}

func TestDeflater_ProducesDecodableStream(t *testing.T) {
	input := bytes.Repeat([]byte("deflater unit fixture "), 64)

	d, err := NewDeflater(flate.DefaultCompression)
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	d.Reset(&out)

	// Feed in two steps, then finish.
	d.SetInput(input[:100])
	if err := d.Deflate(); err != nil {
		t.Fatal(err)
	}
	if !d.NeedsInput() {
		t.Fatal("input not consumed after deflate step")
	}
	d.SetInput(input[100:])
	d.Finish()
	if err := d.Deflate(); err != nil {
		t.Fatal(err)
	}
	if !d.Finished() {
		t.Fatal("engine not finished after final step")
	}
	if got := d.TotalIn(); got != uint32(len(input)) {
		t.Errorf("TotalIn = %d, want %d", got, len(input))
	}

	fr := flate.NewReader(&out)
	var decoded bytes.Buffer
	if _, err := decoded.ReadFrom(fr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), input) {
		t.Error("decoded stream differs from input")
	}
}

func TestDeflater_ResetClearsStreamState(t *testing.T) {
	d, err := NewDeflater(flate.BestSpeed)
	if err != nil {
		t.Fatal(err)
	}

	var first bytes.Buffer
	d.Reset(&first)
	d.SetInput([]byte("first stream"))
	d.Finish()
	if err := d.Deflate(); err != nil {
		t.Fatal(err)
	}

	var second bytes.Buffer
	d.Reset(&second)
	if d.Finished() || !d.NeedsInput() || d.TotalIn() != 0 {
		t.Fatal("reset did not clear stream state")
	}
	d.SetInput([]byte("second stream"))
	d.Finish()
	if err := d.Deflate(); err != nil {
		t.Fatal(err)
	}

	fr := flate.NewReader(&second)
	var decoded bytes.Buffer
	if _, err := decoded.ReadFrom(fr); err != nil {
		t.Fatalf("decode after reset: %v", err)
	}
	if decoded.String() != "second stream" {
		t.Errorf("decoded = %q, want %q", decoded.String(), "second stream")
	}
}
