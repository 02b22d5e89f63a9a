package sluice

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// -----------------------------------------------------------------------------
// DEFLATE Engine
// -----------------------------------------------------------------------------

// Deflater is a resettable DEFLATE engine producing a raw deflate stream
// into a caller-supplied writer.
//
// The engine is driven in discrete steps by the streaming pump: input is
// staged with SetInput, consumed by Deflate, and the stream is terminated
// by Finish followed by a final Deflate. A Deflater is not safe for
// concurrent use; a compression session owns it exclusively until it is
// released back to the Factory.
type Deflater struct {
	fw       *flate.Writer
	pending  []byte
	finish   bool
	finished bool
	totalIn  uint32
}

// NewDeflater creates an engine with the given flate compression level.
func NewDeflater(level int) (*Deflater, error) {
	fw, err := flate.NewWriter(nil, level)
	if err != nil {
		return nil, fmt.Errorf("sluice: deflater: %w", err)
	}
	return &Deflater{fw: fw}, nil
}

// Reset rebinds the engine to a new output writer and clears all stream
// state, making the engine ready for a fresh deflate stream.
func (d *Deflater) Reset(w io.Writer) {
	d.fw.Reset(w)
	d.pending = nil
	d.finish = false
	d.finished = false
	d.totalIn = 0
}

// SetInput stages the next slice of uncompressed input. The slice is
// referenced, not copied; the caller must keep it valid until consumed.
func (d *Deflater) SetInput(p []byte) {
	d.pending = p
}

// NeedsInput reports whether all staged input has been consumed.
func (d *Deflater) NeedsInput() bool {
	return len(d.pending) == 0
}

// Finish marks the stream complete; the next Deflate emits the final
// block.
func (d *Deflater) Finish() {
	d.finish = true
}

// Finished reports whether the final block has been emitted.
func (d *Deflater) Finished() bool {
	return d.finished
}

// TotalIn returns the number of uncompressed bytes consumed, modulo 2^32.
func (d *Deflater) TotalIn() uint32 {
	return d.totalIn
}

// Deflate runs one compression step: it consumes any staged input and,
// once Finish has been requested and all input is consumed, terminates
// the stream. Produced bytes go to the writer bound by Reset.
func (d *Deflater) Deflate() error {
	if len(d.pending) > 0 {
		n, err := d.fw.Write(d.pending)
		d.totalIn += uint32(n)
		d.pending = nil
		if err != nil {
			return fmt.Errorf("sluice: deflate: %w", err)
		}
	}
	if d.finish && !d.finished {
		if err := d.fw.Close(); err != nil {
			return fmt.Errorf("sluice: deflate finish: %w", err)
		}
		d.finished = true
	}
	return nil
}
