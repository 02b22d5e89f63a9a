package sluice

import "io"

// -----------------------------------------------------------------------------
// Content
// -----------------------------------------------------------------------------

// Content is one chunk of response body awaiting write.
//
// A chunk is either slice-backed, in which case the pump feeds the
// DEFLATE engine directly from the backing storage with no extra copy,
// or reader-backed, in which case the pump copies through a bounded
// pooled buffer. The zero value is an empty chunk.
type Content struct {
	b []byte
	r io.Reader
}

// BytesContent wraps a byte slice as a zero-copy chunk. The slice must
// remain valid until the write's callback is invoked.
func BytesContent(p []byte) Content {
	return Content{b: p}
}

// ReaderContent wraps a reader as a chunk. The reader is drained through
// a bounded intermediate buffer; when it additionally implements
// Len() int (as bytes.Reader and bytes.Buffer do), the remaining byte
// count is used to size buffers and the commit-time content-length hint.
func ReaderContent(r io.Reader) Content {
	return Content{r: r}
}

// Remaining returns the chunk's remaining byte count, or -1 when it
// cannot be known without consuming the reader.
func (c Content) Remaining() int64 {
	if c.r != nil {
		if l, ok := c.r.(interface{ Len() int }); ok {
			return int64(l.Len())
		}
		return -1
	}
	return int64(len(c.b))
}

// empty reports whether the chunk is known to hold no bytes.
func (c Content) empty() bool {
	return c.Remaining() == 0
}

// -----------------------------------------------------------------------------
// Input sources
// -----------------------------------------------------------------------------

// A source supplies successive slices of uncompressed input to the pump.
// next returns nil once the source is exhausted; exhausted reports
// (possibly conservatively) whether no further bytes remain.
type source interface {
	next() ([]byte, error)
	exhausted() bool
}

// sliceSource feeds directly from a chunk's backing slice, at most max
// bytes per iteration, without copying.
type sliceSource struct {
	rest []byte
	max  int
}

func (s *sliceSource) next() ([]byte, error) {
	if len(s.rest) == 0 {
		return nil, nil
	}
	take := len(s.rest)
	if take > s.max {
		take = s.max
	}
	out := s.rest[:take]
	s.rest = s.rest[take:]
	return out, nil
}

func (s *sliceSource) exhausted() bool {
	return len(s.rest) == 0
}

// readerSource copies from a reader into a pooled intermediate buffer,
// one buffer-full per iteration.
type readerSource struct {
	r   io.Reader
	buf []byte
	eof bool
}

func (s *readerSource) next() ([]byte, error) {
	for !s.eof {
		n, err := s.r.Read(s.buf[:cap(s.buf)])
		if err == io.EOF {
			s.eof = true
		} else if err != nil {
			return nil, err
		}
		if n > 0 {
			return s.buf[:n], nil
		}
	}
	return nil, nil
}

func (s *readerSource) exhausted() bool {
	if s.eof {
		return true
	}
	// Best effort: readers with a known remaining length report
	// exhaustion without an extra Read round-trip.
	if l, ok := s.r.(interface{ Len() int }); ok {
		return l.Len() == 0
	}
	return false
}

// release returns the intermediate buffer, if any, to the pool.
func (s *readerSource) release(pool BufferPool) {
	if s.buf != nil {
		pool.Release(s.buf[:0])
		s.buf = nil
	}
}
