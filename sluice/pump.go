package sluice

import (
	"io"

	"github.com/justapithecus/sluice/internal/async"
)

// -----------------------------------------------------------------------------
// Working buffer
// -----------------------------------------------------------------------------

// workBuffer accumulates the gzip header, in-flight compressed output and,
// at the end, the trailer. The DEFLATE engine writes into it; the pump
// forwards its contents downstream and compacts it once the downstream
// write has completed.
type workBuffer struct {
	b    []byte
	sent bool
}

func (w *workBuffer) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}

// compact drops bytes already consumed by a completed downstream write.
// Bytes not yet forwarded (the header right after commit) are kept.
func (w *workBuffer) compact() {
	if w.sent {
		w.b = w.b[:0]
		w.sent = false
	}
}

// -----------------------------------------------------------------------------
// Gzip pump
// -----------------------------------------------------------------------------

// gzipPump drives the DEFLATE engine over one content chunk, forwarding
// compressed output downstream one write at a time and resuming only
// after the downstream completion is observed.
//
// The pump is created per write call. It ends in one of three ways:
// paused (input consumed, stream not final: engine and buffer retained
// for the next write), finished (final block and trailer emitted:
// resources released), or failed (resources released, error forwarded).
type gzipPump struct {
	g    *Interceptor
	it   *async.Iterator
	src  source
	last bool
}

func newGzipPump(g *Interceptor, c Content, last bool, cb Callback) *gzipPump {
	p := &gzipPump{g: g, last: last}
	if c.r != nil {
		size := g.bufferSize
		if r := c.Remaining(); r >= 0 && r < int64(size) {
			size = int(r)
		}
		p.src = &readerSource{r: c.r, buf: g.pool.Acquire(size)}
	} else {
		p.src = &sliceSource{rest: c.b, max: g.bufferSize}
	}
	p.it = async.NewIterator(p, cb)
	return p
}

func (p *gzipPump) iterate() { p.it.Iterate() }

// Process runs one pump iteration: feed the engine when it needs input,
// run one deflate step, forward produced bytes, suspend until the
// downstream write completes.
func (p *gzipPump) Process() (async.Action, error) {
	g := p.g
	d := g.deflater

	if d.NeedsInput() {
		s, err := p.src.next()
		if err != nil {
			return 0, err
		}
		switch {
		case s == nil && d.Finished():
			// Natural completion: trailer already emitted and forwarded.
			g.release()
			return async.Done, nil

		case s == nil && !p.last:
			// Pause: the next write call resumes the stream.
			return async.Done, nil

		case s == nil:
			d.Finish()

		default:
			g.crc = crcUpdate(g.crc, s)
			d.SetInput(s)
			if p.last && p.src.exhausted() {
				d.Finish()
			}
		}
	}

	g.out.compact()
	if err := d.Deflate(); err != nil {
		return 0, err
	}
	finished := d.Finished()
	if finished {
		g.out.b = appendGzipTrailer(g.out.b, g.crc, d.TotalIn())
	}

	g.out.sent = true
	g.next.Write(g.out.b, finished, p.it)
	return async.Scheduled, nil
}

// OnComplete releases what must not outlive the pump: the intermediate
// input buffer always, the session's engine and working buffer on
// failure. The natural-completion path has already released the latter.
func (p *gzipPump) OnComplete(err error) {
	if rs, ok := p.src.(*readerSource); ok {
		rs.release(p.g.pool)
	}
	if err != nil {
		p.g.release()
	}
}

// -----------------------------------------------------------------------------
// Copy pump
// -----------------------------------------------------------------------------

// copyPump forwards reader-backed content downstream unmodified, one
// bounded buffer-full per downstream round-trip. It is the pass-through
// analogue of the gzip pump for chunks that are not slice-backed.
type copyPump struct {
	g    *Interceptor
	it   *async.Iterator
	src  *readerSource
	last bool
	done bool
}

func newCopyPump(g *Interceptor, r io.Reader, last bool, cb Callback) *copyPump {
	p := &copyPump{
		g:    g,
		src:  &readerSource{r: r, buf: g.pool.Acquire(g.bufferSize)},
		last: last,
	}
	p.it = async.NewIterator(p, cb)
	return p
}

func (p *copyPump) iterate() { p.it.Iterate() }

func (p *copyPump) Process() (async.Action, error) {
	if p.done {
		return async.Done, nil
	}
	s, err := p.src.next()
	if err != nil {
		return 0, err
	}
	if s == nil {
		if !p.last {
			return async.Done, nil
		}
		// Final chunk: propagate the last flag even with no bytes left.
		p.done = true
		p.g.next.Write(nil, true, p.it)
		return async.Scheduled, nil
	}
	last := p.last && p.src.exhausted()
	p.done = last
	p.g.next.Write(s, last, p.it)
	return async.Scheduled, nil
}

func (p *copyPump) OnComplete(error) {
	p.src.release(p.g.pool)
}
