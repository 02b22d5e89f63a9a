package sluice

import (
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// -----------------------------------------------------------------------------
// Disposition
// -----------------------------------------------------------------------------

// disposition is the per-response compression decision state. Transitions
// are monotone: mightCompress -> {notCompressing | committing ->
// compressing}. The finished state is implicit: it is represented by the
// release of the deflater and working buffer, not by a distinct value.
type disposition int32

const (
	mightCompress disposition = iota
	notCompressing
	committing
	compressing
)

func (d disposition) String() string {
	switch d {
	case mightCompress:
		return "MIGHT_COMPRESS"
	case notCompressing:
		return "NOT_COMPRESSING"
	case committing:
		return "COMMITTING"
	case compressing:
		return "COMPRESSING"
	}
	return "UNKNOWN"
}

// -----------------------------------------------------------------------------
// Interceptor
// -----------------------------------------------------------------------------

// Interceptor is a per-response compression session sitting between an
// application's body writes and the downstream Sink.
//
// The first write decides, irrevocably, whether the response is
// compressed; eligible bodies are streamed through a pooled DEFLATE
// engine into a pooled working buffer and forwarded downstream one write
// at a time. Writes on one response must be sequential: a write issued
// before the previous write's callback has been invoked fails with
// ErrWritePending.
type Interceptor struct {
	factory    Factory
	resp       Response
	req        *http.Request
	next       Sink
	pool       BufferPool
	vary       string
	bufferSize int

	state atomic.Int32

	// Session resources, held only between commit and release.
	crc      uint32
	deflater *Deflater
	out      workBuffer
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithVary overrides the Vary header value added at commit.
// Default: VaryAcceptEncodingUserAgent.
func WithVary(v string) Option {
	return func(g *Interceptor) { g.vary = v }
}

// WithBufferSize sets the working buffer size, which also bounds the
// input fed to the engine per pump iteration. Default: 32 KiB.
func WithBufferSize(n int) Option {
	return func(g *Interceptor) {
		if n > 0 {
			g.bufferSize = n
		}
	}
}

// WithBufferPool sets the buffer pool shared with other responses.
// Default: a process-wide pool.
func WithBufferPool(p BufferPool) Option {
	return func(g *Interceptor) { g.pool = p }
}

// WithRequest attaches the originating request, passed through to the
// Factory's deflater acquisition.
func WithRequest(req *http.Request) Option {
	return func(g *Interceptor) { g.req = req }
}

// DefaultBufferSize is the working buffer size used when not overridden.
const DefaultBufferSize = 32 * 1024

// NewInterceptor creates a compression session for one response.
//
// factory supplies the eligibility policy and DEFLATE engines, resp the
// response metadata, and next the downstream writer.
func NewInterceptor(factory Factory, resp Response, next Sink, opts ...Option) *Interceptor {
	g := &Interceptor{
		factory:    factory,
		resp:       resp,
		next:       next,
		pool:       defaultPool,
		vary:       VaryAcceptEncodingUserAgent,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Write submits one chunk of response body. last marks the final chunk.
// cb is invoked exactly once, on any goroutine, with the outcome.
func (g *Interceptor) Write(c Content, last bool, cb Callback) {
	switch d := disposition(g.state.Load()); d {
	case mightCompress:
		g.commit(c, last, cb)

	case notCompressing:
		g.passThrough(c, last, cb)

	case committing:
		cb.Failed(ErrWritePending)

	case compressing:
		g.compress(c, last, cb)

	default:
		cb.Failed(illegalState(d))
	}
}

// commit runs the one-time compression decision. First match wins and is
// irrevocable for the response.
func (g *Interceptor) commit(c Content, last bool, cb Callback) {
	// Excluded by status?
	if sc := g.resp.Status(); sc > 0 && (sc < 200 || sc == 204 || sc == 205 || sc >= 300) {
		logger.WithField("status", sc).Debug("sluice: exclude by status")
		if err := g.ForceNoCompression(); err != nil {
			cb.Failed(err)
			return
		}
		g.passThrough(c, last, cb)
		return
	}

	// Excluded by mime type?
	if ct := g.resp.Header().Get("Content-Type"); ct != "" {
		ct = strings.ToLower(contentTypeWithoutCharset(ct))
		if !g.factory.Compressible(ct) {
			logger.WithField("content_type", ct).Debug("sluice: exclude by mime type")
			if err := g.ForceNoCompression(); err != nil {
				cb.Failed(err)
				return
			}
			g.passThrough(c, last, cb)
			return
		}
	}

	// Already encoded?
	if ce := g.resp.Header().Get("Content-Encoding"); ce != "" {
		logger.WithField("content_encoding", ce).Debug("sluice: exclude by content-encoding")
		if err := g.ForceNoCompression(); err != nil {
			cb.Failed(err)
			return
		}
		g.passThrough(c, last, cb)
		return
	}

	// Are we the writer that commits?
	if !g.state.CompareAndSwap(int32(mightCompress), int32(committing)) {
		cb.Failed(ErrWritePending)
		return
	}

	h := g.resp.Header()
	h.Add("Vary", g.vary)

	contentLength := g.resp.ContentLength()
	if contentLength < 0 && last {
		contentLength = c.Remaining()
	}

	g.deflater = g.factory.AcquireDeflater(g.req, contentLength)
	if g.deflater == nil {
		logger.Debug("sluice: exclude, no deflater granted")
		g.state.Store(int32(notCompressing))
		g.passThrough(c, last, cb)
		return
	}

	h.Set("Content-Encoding", "gzip")
	g.crc = 0
	g.out.b = g.pool.Acquire(g.bufferSize)
	g.out.b = append(g.out.b, gzipHeader[:]...)
	g.deflater.Reset(&g.out)

	// The compressed length is not predictable.
	g.resp.SetContentLength(-1)
	if etag := h.Get("Etag"); etag != "" {
		h.Set("Etag", gzipETag(etag))
	}

	logger.Debug("sluice: compressing")
	g.state.Store(int32(compressing))

	g.compress(c, last, cb)
}

// compress routes a chunk into the streaming pump.
func (g *Interceptor) compress(c Content, last bool, cb Callback) {
	if c.empty() && !last {
		cb.Succeeded()
		return
	}
	if g.deflater == nil {
		// The stream already finished; a further write is caller misuse.
		cb.Failed(illegalState(disposition(g.state.Load())))
		return
	}
	newGzipPump(g, c, last, cb).iterate()
}

// passThrough forwards a chunk downstream unmodified.
func (g *Interceptor) passThrough(c Content, last bool, cb Callback) {
	if c.r != nil {
		newCopyPump(g, c.r, last, cb).iterate()
		return
	}
	g.next.Write(c.b, last, cb)
}

// release returns the session's pooled resources. Safe to call on paths
// that may overlap with natural completion; each resource is released at
// most once.
func (g *Interceptor) release() {
	if g.deflater != nil {
		g.factory.ReleaseDeflater(g.deflater)
		g.deflater = nil
	}
	if g.out.b != nil {
		g.pool.Release(g.out.b)
		g.out.b = nil
	}
}

// -----------------------------------------------------------------------------
// Administrative overrides
// -----------------------------------------------------------------------------

// ForceNoCompression disables compression for the response. Idempotent
// while undecided or already disabled; once a commit is underway or
// complete the decision cannot be revoked and ErrIllegalState is
// returned.
func (g *Interceptor) ForceNoCompression() error {
	for {
		switch d := disposition(g.state.Load()); d {
		case notCompressing:
			return nil

		case mightCompress:
			if g.state.CompareAndSwap(int32(mightCompress), int32(notCompressing)) {
				return nil
			}

		default:
			return illegalState(d)
		}
	}
}

// DisableIfUndecided disables compression only while the decision is
// still open; an already-compressing response is left alone.
func (g *Interceptor) DisableIfUndecided() error {
	for {
		switch d := disposition(g.state.Load()); d {
		case compressing, notCompressing:
			return nil

		case mightCompress:
			if g.state.CompareAndSwap(int32(mightCompress), int32(notCompressing)) {
				return nil
			}

		default:
			return illegalState(d)
		}
	}
}

// Undecided reports whether the compression decision is still open.
func (g *Interceptor) Undecided() bool {
	return disposition(g.state.Load()) == mightCompress
}

// -----------------------------------------------------------------------------
// Header helpers
// -----------------------------------------------------------------------------

// contentTypeWithoutCharset strips any ";charset=..." (or other)
// parameters from a Content-Type value.
func contentTypeWithoutCharset(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

// gzipETag appends ETagGzipSuffix to an ETag, inside the closing quote
// when the value is quoted.
func gzipETag(etag string) string {
	if n := len(etag); n > 0 && etag[n-1] == '"' {
		return etag[:n-1] + ETagGzipSuffix + `"`
	}
	return etag + ETagGzipSuffix
}

var logger = logrus.StandardLogger()
