package sluice

import (
	"net/http"
	"strconv"
	"strings"
)

// -----------------------------------------------------------------------------
// net/http Adapter
// -----------------------------------------------------------------------------

// Middleware returns net/http middleware that compresses eligible
// response bodies through an Interceptor.
//
// The adapter bridges the synchronous ResponseWriter world into the
// asynchronous interceptor: each handler write becomes one interceptor
// write whose downstream sink writes straight back to the wrapped
// ResponseWriter, and the body stream is finished when the handler
// returns. Only requests advertising gzip in Accept-Encoding are
// wrapped; the interceptor itself performs no negotiation.
func Middleware(f Factory, opts ...Option) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
				next.ServeHTTP(w, r)
				return
			}

			cw := &compressWriter{rw: w}
			cw.g = NewInterceptor(f, (*adapterResponse)(cw), (*adapterSink)(cw),
				append([]Option{WithRequest(r)}, opts...)...)

			next.ServeHTTP(cw, r)
			cw.finish()
		})
	}
}

// compressWriter adapts one response. Handler writes are forwarded to
// the interceptor; the sink half writes compressed (or passed-through)
// bytes back to the wrapped ResponseWriter, flushing captured headers
// first.
type compressWriter struct {
	rw http.ResponseWriter
	g  *Interceptor

	status     int  // captured, not yet sent
	headerSent bool // sent to the underlying writer
	finished   bool
	err        error
}

func (cw *compressWriter) Header() http.Header {
	return cw.rw.Header()
}

// WriteHeader captures the status code; the header set stays mutable
// until the first downstream write so commit can adjust it.
func (cw *compressWriter) WriteHeader(code int) {
	if cw.status == 0 {
		cw.status = code
	}
}

func (cw *compressWriter) Write(p []byte) (int, error) {
	if cw.err != nil {
		return 0, cw.err
	}
	if cw.status == 0 {
		cw.status = http.StatusOK
	}

	// The sink completes synchronously, so the callback has fired by the
	// time Write returns.
	var res syncResult
	cw.g.Write(BytesContent(p), false, &res)
	if res.err != nil {
		cw.err = res.err
		return 0, cw.err
	}
	return len(p), nil
}

// finish terminates the body stream after the handler returns, emitting
// the gzip trailer or, for an untouched response, flushing headers.
func (cw *compressWriter) finish() {
	if cw.finished || cw.err != nil {
		return
	}
	cw.finished = true
	if cw.status == 0 {
		cw.status = http.StatusOK
	}

	var res syncResult
	cw.g.Write(BytesContent(nil), true, &res)
	if res.err != nil {
		cw.err = res.err
	}
}

// syncResult records the outcome of a write that completes inline.
type syncResult struct {
	err error
}

func (r *syncResult) Succeeded() {}

func (r *syncResult) Failed(err error) { r.err = err }

// adapterResponse exposes the wrapped response's metadata to the
// interceptor.
type adapterResponse compressWriter

func (a *adapterResponse) Status() int {
	return a.status
}

func (a *adapterResponse) Header() http.Header {
	return a.rw.Header()
}

func (a *adapterResponse) ContentLength() int64 {
	cl := a.rw.Header().Get("Content-Length")
	if cl == "" {
		return -1
	}
	n, err := strconv.ParseInt(cl, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

func (a *adapterResponse) SetContentLength(n int64) {
	if n < 0 {
		a.rw.Header().Del("Content-Length")
		return
	}
	a.rw.Header().Set("Content-Length", strconv.FormatInt(n, 10))
}

// adapterSink writes downstream bytes to the underlying ResponseWriter,
// sending the captured status first.
type adapterSink compressWriter

func (s *adapterSink) Write(p []byte, last bool, cb Callback) {
	if !s.headerSent {
		s.headerSent = true
		s.rw.WriteHeader(s.status)
	}
	if len(p) > 0 {
		if _, err := s.rw.Write(p); err != nil {
			cb.Failed(err)
			return
		}
	}
	cb.Succeeded()
}
