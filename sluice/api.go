// Package sluice provides an on-the-fly gzip compression stage for
// asynchronous HTTP output pipelines.
//
// Sluice focuses on the output path: it intercepts outgoing response
// chunks, decides once per response whether to gzip-encode them, and
// streams eligible bodies through a DEFLATE engine without blocking a
// thread on downstream I/O. It does not negotiate client encodings,
// decompress request bodies, or perform chunked-transfer framing.
package sluice

import (
	"errors"
	"fmt"
	"net/http"
)

// -----------------------------------------------------------------------------
// Core types
// -----------------------------------------------------------------------------

// Callback receives the outcome of an asynchronous write.
//
// Exactly one of Succeeded or Failed is invoked, exactly once, for every
// write issued.
type Callback interface {
	// Succeeded signals that the operation completed.
	Succeeded()

	// Failed signals that the operation failed with the given error.
	Failed(err error)
}

// Sink is the downstream writer that ultimately sends bytes to the
// network.
//
// Write must invoke cb exactly once, on any goroutine, after p has been
// consumed. p must not be retained after cb is invoked. last marks the
// final chunk of the response body.
type Sink interface {
	Write(p []byte, last bool, cb Callback)
}

// Response exposes the response metadata the interceptor inspects and
// mutates.
//
// Implementations are typically thin views over a server's response
// object. Header returns the live header set; mutations made during
// commit must be visible to the eventual header flush.
type Response interface {
	// Status returns the response status code, or 0 when not yet set.
	Status() int

	// Header returns the response header set.
	Header() http.Header

	// ContentLength returns the declared body length, or -1 when unknown.
	ContentLength() int64

	// SetContentLength declares the body length. -1 resets it to unknown.
	SetContentLength(n int64)
}

// BufferPool allocates and recycles working buffers.
//
// Acquire returns a zero-length slice with capacity of at least size.
// Release returns a buffer to the pool; the caller must not use it
// afterwards.
type BufferPool interface {
	Acquire(size int) []byte
	Release(buf []byte)
}

// Factory is the eligibility policy: it decides which content types are
// worth compressing and supplies pooled DEFLATE engines.
type Factory interface {
	// Compressible reports whether the given mime type (lower-case,
	// charset already stripped) should be compressed.
	Compressible(mimeType string) bool

	// AcquireDeflater returns a DEFLATE engine for a response with the
	// given content-length hint (-1 when unknown), or nil to veto
	// compression (for example, below a size threshold). req may be nil.
	AcquireDeflater(req *http.Request, contentLength int64) *Deflater

	// ReleaseDeflater returns an engine to the pool.
	ReleaseDeflater(d *Deflater)
}

// -----------------------------------------------------------------------------
// Header constants
// -----------------------------------------------------------------------------

// Precomputed header values applied at commit time.
const (
	// VaryAcceptEncodingUserAgent is the default Vary value.
	VaryAcceptEncodingUserAgent = "Accept-Encoding, User-Agent"

	// VaryAcceptEncoding varies on Accept-Encoding only.
	VaryAcceptEncoding = "Accept-Encoding"

	// ETagGzipSuffix is appended to an existing ETag at commit so caches
	// distinguish the compressed representation. Inserted before the
	// closing quote when the ETag is quoted.
	ETagGzipSuffix = "--gzip"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrWritePending indicates a write arrived while another write on
	// the same response was still in flight. Writes on one response must
	// be sequential.
	ErrWritePending = errors.New("sluice: write pending")

	// ErrIllegalState indicates the interceptor's disposition held a
	// value no dispatch branch recognizes, or an operation was attempted
	// in a state that forbids it. This signals a caller protocol
	// violation, never a recoverable condition.
	ErrIllegalState = errors.New("sluice: illegal state")
)

func illegalState(d disposition) error {
	return fmt.Errorf("%w: %v", ErrIllegalState, d)
}
