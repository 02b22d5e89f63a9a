package sluice

import (
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

// Test doubles shared by the package tests. All of them are deliberately
// deterministic: sinks complete synchronously unless asked otherwise, and
// fault injection is positional, never timing-based.

var errSinkBoom = errors.New("sink boom")

// testSink records downstream writes and completes each callback either
// inline or on a fresh goroutine.
type testSink struct {
	writes [][]byte
	lasts  []bool

	failAt int  // fail the nth write (1-based); 0 means never
	async  bool // deliver completions from another goroutine
}

func (s *testSink) Write(p []byte, last bool, cb Callback) {
	s.writes = append(s.writes, append([]byte(nil), p...))
	s.lasts = append(s.lasts, last)

	n := len(s.writes)
	complete := func() {
		if s.failAt != 0 && n >= s.failAt {
			cb.Failed(errSinkBoom)
			return
		}
		cb.Succeeded()
	}
	if s.async {
		go complete()
		return
	}
	complete()
}

// body returns the concatenation of all forwarded bytes.
func (s *testSink) body() []byte {
	var out []byte
	for _, w := range s.writes {
		out = append(out, w...)
	}
	return out
}

// testResponse is a standalone Response for driving the interceptor
// without an HTTP server.
type testResponse struct {
	status        int
	header        http.Header
	contentLength int64
}

func newTestResponse(status int, contentType string) *testResponse {
	r := &testResponse{
		status:        status,
		header:        make(http.Header),
		contentLength: -1,
	}
	if contentType != "" {
		r.header.Set("Content-Type", contentType)
	}
	return r
}

func (r *testResponse) Status() int              { return r.status }
func (r *testResponse) Header() http.Header      { return r.header }
func (r *testResponse) ContentLength() int64     { return r.contentLength }
func (r *testResponse) SetContentLength(n int64) { r.contentLength = n }

// countingFactory counts engine acquisitions and releases.
type countingFactory struct {
	Factory
	acquired atomic.Int32
	released atomic.Int32
}

func newCountingFactory(t *testing.T, cfg FactoryConfig) *countingFactory {
	t.Helper()
	f, err := NewFactory(cfg)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	return &countingFactory{Factory: f}
}

func (f *countingFactory) AcquireDeflater(req *http.Request, contentLength int64) *Deflater {
	d := f.Factory.AcquireDeflater(req, contentLength)
	if d != nil {
		f.acquired.Add(1)
	}
	return d
}

func (f *countingFactory) ReleaseDeflater(d *Deflater) {
	if d != nil {
		f.released.Add(1)
	}
	f.Factory.ReleaseDeflater(d)
}

// countingPool counts buffer traffic.
type countingPool struct {
	BufferPool
	acquired atomic.Int32
	released atomic.Int32
}

func newCountingPool() *countingPool {
	return &countingPool{BufferPool: NewBufferPool()}
}

func (p *countingPool) Acquire(size int) []byte {
	p.acquired.Add(1)
	return p.BufferPool.Acquire(size)
}

func (p *countingPool) Release(buf []byte) {
	p.released.Add(1)
	p.BufferPool.Release(buf)
}

// waitCallback collects a single asynchronous outcome.
type waitCallback struct {
	ch chan error
}

func newWaitCallback() *waitCallback {
	return &waitCallback{ch: make(chan error, 1)}
}

func (c *waitCallback) Succeeded()       { c.ch <- nil }
func (c *waitCallback) Failed(err error) { c.ch <- err }

func (c *waitCallback) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-c.ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for write callback")
		return nil
	}
}

// mustSucceed issues one interceptor write and requires a successful
// callback.
func mustSucceed(t *testing.T, g *Interceptor, c Content, last bool) {
	t.Helper()
	cb := newWaitCallback()
	g.Write(c, last, cb)
	if err := cb.wait(t); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

// testConfig compresses everything the mime policy allows, regardless of
// size, so small fixtures exercise the compression path.
func testConfig() FactoryConfig {
	cfg := DefaultFactoryConfig()
	cfg.MinSize = 0
	return cfg
}
