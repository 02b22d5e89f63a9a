package sluice

import (
	"math/bits"
	"sync"
)

// -----------------------------------------------------------------------------
// Buffer Pool
// -----------------------------------------------------------------------------

// bucketPool implements BufferPool with per-size-class sync.Pools.
// Capacities are rounded up to powers of two; buffers released with an
// unusual capacity land in the bucket they fully cover.
type bucketPool struct {
	buckets [poolBuckets]sync.Pool
}

const (
	poolMinBits = 6  // 64 B
	poolMaxBits = 22 // 4 MiB
	poolBuckets = poolMaxBits - poolMinBits + 1
)

// NewBufferPool creates the default BufferPool: lock-free size-classed
// pooling over sync.Pool. Safe for concurrent use and shared across
// responses.
func NewBufferPool() BufferPool {
	return &bucketPool{}
}

// defaultPool is shared by interceptors that were not given a pool.
var defaultPool = NewBufferPool()

func (p *bucketPool) Acquire(size int) []byte {
	if size < 1 {
		size = 1
	}
	idx, capacity := bucketFor(size)
	if idx < 0 {
		return make([]byte, 0, size)
	}
	if v := p.buckets[idx].Get(); v != nil {
		return v.([]byte)[:0]
	}
	return make([]byte, 0, capacity)
}

func (p *bucketPool) Release(buf []byte) {
	c := cap(buf)
	if c < 1<<poolMinBits || c > 1<<poolMaxBits {
		return
	}
	// Place by the largest class the buffer can fully serve.
	idx := bits.Len(uint(c)) - 1 - poolMinBits
	if idx < 0 || idx >= poolBuckets {
		return
	}
	p.buckets[idx].Put(buf[:0])
}

// bucketFor returns the bucket index and rounded capacity for a request,
// or -1 when the request exceeds the largest class.
func bucketFor(size int) (int, int) {
	b := bits.Len(uint(size - 1))
	if b < poolMinBits {
		b = poolMinBits
	}
	if b > poolMaxBits {
		return -1, 0
	}
	return b - poolMinBits, 1 << b
}
