// Package pool provides reusable I/O buffers for hashing and copying.
//
// sync.Pool caches allocated but unused objects for later reuse, relieving
// pressure on the garbage collector. Items in the pool are dropped during
// garbage collection, which makes it a good fit for short-lived buffers.
package pool

import "sync"

// FixedBufferPool hands out byte slices of one fixed size.
type FixedBufferPool struct {
	size int
	pool sync.Pool
}

// NewFixedBuffer creates a pool of buffers with the given size in bytes.
// A non-positive size falls back to 32 KiB, the size io.Copy uses.
func NewFixedBuffer(size int) *FixedBufferPool {
	if size <= 0 {
		size = 32 * 1024
	}
	fp := &FixedBufferPool{size: size}
	fp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return fp
}

// Size returns the length of the buffers handed out by this pool.
func (fp *FixedBufferPool) Size() int {
	return fp.size
}

// Get returns a pointer to a buffer of exactly Size() bytes.
func (fp *FixedBufferPool) Get() *[]byte {
	return fp.pool.Get().(*[]byte)
}

// Put returns a buffer to the pool. Buffers of a foreign capacity are dropped.
func (fp *FixedBufferPool) Put(b *[]byte) {
	if b == nil || cap(*b) != fp.size {
		return
	}
	*b = (*b)[:fp.size]
	fp.pool.Put(b)
}
