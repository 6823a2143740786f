// Package buffer pools the fixed-size chunks used to copy upstream media
// bodies to clients.
package buffer

import "sync"

// ChunkSize is the size of one copy chunk.
const ChunkSize = 32 * 1024

// BufferPool hands out byte slices of a single size. Slices of any other
// capacity are dropped on Put.
type BufferPool struct {
	pool sync.Pool
	size int
}

// NewBufferPool creates a pool of size-byte chunks.
func NewBufferPool(size int) *BufferPool {
	bp := &BufferPool{size: size}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return bp
}

// Get returns a chunk of exactly the pool size.
func (bp *BufferPool) Get() *[]byte {
	b := bp.pool.Get().(*[]byte)
	*b = (*b)[:bp.size]
	return b
}

// Put returns b to the pool.
func (bp *BufferPool) Put(b *[]byte) {
	if b == nil || cap(*b) != bp.size {
		return
	}
	bp.pool.Put(b)
}
