package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferPoolReturnsFullSizeChunks(t *testing.T) {
	bp := NewBufferPool(ChunkSize)

	b := bp.Get()
	assert.Len(t, *b, ChunkSize)

	*b = (*b)[:10]
	bp.Put(b)
	assert.Len(t, *bp.Get(), ChunkSize)
}

func TestBufferPoolDropsForeignSlices(t *testing.T) {
	bp := NewBufferPool(16)
	foreign := make([]byte, 8)
	bp.Put(&foreign)
	bp.Put(nil)

	for i := 0; i < 4; i++ {
		assert.Len(t, *bp.Get(), 16)
	}
}
