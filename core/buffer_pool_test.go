package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPoolGetPut(t *testing.T) {
	t.Parallel()

	bp := NewBufferPool(256, 1000, 4*1024)

	buf := bp.Get()
	require.NotNil(t, buf)
	assert.Equal(t, int64(1000), buf.Size())

	_, err := buf.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", buf.String())

	// Put resets the buffer before pooling it.
	bp.Put(buf)
	again := bp.Get()
	assert.Empty(t, again.String())
	assert.EqualValues(t, 0, again.TotalWritten())
}

func TestBufferPoolGetSized(t *testing.T) {
	t.Parallel()

	bp := NewBufferPool(256, 1000, 4*1024)

	// Sizes inside the pooled range reuse default buffers.
	buf := bp.GetSized(512)
	assert.Equal(t, int64(1000), buf.Size())

	// Larger requests get a custom buffer, capped at the maximum.
	big := bp.GetSized(2048)
	assert.Equal(t, int64(2048), big.Size())

	huge := bp.GetSized(1 << 20)
	assert.Equal(t, int64(4*1024), huge.Size())

	// Tiny requests below the minimum also get their own buffer.
	small := bp.GetSized(16)
	assert.Equal(t, int64(16), small.Size())
}

func TestBufferPoolPutNil(t *testing.T) {
	t.Parallel()

	bp := NewBufferPool(256, 1000, 4*1024)
	bp.Put(nil) // must not panic
}

func TestBufferPoolHeadTruncation(t *testing.T) {
	t.Parallel()

	// DefaultBufferPool buffers hold OutputLimit bytes; circbuf keeps the
	// tail on overflow, so dispatch code must pre-truncate with a
	// LimitReader rather than rely on the ring.
	buf := DefaultBufferPool.Get()
	defer DefaultBufferPool.Put(buf)

	assert.Equal(t, int64(OutputLimit), buf.Size())
}
