package hgdl

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolExecutorRunsTasks(t *testing.T) {
	p := NewPoolExecutor(4)
	var n atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func() {
			n.Add(1)
			wg.Done()
		}))
	}
	wg.Wait()
	assert.Equal(t, int64(100), n.Load())
	require.NoError(t, p.Close())
}

func TestPoolExecutorCloseDrainsQueue(t *testing.T) {
	p := NewPoolExecutor(1)
	var n atomic.Int64
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(func() { n.Add(1) }))
	}
	require.NoError(t, p.Close())
	// Everything accepted before Close ran to completion.
	assert.Equal(t, int64(10), n.Load())
}

func TestPoolExecutorSubmitAfterClose(t *testing.T) {
	p := NewPoolExecutor(1)
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Submit(func() {}), ErrExecutorGone)
	// Close is idempotent.
	assert.NoError(t, p.Close())
}

func TestPoolExecutorMinimumOneWorker(t *testing.T) {
	p := NewPoolExecutor(0)
	done := make(chan struct{})
	require.NoError(t, p.Submit(func() { close(done) }))
	<-done
	require.NoError(t, p.Close())
}
