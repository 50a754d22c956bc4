package utils

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPool_SingleWorkerPreservesOrder(t *testing.T) {
	pool := NewWorkerPool(1, 16)

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 100; i++ {
		i := i
		assert.NoError(t, pool.Submit(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	pool.Shutdown()

	assert.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(2, 2)
	pool.Shutdown()
	pool.Shutdown()

	err := pool.Submit(func() {})
	assert.ErrorIs(t, err, ErrPoolClosed)
}
