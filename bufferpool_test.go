package mcdump

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestBufferPool(t *testing.T, count int) *BufferPool {
	t.Helper()
	pool, err := NewBufferPool(BufferPoolConfig{ChunkSize: 64, Count: count})
	require.NoError(t, err)
	return pool
}

func TestBufferPool_Preallocate(t *testing.T) {
	pool := newTestBufferPool(t, 3)

	require.Equal(t, 64, pool.ChunkSize())
	require.Equal(t, BufferPoolStats{Capacity: 3}, pool.Stats())

	b, err := pool.Checkout()
	require.NoError(t, err)
	require.Len(t, b.Bytes(), 64)
}

func TestBufferPool_InvalidSize(t *testing.T) {
	_, err := NewBufferPool(BufferPoolConfig{ChunkSize: 0, Count: 1})
	require.Error(t, err)

	_, err = NewBufferPool(BufferPoolConfig{ChunkSize: 1, Count: 0})
	require.Error(t, err)
}

func TestBufferPool_EmptyAfterCapacity(t *testing.T) {
	pool := newTestBufferPool(t, 2)

	b1, err := pool.Checkout()
	require.NoError(t, err)
	_, err = pool.Checkout()
	require.NoError(t, err)

	_, err = pool.Checkout()
	require.ErrorIs(t, err, ErrPoolEmpty)
	_, err = pool.Checkout()
	require.ErrorIs(t, err, ErrPoolEmpty)

	pool.Release(b1)
	b, err := pool.Checkout()
	require.NoError(t, err)
	require.Same(t, b1, b)

	stats := pool.Stats()
	require.Equal(t, uint64(3), stats.Checkouts)
	require.Equal(t, uint64(2), stats.EmptyCheckouts)
	require.Equal(t, int32(2), stats.Outstanding)
}

func TestBufferPool_FIFO(t *testing.T) {
	pool := newTestBufferPool(t, 2)

	b1, _ := pool.Checkout()
	b2, _ := pool.Checkout()

	pool.Release(b1)
	pool.Release(b2)

	first, err := pool.Checkout()
	require.NoError(t, err)
	second, err := pool.Checkout()
	require.NoError(t, err)

	require.Same(t, b1, first)
	require.Same(t, b2, second)
}

func TestBufferPool_FIFOAcrossWrap(t *testing.T) {
	pool := newTestBufferPool(t, 3)

	a, _ := pool.Checkout()
	b, _ := pool.Checkout()
	pool.Release(b)
	pool.Release(a)

	// c was never checked out, so it is the oldest idle buffer.
	c, _ := pool.Checkout()
	require.Equal(t, 2, c.ID())

	next, _ := pool.Checkout()
	require.Same(t, b, next)
	next, _ = pool.Checkout()
	require.Same(t, a, next)
}

func TestBufferPool_ReleaseToFullPoolPanics(t *testing.T) {
	pool := newTestBufferPool(t, 1)
	b, _ := pool.Checkout()
	pool.Release(b)

	require.Panics(t, func() { pool.Release(b) })
}

func TestBufferPool_MaxBytes(t *testing.T) {
	_, err := NewBufferPool(BufferPoolConfig{ChunkSize: 1024, Count: 4, MaxBytes: 4095})
	require.ErrorIs(t, err, ErrOutOfMemory)

	_, err = NewBufferPool(BufferPoolConfig{ChunkSize: 1024, Count: 4, MaxBytes: 4096})
	require.NoError(t, err)
}

type failingAllocator struct {
	failAt    int
	allocated int
	freed     [][]byte
}

func (a *failingAllocator) Allocate(size int) ([]byte, error) {
	if a.allocated == a.failAt {
		return nil, errors.New("no memory left")
	}
	a.allocated++
	return make([]byte, size), nil
}

func (a *failingAllocator) Free(b []byte) {
	a.freed = append(a.freed, b)
}

func TestBufferPool_PreallocationRollback(t *testing.T) {
	alloc := &failingAllocator{failAt: 3}

	pool, err := NewBufferPool(BufferPoolConfig{ChunkSize: 16, Count: 5, Allocator: alloc})

	require.ErrorIs(t, err, ErrOutOfMemory)
	require.ErrorContains(t, err, "buffer 4 of 5")
	require.Nil(t, pool)
	require.Len(t, alloc.freed, 3, "every buffer allocated before the failure is freed")
}

func TestBufferPool_Concurrent(t *testing.T) {
	const workers = 16
	pool := newTestBufferPool(t, 4)

	var wg sync.WaitGroup
	var mu sync.Mutex
	held := map[int]bool{}

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 500 {
				b, err := pool.Checkout()
				if err != nil {
					require.ErrorIs(t, err, ErrPoolEmpty)
					continue
				}

				mu.Lock()
				require.False(t, held[b.ID()], "buffer %d checked out twice", b.ID())
				held[b.ID()] = true
				require.LessOrEqual(t, len(held), 4)
				mu.Unlock()

				mu.Lock()
				delete(held, b.ID())
				mu.Unlock()
				pool.Release(b)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(0), pool.Stats().Outstanding)
}
