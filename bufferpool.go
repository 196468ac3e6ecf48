package mcdump

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	ErrPoolEmpty   = errors.New("mcdump: buffer pool empty")
	ErrOutOfMemory = errors.New("mcdump: out of memory")
)

// Buffer is a fixed-size block owned either by its pool or by the worker that
// checked it out.
type Buffer struct {
	id  int
	buf []byte
}

// ID identifies the buffer within its pool.
func (b *Buffer) ID() int { return b.id }

// Bytes returns the whole block.
func (b *Buffer) Bytes() []byte { return b.buf }

// Allocator provides the memory behind pool buffers.
type Allocator interface {
	Allocate(size int) ([]byte, error)
	Free(b []byte)
}

type heapAllocator struct{}

func (heapAllocator) Allocate(size int) ([]byte, error) { return make([]byte, size), nil }

func (heapAllocator) Free([]byte) {}

// BufferPoolConfig configures a BufferPool.
type BufferPoolConfig struct {
	// ChunkSize is the size of every buffer.
	ChunkSize int

	// Count is the number of buffers preallocated.
	Count int

	// MaxBytes caps ChunkSize*Count. Zero means no limit.
	MaxBytes int64

	// Allocator defaults to plain heap allocation.
	Allocator Allocator
}

// BufferPoolStats is a snapshot of pool usage.
type BufferPoolStats struct {
	Checkouts      uint64 // Successful checkouts
	EmptyCheckouts uint64 // Checkouts refused because every buffer was out

	Capacity    int32 // Buffers owned by the pool
	Outstanding int32 // Buffers currently checked out
}

// BufferPool hands out preallocated buffers in FIFO order.
//
// Checkout never blocks: when every buffer is out it returns ErrPoolEmpty and
// the caller decides how to back off.
type BufferPool struct {
	mu    sync.Mutex
	ring  []*Buffer
	head  int
	idle  int
	chunk int

	checkouts      atomic.Uint64
	emptyCheckouts atomic.Uint64
	outstanding    atomic.Int32
}

// NewBufferPool preallocates every buffer up front. If any allocation fails,
// the buffers already allocated are freed and ErrOutOfMemory is returned.
func NewBufferPool(config BufferPoolConfig) (*BufferPool, error) {
	if config.ChunkSize <= 0 || config.Count <= 0 {
		return nil, fmt.Errorf("mcdump: invalid buffer pool size %d x %d", config.Count, config.ChunkSize)
	}

	alloc := config.Allocator
	if alloc == nil {
		alloc = heapAllocator{}
	}

	total := int64(config.ChunkSize) * int64(config.Count)
	if config.MaxBytes > 0 && total > config.MaxBytes {
		return nil, fmt.Errorf("%w: %d buffers of %d bytes exceed %d bytes", ErrOutOfMemory, config.Count, config.ChunkSize, config.MaxBytes)
	}

	ring := make([]*Buffer, config.Count)
	for i := range ring {
		b, err := alloc.Allocate(config.ChunkSize)
		if err == nil && len(b) < config.ChunkSize {
			err = fmt.Errorf("short allocation of %d bytes", len(b))
		}
		if err != nil {
			for _, allocated := range ring[:i] {
				alloc.Free(allocated.buf)
			}
			return nil, fmt.Errorf("%w: buffer %d of %d: %v", ErrOutOfMemory, i+1, config.Count, err)
		}
		ring[i] = &Buffer{id: i, buf: b[:config.ChunkSize]}
	}

	return &BufferPool{
		ring:  ring,
		idle:  len(ring),
		chunk: config.ChunkSize,
	}, nil
}

// ChunkSize returns the size of every buffer.
func (p *BufferPool) ChunkSize() int { return p.chunk }

// Checkout takes the buffer that has been idle the longest.
func (p *BufferPool) Checkout() (*Buffer, error) {
	p.mu.Lock()
	if p.idle == 0 {
		p.mu.Unlock()
		p.emptyCheckouts.Add(1)
		return nil, ErrPoolEmpty
	}
	b := p.ring[p.head]
	p.ring[p.head] = nil
	p.head = (p.head + 1) % len(p.ring)
	p.idle--
	p.mu.Unlock()

	p.checkouts.Add(1)
	p.outstanding.Add(1)
	return b, nil
}

// Release hands b back to the pool. b must not be used afterwards and must be
// released exactly once.
func (p *BufferPool) Release(b *Buffer) {
	p.mu.Lock()
	if p.idle == len(p.ring) {
		p.mu.Unlock()
		panic(fmt.Sprintf("mcdump: buffer %d released to a full pool", b.id))
	}
	p.ring[(p.head+p.idle)%len(p.ring)] = b
	p.idle++
	p.mu.Unlock()

	p.outstanding.Add(-1)
}

// Stats returns a snapshot of the pool usage.
func (p *BufferPool) Stats() BufferPoolStats {
	return BufferPoolStats{
		Checkouts:      p.checkouts.Load(),
		EmptyCheckouts: p.emptyCheckouts.Load(),
		Capacity:       int32(len(p.ring)),
		Outstanding:    p.outstanding.Load(),
	}
}
