package channel

import (
	"context"
	"sync"
	"sync/atomic"
)

// FIFO 有序有界通道，满时丢弃新到消息
type FIFO[T any] struct {
	mu      sync.RWMutex
	ch      chan T
	closed  bool
	dropped atomic.Uint64
}

// NewFIFO 创建 FIFO 通道，capacity 至少为 1
func NewFIFO[T any](capacity int) *FIFO[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &FIFO[T]{ch: make(chan T, capacity)}
}

func (f *FIFO[T]) Send(v T) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return false
	}
	select {
	case f.ch <- v:
		return true
	default:
		f.dropped.Add(1)
		return false
	}
}

func (f *FIFO[T]) Recv(ctx context.Context) (T, error) {
	select {
	case v, ok := <-f.ch:
		if !ok {
			var zero T
			return zero, ErrClosed
		}
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (f *FIFO[T]) TryRecv() (T, bool) {
	select {
	case v, ok := <-f.ch:
		return v, ok
	default:
		var zero T
		return zero, false
	}
}

func (f *FIFO[T]) Len() int        { return len(f.ch) }
func (f *FIFO[T]) Cap() int        { return cap(f.ch) }
func (f *FIFO[T]) Dropped() uint64 { return f.dropped.Load() }

// Close 关闭通道；已缓冲的消息仍可读出
func (f *FIFO[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.ch)
}
