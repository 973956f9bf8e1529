package channel

import (
	"context"
	"sync"
)

// Ring 环形有界通道，满时新消息覆盖最旧消息
type Ring[T any] struct {
	mu      sync.Mutex
	buf     []T
	head    int
	size    int
	dropped uint64
	closed  bool

	notify chan struct{}
	done   chan struct{}
}

// NewRing 创建 Ring 通道，capacity 至少为 1
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		buf:    make([]T, capacity),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (r *Ring[T]) Send(v T) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	if r.size == len(r.buf) {
		var zero T
		r.buf[r.head] = zero
		r.head = (r.head + 1) % len(r.buf)
		r.size--
		r.dropped++
	}
	r.buf[(r.head+r.size)%len(r.buf)] = v
	r.size++
	r.mu.Unlock()

	r.signal()
	return true
}

func (r *Ring[T]) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// pop 取出最旧消息，调用方持有锁
func (r *Ring[T]) pop() T {
	v := r.buf[r.head]
	var zero T
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return v
}

func (r *Ring[T]) Recv(ctx context.Context) (T, error) {
	for {
		r.mu.Lock()
		if r.size > 0 {
			v := r.pop()
			more := r.size > 0
			r.mu.Unlock()
			if more {
				r.signal()
			}
			return v, nil
		}
		closed := r.closed
		r.mu.Unlock()

		if closed {
			var zero T
			return zero, ErrClosed
		}

		select {
		case <-r.notify:
		case <-r.done:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

func (r *Ring[T]) TryRecv() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size == 0 {
		var zero T
		return zero, false
	}
	return r.pop(), true
}

func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *Ring[T]) Cap() int { return len(r.buf) }

func (r *Ring[T]) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close 关闭通道；已缓冲的消息仍可读出
func (r *Ring[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.done)
}
