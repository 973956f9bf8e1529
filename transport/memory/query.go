package memory

import (
	"context"
	"sync"

	"linkrt/transport"
)

// collector 收集一次查询的应答；所有应答者回复或 ctx 结束后关闭输出通道
type collector struct {
	mu       sync.Mutex
	out      chan transport.Reply
	expected int
	received int
	closed   bool
	done     chan struct{}
}

func newCollector(expected int) *collector {
	return &collector{
		out:      make(chan transport.Reply, expected),
		expected: expected,
		done:     make(chan struct{}),
	}
}

func (c *collector) deliver(r transport.Reply, final bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	select {
	case c.out <- r:
	default:
		// 同一应答者多次回复超出缓冲时丢弃
	}
	if final {
		c.received++
		if c.received >= c.expected {
			c.closeLocked()
		}
	}
	return nil
}

func (c *collector) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *collector) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.out)
	close(c.done)
}

// responder 每个 queryable 一个，首次应答计入完成数
type responder struct {
	c     *collector
	first sync.Once
}

func (r *responder) send(reply transport.Reply) error {
	final := false
	r.first.Do(func() { final = true })
	return r.c.deliver(reply, final)
}

func (r *responder) Reply(ctx context.Context, key string, payload []byte, qos transport.QoS) error {
	return r.send(transport.Reply{Key: key, Payload: payload})
}

func (r *responder) ReplyErr(ctx context.Context, key string, message string) error {
	return r.send(transport.Reply{Key: key, Err: message})
}

// Get 发起查询；没有匹配的 queryable 时返回已关闭的通道
func (s *Session) Get(ctx context.Context, key string, payload []byte, qos transport.QoS) (<-chan transport.Reply, error) {
	if err := transport.ValidateKey(key); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, transport.ErrClosed
	}

	s.mu.RLock()
	targets := make([]*subscription, 0, len(s.queryables))
	for _, q := range s.queryables {
		if transport.Match(q.key, key) || transport.Match(key, q.key) {
			targets = append(targets, q)
		}
	}
	s.mu.RUnlock()

	c := newCollector(len(targets))
	if len(targets) == 0 {
		c.close()
		return c.out, nil
	}

	go func() {
		select {
		case <-ctx.Done():
			c.close()
		case <-c.done:
		}
	}()

	for _, q := range targets {
		query := transport.NewQuery(q.key, payload, qos.Normalize(), &responder{c: c})
		s.invoke(q, func() { q.onQuery(query) })
	}
	return c.out, nil
}
