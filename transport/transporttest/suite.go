// Package transporttest 各传输实现共用的行为测试
package transporttest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkrt/transport"
)

// Factory 为单个用例创建会话；用例结束时由套件关闭
type Factory func(t *testing.T) transport.Session

// Eventually 的默认等待时间
const waitFor = 3 * time.Second

// Run 执行完整的会话行为套件
func Run(t *testing.T, newSession Factory) {
	t.Run("PutSubscribeOrdered", func(t *testing.T) { testPutSubscribeOrdered(t, newSession) })
	t.Run("WildcardSubscribe", func(t *testing.T) { testWildcardSubscribe(t, newSession) })
	t.Run("SubscriptionClose", func(t *testing.T) { testSubscriptionClose(t, newSession) })
	t.Run("QueryReply", func(t *testing.T) { testQueryReply(t, newSession) })
	t.Run("QueryReplyErr", func(t *testing.T) { testQueryReplyErr(t, newSession) })
	t.Run("QueryNoResponders", func(t *testing.T) { testQueryNoResponders(t, newSession) })
	t.Run("QuerySilentProvider", func(t *testing.T) { testQuerySilentProvider(t, newSession) })
	t.Run("Liveliness", func(t *testing.T) { testLiveliness(t, newSession) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, newSession) })
}

func open(t *testing.T, newSession Factory) transport.Session {
	t.Helper()
	s := newSession(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type recorder struct {
	mu      sync.Mutex
	samples []transport.Sample
}

func (r *recorder) handle(s transport.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

func (r *recorder) snapshot() []transport.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]transport.Sample, len(r.samples))
	copy(out, r.samples)
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

func blockingQoS() transport.QoS {
	q := transport.DefaultQoS()
	q.Block = true
	return q
}

func testPutSubscribeOrdered(t *testing.T, newSession Factory) {
	s := open(t, newSession)
	ctx := context.Background()

	rec := &recorder{}
	sub, err := s.Subscribe("suite/ordered", rec.handle)
	require.NoError(t, err)
	assert.Equal(t, "suite/ordered", sub.Key())

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, s.Put(ctx, "suite/ordered", []byte(fmt.Sprintf("%03d", i)), blockingQoS()))
	}

	require.Eventually(t, func() bool { return rec.count() == n }, waitFor, 5*time.Millisecond)
	for i, sample := range rec.snapshot() {
		assert.Equal(t, fmt.Sprintf("%03d", i), string(sample.Payload))
		assert.Equal(t, "suite/ordered", sample.Key)
		assert.Equal(t, transport.SampleKindPut, sample.Kind)
	}
}

func testWildcardSubscribe(t *testing.T, newSession Factory) {
	s := open(t, newSession)
	ctx := context.Background()

	single, deep := &recorder{}, &recorder{}
	_, err := s.Subscribe("suite/robot/*", single.handle)
	require.NoError(t, err)
	_, err = s.Subscribe("suite/**", deep.handle)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "suite/robot/status", []byte("a"), blockingQoS()))
	require.NoError(t, s.Put(ctx, "suite/robot/arm/pose", []byte("b"), blockingQoS()))

	require.Eventually(t, func() bool { return deep.count() == 2 }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return single.count() == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, "suite/robot/status", single.snapshot()[0].Key)
}

func testSubscriptionClose(t *testing.T, newSession Factory) {
	s := open(t, newSession)
	ctx := context.Background()

	rec := &recorder{}
	sub, err := s.Subscribe("suite/close", rec.handle)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "suite/close", []byte("1"), blockingQoS()))
	require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, 5*time.Millisecond)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	require.NoError(t, s.Put(ctx, "suite/close", []byte("2"), blockingQoS()))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func testQueryReply(t *testing.T, newSession Factory) {
	s := open(t, newSession)

	q, err := s.DeclareQueryable("suite/echo", func(query *transport.Query) {
		_ = query.Reply(context.Background(), append([]byte("echo:"), query.Payload...), blockingQoS())
	})
	require.NoError(t, err)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	replies, err := s.Get(ctx, "suite/echo", []byte("hi"), blockingQoS())
	require.NoError(t, err)

	select {
	case reply, ok := <-replies:
		require.True(t, ok)
		assert.False(t, reply.IsError())
		assert.Equal(t, "echo:hi", string(reply.Payload))
	case <-ctx.Done():
		t.Fatal("no reply")
	}
}

func testQueryReplyErr(t *testing.T, newSession Factory) {
	s := open(t, newSession)

	_, err := s.DeclareQueryable("suite/fail", func(query *transport.Query) {
		_ = query.ReplyErr(context.Background(), "bad request")
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	replies, err := s.Get(ctx, "suite/fail", nil, blockingQoS())
	require.NoError(t, err)

	reply, ok := <-replies
	require.True(t, ok)
	assert.True(t, reply.IsError())
	assert.Equal(t, "bad request", reply.Err)
}

func testQueryNoResponders(t *testing.T, newSession Factory) {
	s := open(t, newSession)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	replies, err := s.Get(ctx, "suite/nobody", nil, blockingQoS())
	require.NoError(t, err)

	select {
	case _, ok := <-replies:
		assert.False(t, ok)
	case <-ctx.Done():
		t.Fatal("reply channel was not closed")
	}
}

func testQuerySilentProvider(t *testing.T, newSession Factory) {
	s := open(t, newSession)

	_, err := s.DeclareQueryable("suite/silent", func(query *transport.Query) {})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	replies, err := s.Get(ctx, "suite/silent", nil, blockingQoS())
	require.NoError(t, err)

	_, ok := <-replies
	assert.False(t, ok)
	assert.Less(t, time.Since(start), waitFor)
}

func testLiveliness(t *testing.T, newSession Factory) {
	s := open(t, newSession)
	ctx := context.Background()

	state, err := s.Liveliness(ctx, "suite/live")
	require.NoError(t, err)
	assert.Equal(t, transport.LivenessUnknown, state)

	tok, err := s.DeclareToken(ctx, "suite/live")
	require.NoError(t, err)
	assert.Equal(t, "suite/live", tok.Key())

	require.Eventually(t, func() bool {
		state, err := s.Liveliness(ctx, "suite/live")
		return err == nil && state == transport.LivenessAlive
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, tok.Undeclare(ctx))
	require.NoError(t, tok.Undeclare(ctx))
	require.Eventually(t, func() bool {
		state, err := s.Liveliness(ctx, "suite/live")
		return err == nil && state == transport.LivenessGone
	}, waitFor, 10*time.Millisecond)
}

func testClosed(t *testing.T, newSession Factory) {
	s := newSession(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.False(t, s.Stats().Running)

	ctx := context.Background()
	assert.ErrorIs(t, s.Put(ctx, "suite/closed", nil, blockingQoS()), transport.ErrClosed)
	_, err := s.Subscribe("suite/closed", func(transport.Sample) {})
	assert.ErrorIs(t, err, transport.ErrClosed)
	_, err = s.Get(ctx, "suite/closed", nil, blockingQoS())
	assert.ErrorIs(t, err, transport.ErrClosed)
	_, err = s.DeclareToken(ctx, "suite/closed")
	assert.ErrorIs(t, err, transport.ErrClosed)
}
