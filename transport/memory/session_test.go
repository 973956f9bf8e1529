package memory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkrt/logging"
	"linkrt/transport"
	"linkrt/transport/transporttest"
)

func newTestSession(queueSize int) *Session {
	return NewSession(Config{QueueSize: queueSize, Logger: logging.NewNoopLogger()})
}

func TestSessionSuite(t *testing.T) {
	transporttest.Run(t, func(t *testing.T) transport.Session {
		return newTestSession(64)
	})
}

func TestSession_DropWhenQueueFull(t *testing.T) {
	s := newTestSession(1)
	defer s.Close()

	release := make(chan struct{})
	var delivered atomic.Int32
	_, err := s.Subscribe("slow", func(transport.Sample) {
		<-release
		delivered.Add(1)
	})
	require.NoError(t, err)

	ctx := context.Background()
	drop := transport.DefaultQoS()
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Put(ctx, "slow", []byte{byte(i)}, drop))
	}
	close(release)

	require.Eventually(t, func() bool { return s.Stats().QueueDepth == 0 }, time.Second, 5*time.Millisecond)
	assert.Greater(t, s.Stats().Dropped, uint64(0))
	assert.Less(t, int(delivered.Load()), 10)
}

func TestSession_BlockWaitsForContext(t *testing.T) {
	s := newTestSession(1)
	defer s.Close()

	release := make(chan struct{})
	defer close(release)
	_, err := s.Subscribe("stuck", func(transport.Sample) { <-release })
	require.NoError(t, err)

	block := transport.DefaultQoS()
	block.Block = true

	// 第一条被分发协程取走并卡住，第二条占满队列
	require.NoError(t, s.Put(context.Background(), "stuck", nil, block))
	require.Eventually(t, func() bool { return s.Stats().QueueDepth == 0 }, time.Second, time.Millisecond)
	require.NoError(t, s.Put(context.Background(), "stuck", nil, block))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Put(ctx, "stuck", nil, block), context.DeadlineExceeded)
}

func TestSession_CloseDrainsQueue(t *testing.T) {
	s := newTestSession(16)

	var count atomic.Int32
	_, err := s.Subscribe("drain", func(transport.Sample) {
		time.Sleep(time.Millisecond)
		count.Add(1)
	})
	require.NoError(t, err)

	block := transport.DefaultQoS()
	block.Block = true
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Put(context.Background(), "drain", nil, block))
	}
	require.NoError(t, s.Close())
	assert.Equal(t, int32(10), count.Load())
}

func TestSession_PanickingSubscriberIsolated(t *testing.T) {
	s := newTestSession(8)
	defer s.Close()

	var ok atomic.Int32
	_, err := s.Subscribe("p", func(transport.Sample) { panic("boom") })
	require.NoError(t, err)
	_, err = s.Subscribe("p", func(transport.Sample) { ok.Add(1) })
	require.NoError(t, err)

	require.NoError(t, s.Put(context.Background(), "p", nil, transport.DefaultQoS()))
	require.Eventually(t, func() bool { return ok.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSession_PutRejectsWildcardKey(t *testing.T) {
	s := newTestSession(8)
	defer s.Close()
	assert.ErrorIs(t, s.Put(context.Background(), "a/*", nil, transport.DefaultQoS()), transport.ErrInvalidKey)
	assert.ErrorIs(t, s.Put(context.Background(), "", nil, transport.DefaultQoS()), transport.ErrInvalidKey)
}

func TestSession_Stats(t *testing.T) {
	s := newTestSession(8)
	defer s.Close()

	_, _ = s.Subscribe("a", func(transport.Sample) {})
	_, _ = s.DeclareQueryable("b", func(*transport.Query) {})
	_, _ = s.DeclareToken(context.Background(), "b")

	stats := s.Stats()
	assert.Equal(t, "memory", stats.Backend)
	assert.True(t, stats.Running)
	assert.Equal(t, 1, stats.Subscriptions)
	assert.Equal(t, 1, stats.Queryables)
	assert.Equal(t, 1, stats.Tokens)
	assert.NotEmpty(t, s.ID())
}
