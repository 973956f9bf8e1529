package redisps

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkrt/logging"
	"linkrt/transport"
	"linkrt/transport/transporttest"
)

func newTestSession(t *testing.T, mr *miniredis.Miniredis) *Session {
	t.Helper()
	s, err := NewSession(context.Background(), Config{
		Addr:          mr.Addr(),
		LivelinessTTL: 3 * time.Second,
		Logger:        logging.NewNoopLogger(),
	})
	require.NoError(t, err)
	return s
}

func TestSessionSuite(t *testing.T) {
	mr := miniredis.RunT(t)
	transporttest.Run(t, func(t *testing.T) transport.Session {
		return newTestSession(t, mr)
	})
}

func TestNewSession_PingFails(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := NewSession(ctx, Config{Addr: addr, Logger: logging.NewNoopLogger()})
	require.Error(t, err)
}

func TestSession_SharedClientNotClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s, err := NewSession(context.Background(), Config{Client: client, Logger: logging.NewNoopLogger()})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.NoError(t, client.Ping(context.Background()).Err())
}

func TestSession_TokenExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newTestSession(t, mr)
	defer s.Close()
	ctx := context.Background()

	_, err := s.DeclareToken(ctx, "svc/echo")
	require.NoError(t, err)
	assert.True(t, mr.Exists("linkrt:live:svc/echo"))

	// 心跳停止后键过期，状态回到未知
	s.mu.Lock()
	for tok := range s.tokens {
		close(tok.stop)
		tok.wg.Wait()
		tok.once.Do(func() {})
	}
	s.mu.Unlock()
	mr.FastForward(4 * time.Second)

	state, err := s.Liveliness(ctx, "svc/echo")
	require.NoError(t, err)
	assert.Equal(t, transport.LivenessUnknown, state)
}

func TestSession_WildcardLiveliness(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newTestSession(t, mr)
	defer s.Close()
	ctx := context.Background()

	tok, err := s.DeclareToken(ctx, "svc/a/add")
	require.NoError(t, err)

	state, err := s.Liveliness(ctx, "svc/*/add")
	require.NoError(t, err)
	assert.Equal(t, transport.LivenessAlive, state)

	state, err = s.Liveliness(ctx, "other/**")
	require.NoError(t, err)
	assert.Equal(t, transport.LivenessUnknown, state)

	require.NoError(t, tok.Undeclare(ctx))
	state, err = s.Liveliness(ctx, "svc/**")
	require.NoError(t, err)
	assert.Equal(t, transport.LivenessGone, state)
}

func TestFrameRoundTrip(t *testing.T) {
	q := transport.QoS{Priority: transport.PriorityRealTime, Reliable: true, Block: true}
	data, err := encodeFrame(newFrame("a/b", []byte{1, 2}, q))
	require.NoError(t, err)

	f, err := decodeFrame(string(data))
	require.NoError(t, err)
	assert.Equal(t, "a/b", f.Key)
	assert.Equal(t, []byte{1, 2}, f.Payload)
	assert.Equal(t, q, f.qos())
}

func TestGlobOf(t *testing.T) {
	assert.Equal(t, "a/*/c", globOf("a/*/c"))
	assert.Equal(t, "a/*", globOf("a/**"))
	assert.Equal(t, `a\[1\]/b`, globOf("a[1]/b"))
}

func TestSession_PutDropOnlyOnConnectionErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newTestSession(t, mr)
	defer s.Close()

	ctx := context.Background()
	drop := transport.DefaultQoS()

	// 服务端错误不算拥塞，直接返回
	mr.SetError("NOAUTH Authentication required")
	err := s.Put(ctx, "robot/pose", []byte("x"), drop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOAUTH")
	assert.Equal(t, uint64(0), s.Stats().Dropped)
	mr.SetError("")

	require.NoError(t, s.Put(ctx, "robot/pose", []byte("x"), drop))

	// 连接断开时按丢弃处理
	mr.Close()
	require.NoError(t, s.Put(ctx, "robot/pose", []byte("x"), drop))
	assert.Equal(t, uint64(1), s.Stats().Dropped)

	block := drop
	block.Block = true
	assert.Error(t, s.Put(ctx, "robot/pose", []byte("x"), block))
}

func TestCongested(t *testing.T) {
	assert.True(t, congested(&net.OpError{Op: "dial", Err: errors.New("connection refused")}))
	assert.True(t, congested(redis.ErrClosed))
	assert.True(t, congested(io.EOF))
	assert.False(t, congested(errors.New("some other failure")))
}
