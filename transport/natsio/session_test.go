package natsio_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkrt/logging"
	"linkrt/transport"
	"linkrt/transport/natsio"
	"linkrt/transport/natsio/natstest"
	"linkrt/transport/transporttest"
)

func newSession(t *testing.T, url string) *natsio.Session {
	t.Helper()
	s, err := natsio.NewSession(natsio.Config{
		URL:           url,
		LivelinessTTL: 2 * time.Second,
		Logger:        logging.NewNoopLogger(),
	})
	require.NoError(t, err)
	return s
}

func TestSessionSuite(t *testing.T) {
	srv := natstest.RunServer(t)
	transporttest.Run(t, func(t *testing.T) transport.Session {
		return newSession(t, srv.ClientURL())
	})
}

func TestSession_CrossSessionDelivery(t *testing.T) {
	srv := natstest.RunServer(t)
	pub := newSession(t, srv.ClientURL())
	defer pub.Close()
	sub := newSession(t, srv.ClientURL())
	defer sub.Close()

	got := make(chan transport.Sample, 1)
	_, err := sub.Subscribe("robot/1/pose", func(s transport.Sample) { got <- s })
	require.NoError(t, err)

	q := transport.QoS{Priority: transport.PriorityInteractiveHigh, Reliable: true, Block: true, Express: true}
	require.NoError(t, pub.Put(context.Background(), "robot/1/pose", []byte("x"), q))

	select {
	case s := <-got:
		assert.Equal(t, "robot/1/pose", s.Key)
		assert.Equal(t, transport.PriorityInteractiveHigh, s.QoS.Priority)
		assert.True(t, s.QoS.Reliable)
	case <-time.After(3 * time.Second):
		t.Fatal("sample not delivered")
	}
}

func TestSession_LivelinessAcrossSessions(t *testing.T) {
	srv := natstest.RunServer(t)
	provider := newSession(t, srv.ClientURL())
	watcher := newSession(t, srv.ClientURL())
	defer watcher.Close()
	ctx := context.Background()

	_, err := provider.DeclareToken(ctx, "svc/add")
	require.NoError(t, err)

	state, err := watcher.Liveliness(ctx, "svc/add")
	require.NoError(t, err)
	assert.Equal(t, transport.LivenessAlive, state)

	state, err = watcher.Liveliness(ctx, "svc/*")
	require.NoError(t, err)
	assert.Equal(t, transport.LivenessAlive, state)

	// 关闭会话会撤销其全部令牌
	require.NoError(t, provider.Close())
	state, err = watcher.Liveliness(ctx, "svc/add")
	require.NoError(t, err)
	assert.Equal(t, transport.LivenessGone, state)
}

func TestSession_RejectsWildcardPut(t *testing.T) {
	srv := natstest.RunServer(t)
	s := newSession(t, srv.ClientURL())
	defer s.Close()

	err := s.Put(context.Background(), "a/*", nil, transport.DefaultQoS())
	assert.ErrorIs(t, err, transport.ErrInvalidKey)
}
