package topic

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkrt/codec"
	"linkrt/config"
	"linkrt/logging"
	"linkrt/transport"
	"linkrt/transport/natsio"
	"linkrt/transport/natsio/natstest"
	"linkrt/transport/redisps"
)

func runReadingAcrossSessions(t *testing.T, open func(t *testing.T) transport.Session) {
	decls, err := config.ParseTopics([]byte(topicsJSON))
	require.NoError(t, err)

	pubReg, err := NewRegistry(open(t), decls, WithLogger(logging.NewNoopLogger()))
	require.NoError(t, err)
	defer pubReg.Close()
	subReg, err := NewRegistry(open(t), decls, WithLogger(logging.NewNoopLogger()))
	require.NoError(t, err)
	defer subReg.Close()

	enc := codec.JSONOf[reading]()
	pub, err := GetPublisher(pubReg, "out", enc)
	require.NoError(t, err)
	sub, err := GetSubscriber(subReg, "in", enc)
	require.NoError(t, err)

	// 订阅在远端生效之前发布的消息可能丢失，所以重复发布直到收到
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		require.NoError(t, pub.Publish(ctx, &reading{ID: 1}))
		got, err := sub.RecvTimeout(100 * time.Millisecond)
		if err == nil {
			assert.Equal(t, reading{ID: 1}, got)
			return
		}
		require.NoError(t, ctx.Err(), "no reading delivered")
	}
}

func TestPublishSubscribe_NATS(t *testing.T) {
	srv := natstest.RunServer(t)
	runReadingAcrossSessions(t, func(t *testing.T) transport.Session {
		s, err := natsio.NewSession(natsio.Config{URL: srv.ClientURL(), Logger: logging.NewNoopLogger()})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestPublishSubscribe_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	runReadingAcrossSessions(t, func(t *testing.T) transport.Session {
		s, err := redisps.NewSession(context.Background(), redisps.Config{Addr: mr.Addr(), Logger: logging.NewNoopLogger()})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
