package topic

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkrt/codec"
	"linkrt/config"
	"linkrt/envelope"
	"linkrt/errors"
	"linkrt/logging"
	"linkrt/qos"
	"linkrt/transport"
	"linkrt/transport/memory"
)

type reading struct {
	ID int `json:"id"`
}

const topicsJSON = `{"topics": [
	{"topic_type": "PUB", "topic_name": "out", "topic_key": "test/reading", "message_type": "reading"},
	{"topic_type": "SUB", "topic_name": "in", "topic_key": "test/reading", "message_type": "reading"},
	{"topic_type": "SUB", "topic_name": "latest", "topic_key": "test/latest", "message_type": "reading",
	 "handler": {"handler_type": "RING", "capacity": 2}},
	{"topic_type": "PUB", "topic_name": "latest", "topic_key": "test/latest", "message_type": "reading",
	 "priority": "BACKGROUND", "congestion_control": "BLOCK"}
]}`

func newSession(t *testing.T) transport.Session {
	t.Helper()
	s := memory.NewSession(memory.Config{QueueSize: 256, Logger: logging.NewNoopLogger()})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	decls, err := config.ParseTopics([]byte(topicsJSON))
	require.NoError(t, err)
	opts = append([]Option{WithLogger(logging.NewNoopLogger())}, opts...)
	r, err := NewRegistry(newSession(t), decls, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRegistry_PublishSubscribeScenario(t *testing.T) {
	r := newRegistry(t)
	enc := codec.JSONOf[reading]()

	pub, err := GetPublisher(r, "out", enc)
	require.NoError(t, err)
	sub, err := GetSubscriber(r, "in", enc)
	require.NoError(t, err)

	require.NoError(t, pub.Publish(context.Background(), &reading{ID: 1}))

	got, err := sub.RecvTimeout(time.Second)
	require.NoError(t, err)
	assert.Equal(t, reading{ID: 1}, got)
}

func TestRegistry_Lookup(t *testing.T) {
	r := newRegistry(t)
	enc := codec.JSONOf[reading]()

	_, err := GetPublisher(r, "in", enc)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeRoleMismatch))

	_, err = GetSubscriber(r, "out", enc)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeRoleMismatch))

	_, err = GetPublisher(r, "missing", enc)
	assert.True(t, errors.IsNotFound(err))

	// 同名在两种角色下都存在时按请求的角色解析
	_, err = GetPublisher(r, "latest", enc)
	assert.NoError(t, err)
	_, err = GetSubscriber(r, "latest", enc)
	assert.NoError(t, err)

	_, err = GetPublisher[reading](r, "out", nil)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeInvalidInput))

	key, err := r.Resolve("in")
	require.NoError(t, err)
	assert.Equal(t, "test/reading", key)
	_, err = r.Resolve("nope")
	assert.True(t, errors.IsNotFound(err))

	assert.Equal(t, []string{"latest", "out"}, r.PublisherNames())
	assert.Equal(t, []string{"in", "latest"}, r.SubscriberNames())
}

func TestRegistry_QoSAndPolicy(t *testing.T) {
	r := newRegistry(t)
	enc := codec.JSONOf[reading]()

	out, err := GetPublisher(r, "out", enc)
	require.NoError(t, err)
	assert.Equal(t, qos.PublishDefaults(), out.QoS())

	latest, err := GetPublisher(r, "latest", enc)
	require.NoError(t, err)
	assert.Equal(t, qos.PriorityBackground, latest.QoS().Priority)
	assert.Equal(t, qos.Block, latest.QoS().CongestionControl)

	in, err := GetSubscriber(r, "in", enc)
	require.NoError(t, err)
	assert.Equal(t, qos.DefaultChannelPolicy(), in.ChannelPolicy())
}

func TestRegistry_FIFOOrder(t *testing.T) {
	r := newRegistry(t)
	enc := codec.JSONOf[reading]()
	out, err := GetPublisher(r, "out", enc)
	require.NoError(t, err)
	in, err := GetSubscriber(r, "in", enc)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		require.NoError(t, out.Publish(ctx, &reading{ID: i}))
	}
	for i := 0; i < 20; i++ {
		got, err := in.RecvTimeout(time.Second)
		require.NoError(t, err)
		assert.Equal(t, i, got.ID)
	}
}

func TestRegistry_RingKeepsLatest(t *testing.T) {
	r := newRegistry(t)
	enc := codec.JSONOf[reading]()
	pub, err := GetPublisher(r, "latest", enc)
	require.NoError(t, err)
	sub, err := GetSubscriber(r, "latest", enc)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.NoError(t, pub.Publish(ctx, &reading{ID: i}))
	}
	require.Eventually(t, func() bool { return sub.Dropped() == 3 }, time.Second, 5*time.Millisecond)

	first, err := sub.RecvTimeout(time.Second)
	require.NoError(t, err)
	second, err := sub.RecvTimeout(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5}, []int{first.ID, second.ID})
}

func TestSubscriber_DecodeFailureIsolated(t *testing.T) {
	var failures atomic.Int32
	obs := envelope.ObserverFunc(func(ctx context.Context, env envelope.Envelope, err error) {
		if errors.IsErrorCode(err, errors.ErrCodeDecode) {
			failures.Add(1)
		}
	})
	r := newRegistry(t, WithObserver(obs))

	raw, err := GetPublisher(r, "out", codec.For[string](rawCodec{}))
	require.NoError(t, err)
	pub, err := GetPublisher(r, "out", codec.JSONOf[reading]())
	require.NoError(t, err)
	sub, err := GetSubscriber(r, "in", codec.JSONOf[reading]())
	require.NoError(t, err)

	ctx := context.Background()
	bad := "not json"
	require.NoError(t, raw.Publish(ctx, &bad))
	require.NoError(t, pub.Publish(ctx, &reading{ID: 7}))

	got, err := sub.RecvTimeout(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 7, got.ID)
	assert.Equal(t, int32(1), failures.Load())
}

func TestSubscriber_RecvWithMetadata(t *testing.T) {
	r := newRegistry(t)
	enc := codec.JSONOf[reading]()
	pub, _ := GetPublisher(r, "out", enc)
	sub, _ := GetSubscriber(r, "in", enc)

	require.NoError(t, pub.Publish(context.Background(), &reading{ID: 3}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := sub.RecvWithMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Message.ID)
	assert.Equal(t, "test/reading", d.Envelope.Key)
	assert.Equal(t, "in", d.Envelope.Name)
	assert.Equal(t, codec.TypeName[reading](), d.Envelope.TypeName)
	assert.Equal(t, len(`{"id":3}`), d.Envelope.Size)
	assert.Equal(t, envelope.Inbound, d.Envelope.Direction)
}

func TestSubscriber_RecvTimeout(t *testing.T) {
	r := newRegistry(t)
	sub, err := GetSubscriber(r, "in", codec.JSONOf[reading]())
	require.NoError(t, err)

	start := time.Now()
	_, err = sub.RecvTimeout(30 * time.Millisecond)
	assert.True(t, errors.IsTimeout(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestSubscriber_RecvAfterClose(t *testing.T) {
	r := newRegistry(t)
	sub, err := GetSubscriber(r, "in", codec.JSONOf[reading]())
	require.NoError(t, err)

	require.NoError(t, r.Close())
	_, err = sub.Recv(context.Background())
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeClosed))
}

func TestSubscriber_SubscribeSerialAndIsolated(t *testing.T) {
	r := newRegistry(t)
	enc := codec.JSONOf[reading]()
	pub, _ := GetPublisher(r, "out", enc)
	sub, _ := GetSubscriber(r, "in", enc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []int
	done := make(chan error, 1)
	go func() {
		done <- sub.Subscribe(ctx, func(ctx context.Context, m reading) error {
			if m.ID == 2 {
				panic("bad message")
			}
			mu.Lock()
			seen = append(seen, m.ID)
			mu.Unlock()
			if m.ID == 3 {
				return errors.NewError(errors.ErrCodeInternal, "handler failure")
			}
			return nil
		})
	}()

	for i := 1; i <= 4; i++ {
		require.NoError(t, pub.Publish(context.Background(), &reading{ID: i}))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{1, 3, 4}, seen)

	cancel()
	assert.NoError(t, <-done)
}

func TestSubscriber_SubscribeAsync(t *testing.T) {
	r := newRegistry(t)
	enc := codec.JSONOf[reading]()
	pub, _ := GetPublisher(r, "out", enc)
	sub, _ := GetSubscriber(r, "in", enc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var count atomic.Int32
	go func() {
		_ = sub.SubscribeWithMetadataAsync(ctx, func(ctx context.Context, d Delivery[reading]) error {
			count.Add(1)
			return nil
		})
	}()

	for i := 0; i < 10; i++ {
		require.NoError(t, pub.Publish(context.Background(), &reading{ID: i}))
	}
	require.Eventually(t, func() bool { return count.Load() == 10 }, time.Second, 5*time.Millisecond)
}

func TestSubscriber_SubscribeAsyncSlowHandlerDoesNotBlock(t *testing.T) {
	r := newRegistry(t)
	enc := codec.JSONOf[reading]()
	pub, err := GetPublisher(r, "out", enc)
	require.NoError(t, err)
	sub, err := GetSubscriber(r, "in", enc)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	release, second := make(chan struct{}), make(chan struct{})
	defer close(release)

	go func() {
		_ = sub.SubscribeAsync(ctx, func(ctx context.Context, msg reading) error {
			switch msg.ID {
			case 1:
				<-release
			case 2:
				close(second)
			}
			return nil
		})
	}()

	require.NoError(t, pub.Publish(context.Background(), &reading{ID: 1}))
	require.NoError(t, pub.Publish(context.Background(), &reading{ID: 2}))

	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("second message waited for the blocked handler")
	}
}

func TestPublisher_PublishAsyncAndNil(t *testing.T) {
	r := newRegistry(t)
	enc := codec.JSONOf[reading]()
	pub, _ := GetPublisher(r, "out", enc)
	sub, _ := GetSubscriber(r, "in", enc)

	require.NoError(t, <-pub.PublishAsync(context.Background(), &reading{ID: 9}))
	got, err := sub.RecvTimeout(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 9, got.ID)

	err = pub.Publish(context.Background(), nil)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeInvalidInput))
}

func TestNewRegistry_RejectsDuplicates(t *testing.T) {
	decls := []config.TopicDeclaration{
		{Kind: config.TopicPublish, Name: "a", Key: "k/1", MessageType: "m"},
		{Kind: config.TopicPublish, Name: "a", Key: "k/2", MessageType: "m"},
	}
	_, err := NewRegistry(newSession(t), decls, WithLogger(logging.NewNoopLogger()))
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeConfig))
}

func TestNewRegistry_SharesHandlePerKey(t *testing.T) {
	decls := []config.TopicDeclaration{
		{Kind: config.TopicSubscribe, Name: "a", Key: "shared/key", MessageType: "m"},
		{Kind: config.TopicSubscribe, Name: "b", Key: "shared/key", MessageType: "m"},
	}
	s := newSession(t)
	r, err := NewRegistry(s, decls, WithLogger(logging.NewNoopLogger()))
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 1, s.Stats().Subscriptions)
	a, _ := GetSubscriber(r, "a", codec.JSONOf[reading]())
	b, _ := GetSubscriber(r, "b", codec.JSONOf[reading]())
	assert.Same(t, a.handle, b.handle)
}

// rawCodec 原样输出字符串，用于构造无法解码的负载
type rawCodec struct{}

func (rawCodec) ContentType() string { return "text/plain" }
func (rawCodec) Marshal(v any) ([]byte, error) {
	return []byte(v.(string)), nil
}
func (rawCodec) Unmarshal(data []byte, v any) error {
	*(v.(*string)) = string(data)
	return nil
}
