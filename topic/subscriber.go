package topic

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"linkrt/channel"
	"linkrt/codec"
	"linkrt/dispatch"
	"linkrt/envelope"
	"linkrt/errors"
	"linkrt/logging"
	"linkrt/qos"
	"linkrt/transport"
)

// Delivery 解码后的消息及其信封
type Delivery[T any] struct {
	Message  T
	Envelope envelope.Envelope
}

// Handler 订阅回调
type Handler[T any] func(ctx context.Context, msg T) error

// MetadataHandler 带信封的订阅回调
type MetadataHandler[T any] func(ctx context.Context, d Delivery[T]) error

// Subscriber 类型化订阅者
//
// 解码失败的消息记录日志后丢弃，不会返回给调用方。
type Subscriber[T any] struct {
	name       string
	handle     *subscriberHandle
	enc        codec.Encoder[T]
	typeName   string
	observer   envelope.Observer
	logger     logging.Logger
	dispatcher *dispatch.Dispatcher
}

// Name 声明名称
func (s *Subscriber[T]) Name() string { return s.name }

// Key 路由键
func (s *Subscriber[T]) Key() string { return s.handle.key }

// ChannelPolicy 投递通道策略
func (s *Subscriber[T]) ChannelPolicy() qos.ChannelPolicy { return s.handle.policy }

// Dropped 因通道容量丢弃或覆盖的消息数
func (s *Subscriber[T]) Dropped() uint64 { return s.handle.ch.Dropped() }

// Recv 等待下一条可解码的消息
func (s *Subscriber[T]) Recv(ctx context.Context) (T, error) {
	d, err := s.RecvWithMetadata(ctx)
	return d.Message, err
}

// RecvTimeout 最多等待 timeout
func (s *Subscriber[T]) RecvTimeout(timeout time.Duration) (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Recv(ctx)
}

// RecvWithMetadata 等待下一条可解码的消息并附带信封
func (s *Subscriber[T]) RecvWithMetadata(ctx context.Context) (Delivery[T], error) {
	for {
		sample, err := s.handle.ch.Recv(ctx)
		if err != nil {
			return Delivery[T]{}, s.recvError(err)
		}
		if d, ok := s.decode(ctx, sample); ok {
			return d, nil
		}
	}
}

func (s *Subscriber[T]) recvError(err error) error {
	if stdErrors.Is(err, channel.ErrClosed) {
		return errors.ErrClosed.WithContext("topic", s.name)
	}
	return errors.Normalize(err)
}

func (s *Subscriber[T]) decode(ctx context.Context, sample transport.Sample) (Delivery[T], bool) {
	env := envelope.New(envelope.RoleSubscriber, envelope.Inbound, s.name, sample.Key, s.typeName, sample.Payload)
	env.Timestamp = sample.Timestamp
	msg, err := s.enc.Decode(sample.Payload)
	if err != nil {
		err = errors.WrapError(err, errors.ErrCodeDecode, "消息解码失败").WithContext("topic", s.name)
		s.logger.Warn(ctx, "discarding undecodable message",
			logging.String("topic", s.name), logging.String("key", sample.Key),
			logging.String("type", s.typeName), logging.Int("size", len(sample.Payload)), logging.Error(err))
		s.observer.Observe(ctx, env, err)
		return Delivery[T]{}, false
	}
	s.observer.Observe(ctx, env, nil)
	return Delivery[T]{Message: msg, Envelope: env}, true
}

// Subscribe 串行执行回调，阻塞到 ctx 结束（返回 nil）或注册表关闭（返回 CLOSED）
//
// 回调的错误与 panic 只记录日志，循环继续。
func (s *Subscriber[T]) Subscribe(ctx context.Context, fn Handler[T]) error {
	return s.SubscribeWithMetadata(ctx, func(ctx context.Context, d Delivery[T]) error {
		return fn(ctx, d.Message)
	})
}

// SubscribeAsync 与 Subscribe 相同，但每条消息作为独立的工作单元执行
func (s *Subscriber[T]) SubscribeAsync(ctx context.Context, fn Handler[T]) error {
	return s.SubscribeWithMetadataAsync(ctx, func(ctx context.Context, d Delivery[T]) error {
		return fn(ctx, d.Message)
	})
}

// SubscribeWithMetadata 串行执行带信封的回调
func (s *Subscriber[T]) SubscribeWithMetadata(ctx context.Context, fn MetadataHandler[T]) error {
	return s.drain(ctx, func(d Delivery[T]) {
		if err := s.invoke(ctx, fn, d); err != nil {
			s.logger.Warn(ctx, "subscriber callback failed",
				logging.String("topic", s.name), logging.Error(err))
		}
	})
}

// SubscribeWithMetadataAsync 每条消息交给调度器并发执行
func (s *Subscriber[T]) SubscribeWithMetadataAsync(ctx context.Context, fn MetadataHandler[T]) error {
	return s.drain(ctx, func(d Delivery[T]) {
		task := func(ctx context.Context) error { return s.invoke(ctx, fn, d) }
		if err := s.dispatcher.Go(ctx, s.name, task); err != nil {
			s.logger.Debug(ctx, "async dispatch abandoned", logging.String("topic", s.name), logging.Error(err))
		}
	})
}

func (s *Subscriber[T]) drain(ctx context.Context, deliver func(Delivery[T])) error {
	for {
		d, err := s.RecvWithMetadata(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		deliver(d)
	}
}

func (s *Subscriber[T]) invoke(ctx context.Context, fn MetadataHandler[T], d Delivery[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	return fn(ctx, d)
}
