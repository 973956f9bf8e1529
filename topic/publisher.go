package topic

import (
	"context"

	"linkrt/codec"
	"linkrt/envelope"
	"linkrt/errors"
	"linkrt/logging"
	"linkrt/qos"
)

// Publisher 类型化发布者
type Publisher[T any] struct {
	name     string
	handle   *publisherHandle
	enc      codec.Encoder[T]
	typeName string
	observer envelope.Observer
	logger   logging.Logger
}

// Name 声明名称
func (p *Publisher[T]) Name() string { return p.name }

// Key 路由键
func (p *Publisher[T]) Key() string { return p.handle.key }

// QoS 解析后的 QoS
func (p *Publisher[T]) QoS() qos.Profile { return p.handle.profile }

// Publish 编码并按句柄 QoS 发送
//
// DROP 拥塞控制下消息可能被传输层静默丢弃，此时仍返回 nil。
func (p *Publisher[T]) Publish(ctx context.Context, msg *T) error {
	if msg == nil {
		return errors.NewError(errors.ErrCodeInvalidInput, "message is nil")
	}

	payload, err := p.enc.Encode(*msg)
	env := envelope.New(envelope.RolePublisher, envelope.Outbound, p.name, p.handle.key, p.typeName, payload)
	if err != nil {
		err = errors.WrapError(err, errors.ErrCodeEncode, "消息编码失败").WithContext("topic", p.name)
		p.observer.Observe(ctx, env, err)
		return err
	}

	if err := p.handle.session.Put(ctx, p.handle.key, payload, p.handle.qos); err != nil {
		err = errors.WrapTransportError(ctx, err, "publish "+p.handle.key)
		p.observer.Observe(ctx, env, err)
		return err
	}
	p.observer.Observe(ctx, env, nil)
	return nil
}

// PublishAsync 在独立 goroutine 中发布，结果写入返回的通道（容量 1）
func (p *Publisher[T]) PublishAsync(ctx context.Context, msg *T) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- p.Publish(ctx, msg)
	}()
	return done
}
