// Package topic 发布/订阅主题注册表与类型化包装
//
// 注册表在构造时按声明为每个 (角色, 路由键) 创建一次句柄，之后只读；
// GetPublisher / GetSubscriber 返回绑定到调用方类型 T 的轻量包装，多个包装可以共享同一个句柄。
// 查找时不校验 T 与声明中的 message_type 是否一致，类型不符会表现为解码失败。
package topic

import (
	"context"
	"sort"
	"sync"

	"linkrt/channel"
	"linkrt/codec"
	"linkrt/config"
	"linkrt/dispatch"
	"linkrt/errors"
	"linkrt/logging"
	"linkrt/qos"
	"linkrt/transport"
)

type publisherHandle struct {
	key     string
	profile qos.Profile
	qos     transport.QoS
	session transport.Session
}

type subscriberHandle struct {
	key    string
	policy qos.ChannelPolicy
	ch     channel.Channel[transport.Sample]
	sub    transport.Subscription
}

// Registry 主题注册表
type Registry struct {
	session transport.Session
	opts    options

	pubNames map[string]string
	subNames map[string]string

	publishers  map[string]*publisherHandle
	subscribers map[string]*subscriberHandle

	closeOnce sync.Once
}

// NewRegistry 校验声明并创建全部句柄；任何一步失败都会释放已创建的句柄
func NewRegistry(session transport.Session, decls []config.TopicDeclaration, opts ...Option) (*Registry, error) {
	if session == nil {
		return nil, errors.NewError(errors.ErrCodeNotInitialized, "transport session is nil")
	}
	if err := config.ValidateTopics(decls); err != nil {
		return nil, err
	}

	o := options{logger: logging.ComponentLogger("topic")}
	for _, opt := range opts {
		opt(&o)
	}
	if o.dispatcher == nil {
		o.dispatcher = dispatch.New(0, o.logger)
	}

	r := &Registry{
		session:     session,
		opts:        o,
		pubNames:    make(map[string]string),
		subNames:    make(map[string]string),
		publishers:  make(map[string]*publisherHandle),
		subscribers: make(map[string]*subscriberHandle),
	}

	ctx := context.Background()
	for _, d := range decls {
		switch d.Kind {
		case config.TopicPublish:
			r.pubNames[d.Name] = d.Key
			if _, ok := r.publishers[d.Key]; ok {
				continue
			}
			profile := d.PublishProfile()
			r.publishers[d.Key] = &publisherHandle{
				key:     d.Key,
				profile: profile,
				qos:     profile.Transport(),
				session: session,
			}
			o.logger.Debug(ctx, "publisher declared",
				logging.String("name", d.Name), logging.String("key", d.Key),
				logging.String("priority", profile.Priority.String()))

		case config.TopicSubscribe:
			r.subNames[d.Name] = d.Key
			if _, ok := r.subscribers[d.Key]; ok {
				continue
			}
			h, err := r.declareSubscriber(d.Key, d.ChannelPolicy())
			if err != nil {
				r.Close()
				return nil, errors.WrapTransportError(ctx, err, "subscribe "+d.Key)
			}
			r.subscribers[d.Key] = h
			o.logger.Debug(ctx, "subscriber declared",
				logging.String("name", d.Name), logging.String("key", d.Key),
				logging.String("channel", h.policy.String()))
		}
	}
	return r, nil
}

func (r *Registry) declareSubscriber(key string, policy qos.ChannelPolicy) (*subscriberHandle, error) {
	h := &subscriberHandle{key: key, policy: policy, ch: qos.NewChannel[transport.Sample](policy)}
	sub, err := r.session.Subscribe(key, func(s transport.Sample) {
		if !h.ch.Send(s) {
			r.opts.logger.Debug(context.Background(), "sample dropped, channel full", logging.String("key", key))
		}
	})
	if err != nil {
		h.ch.Close()
		return nil, err
	}
	h.sub = sub
	return h, nil
}

// Resolve 返回名称对应的路由键，发布名优先
func (r *Registry) Resolve(name string) (string, error) {
	if key, ok := r.pubNames[name]; ok {
		return key, nil
	}
	if key, ok := r.subNames[name]; ok {
		return key, nil
	}
	return "", errors.ErrNotFound.WithContext("topic", name)
}

// PublisherNames 已声明的发布主题名（排序）
func (r *Registry) PublisherNames() []string { return sortedKeys(r.pubNames) }

// SubscriberNames 已声明的订阅主题名（排序）
func (r *Registry) SubscriberNames() []string { return sortedKeys(r.subNames) }

// Close 关闭全部订阅与投递通道；阻塞中的 Recv 返回 CLOSED
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		for _, h := range r.subscribers {
			if h.sub != nil {
				_ = h.sub.Close()
			}
			h.ch.Close()
		}
	})
	return nil
}

func (r *Registry) lookup(name string, role config.TopicKind) (string, error) {
	own, other := r.pubNames, r.subNames
	if role == config.TopicSubscribe {
		own, other = r.subNames, r.pubNames
	}
	if key, ok := own[name]; ok {
		return key, nil
	}
	if _, ok := other[name]; ok {
		return "", errors.ErrRoleMismatch.WithContext("topic", name).WithContext("requested_role", string(role))
	}
	return "", errors.ErrNotFound.WithContext("topic", name)
}

// GetPublisher 按名称取得类型化发布者
func GetPublisher[T any](r *Registry, name string, enc codec.Encoder[T]) (*Publisher[T], error) {
	if enc == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidInput, "encoder is nil")
	}
	key, err := r.lookup(name, config.TopicPublish)
	if err != nil {
		return nil, err
	}
	return &Publisher[T]{
		name:     name,
		handle:   r.publishers[key],
		enc:      enc,
		typeName: codec.TypeName[T](),
		observer: r.opts.observers,
		logger:   r.opts.logger,
	}, nil
}

// GetSubscriber 按名称取得类型化订阅者
func GetSubscriber[T any](r *Registry, name string, enc codec.Encoder[T]) (*Subscriber[T], error) {
	if enc == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidInput, "encoder is nil")
	}
	key, err := r.lookup(name, config.TopicSubscribe)
	if err != nil {
		return nil, err
	}
	return &Subscriber[T]{
		name:       name,
		handle:     r.subscribers[key],
		enc:        enc,
		typeName:   codec.TypeName[T](),
		observer:   r.opts.observers,
		logger:     r.opts.logger,
		dispatcher: r.opts.dispatcher,
	}, nil
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
