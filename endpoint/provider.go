package endpoint

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"linkrt/channel"
	"linkrt/codec"
	"linkrt/envelope"
	"linkrt/errors"
	"linkrt/logging"
	"linkrt/qos"
	"linkrt/transport"
)

// HandlerFunc 提供端处理函数
type HandlerFunc[Req, Res any] func(ctx context.Context, req Req) (Res, error)

// Provider 类型化提供端
type Provider[Req, Res any] struct {
	name     string
	registry *Registry
	handle   *providerHandle
	reqEnc   codec.Encoder[Req]
	resEnc   codec.Encoder[Res]
	reqType  string
	resType  string
}

// Name 声明名称
func (p *Provider[Req, Res]) Name() string { return p.name }

// Key 路由键
func (p *Provider[Req, Res]) Key() string { return p.handle.key }

// ChannelPolicy 查询缓冲策略
func (p *Provider[Req, Res]) ChannelPolicy() qos.ChannelPolicy { return p.handle.policy }

// Provide 声明存活令牌并串行处理查询，阻塞到 ctx 结束（返回 nil）或注册表关闭（返回 CLOSED）
//
// 解码失败、处理函数返回错误或 panic 时发送错误应答，循环继续。退出时撤销令牌。
func (p *Provider[Req, Res]) Provide(ctx context.Context, fn HandlerFunc[Req, Res]) error {
	return p.serve(ctx, func(q *transport.Query) {
		p.answer(ctx, q, fn)
	})
}

// ProvideAsync 与 Provide 相同，但每个查询作为独立的工作单元执行
func (p *Provider[Req, Res]) ProvideAsync(ctx context.Context, fn HandlerFunc[Req, Res]) error {
	dispatcher := p.registry.opts.dispatcher
	return p.serve(ctx, func(q *transport.Query) {
		err := dispatcher.Go(ctx, p.name, func(ctx context.Context) error {
			p.answer(ctx, q, fn)
			return nil
		})
		if err != nil {
			p.registry.opts.logger.Debug(ctx, "async dispatch abandoned",
				logging.String("endpoint", p.name), logging.Error(err))
		}
	})
}

func (p *Provider[Req, Res]) serve(ctx context.Context, handle func(q *transport.Query)) error {
	logger := p.registry.opts.logger
	token, err := p.handle.session.DeclareToken(ctx, p.handle.key)
	if err != nil {
		return errors.WrapTransportError(ctx, err, "declare token "+p.handle.key)
	}
	logger.Info(ctx, "provider serving", logging.String("endpoint", p.name), logging.String("key", p.handle.key))

	defer func() {
		uctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := token.Undeclare(uctx); err != nil && !stdErrors.Is(err, transport.ErrClosed) {
			logger.Warn(uctx, "undeclare token failed", logging.String("endpoint", p.name), logging.Error(err))
		}
		logger.Info(uctx, "provider stopped", logging.String("endpoint", p.name))
	}()

	for {
		q, err := p.handle.ch.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if stdErrors.Is(err, channel.ErrClosed) {
				return errors.ErrClosed.WithContext("endpoint", p.name)
			}
			return err
		}
		handle(q)
	}
}

// answer 解码并调用处理函数，把结果或错误发回请求端
func (p *Provider[Req, Res]) answer(ctx context.Context, q *transport.Query, fn HandlerFunc[Req, Res]) {
	observers := p.registry.opts.observers
	logger := p.registry.opts.logger

	inEnv := envelope.New(envelope.RoleProvider, envelope.Inbound, p.name, q.Key, p.reqType, q.Payload)
	req, err := p.reqEnc.Decode(q.Payload)
	if err != nil {
		err = errors.WrapError(err, errors.ErrCodeDecode, "请求解码失败").WithContext("endpoint", p.name)
		observers.Observe(ctx, inEnv, err)
		p.fail(ctx, q, err, "decode request")
		return
	}
	observers.Observe(ctx, inEnv, nil)

	res, err := p.invoke(ctx, fn, req)
	if err != nil {
		p.fail(ctx, q, err, "handler")
		return
	}

	payload, err := p.resEnc.Encode(res)
	outEnv := envelope.New(envelope.RoleProvider, envelope.Outbound, p.name, q.Key, p.resType, payload)
	if err != nil {
		err = errors.WrapError(err, errors.ErrCodeEncode, "应答编码失败").WithContext("endpoint", p.name)
		observers.Observe(ctx, outEnv, err)
		p.fail(ctx, q, err, "encode response")
		return
	}

	if err := q.Reply(ctx, payload, qos.ReplyProfile().Transport()); err != nil {
		err = errors.WrapTransportError(ctx, err, "reply "+q.Key)
		observers.Observe(ctx, outEnv, err)
		logger.Warn(ctx, "reply failed", logging.String("endpoint", p.name), logging.Error(err))
		return
	}
	observers.Observe(ctx, outEnv, nil)
}

func (p *Provider[Req, Res]) invoke(ctx context.Context, fn HandlerFunc[Req, Res], req Req) (res Res, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return fn(ctx, req)
}

func (p *Provider[Req, Res]) fail(ctx context.Context, q *transport.Query, cause error, stage string) {
	p.registry.opts.logger.Warn(ctx, "query failed",
		logging.String("endpoint", p.name), logging.String("stage", stage), logging.Error(cause))
	if err := q.ReplyErr(ctx, fmt.Sprintf("%s: %v", stage, cause)); err != nil {
		p.registry.opts.logger.Warn(ctx, "error reply failed",
			logging.String("endpoint", p.name), logging.Error(err))
	}
}
