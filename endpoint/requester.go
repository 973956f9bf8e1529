package endpoint

import (
	"context"
	"time"

	"linkrt/codec"
	"linkrt/envelope"
	"linkrt/errors"
	"linkrt/logging"
	"linkrt/qos"
	"linkrt/transport"
)

// Result 异步请求的结果
type Result[Res any] struct {
	Value Res
	Err   error
}

// Requester 类型化请求端
type Requester[Req, Res any] struct {
	name     string
	registry *Registry
	handle   *requesterHandle
	reqEnc   codec.Encoder[Req]
	resEnc   codec.Encoder[Res]
	reqType  string
	resType  string
}

// Name 声明名称
func (q *Requester[Req, Res]) Name() string { return q.name }

// Key 路由键
func (q *Requester[Req, Res]) Key() string { return q.handle.key }

// QoS 解析后的请求 QoS
func (q *Requester[Req, Res]) QoS() qos.Profile { return q.handle.profile }

// Request 发送请求并只取第一条应答
//
// timeout > 0 时最多等待 timeout（TIMEOUT）；timeout == 0 时等待到 ctx 结束。
// 没有提供端存活时立即返回 ENDPOINT_NOT_AVAILABLE；提供端返回错误应答时返回 REMOTE_ERROR。
func (q *Requester[Req, Res]) Request(ctx context.Context, req *Req, timeout time.Duration) (Res, error) {
	start := time.Now()
	res, err := q.request(ctx, req, timeout)
	q.registry.observeRequest(q.name, outcome(err), time.Since(start))
	return res, err
}

func (q *Requester[Req, Res]) request(ctx context.Context, req *Req, timeout time.Duration) (Res, error) {
	var zero Res

	replies, qctx, cancel, err := q.send(ctx, req, timeout)
	if err != nil {
		return zero, err
	}
	defer cancel()

	select {
	case reply, ok := <-replies:
		if !ok {
			return zero, q.noReply(ctx, qctx, timeout)
		}
		return q.decode(ctx, reply)
	case <-qctx.Done():
		return zero, q.noReply(ctx, qctx, timeout)
	}
}

// RequestAll 收集全部应答，直到所有提供端都已应答或超时
//
// 超时前已收到应答时返回已收到的部分；只有错误应答时返回第一条 REMOTE_ERROR。
func (q *Requester[Req, Res]) RequestAll(ctx context.Context, req *Req, timeout time.Duration) ([]Res, error) {
	start := time.Now()
	out, err := q.requestAll(ctx, req, timeout)
	q.registry.observeRequest(q.name, outcome(err), time.Since(start))
	return out, err
}

func (q *Requester[Req, Res]) requestAll(ctx context.Context, req *Req, timeout time.Duration) ([]Res, error) {
	replies, qctx, cancel, err := q.send(ctx, req, timeout)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var (
		out      []Res
		firstErr error
		received int
	)
	for reply := range replies {
		received++
		res, err := q.decode(ctx, reply)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out = append(out, res)
	}
	if len(out) > 0 {
		return out, nil
	}
	if firstErr != nil {
		return nil, firstErr
	}
	if received == 0 {
		return nil, q.noReply(ctx, qctx, timeout)
	}
	return nil, nil
}

// RequestAsync 在独立 goroutine 中执行 Request
func (q *Requester[Req, Res]) RequestAsync(ctx context.Context, req *Req, timeout time.Duration) <-chan Result[Res] {
	done := make(chan Result[Res], 1)
	go func() {
		v, err := q.Request(ctx, req, timeout)
		done <- Result[Res]{Value: v, Err: err}
	}()
	return done
}

// send 检查存活、编码并发出查询；返回的 cancel 释放查询
func (q *Requester[Req, Res]) send(ctx context.Context, req *Req, timeout time.Duration) (<-chan transport.Reply, context.Context, context.CancelFunc, error) {
	if req == nil {
		return nil, nil, nil, errors.NewError(errors.ErrCodeInvalidInput, "request is nil")
	}
	session := q.handle.session
	logger := q.registry.opts.logger

	state, err := q.registry.liveness(ctx, q.handle.key)
	if err != nil {
		return nil, nil, nil, errors.WrapTransportError(ctx, err, "liveliness "+q.handle.key)
	}
	if state != transport.LivenessAlive {
		logger.Debug(ctx, "no live provider",
			logging.String("endpoint", q.name), logging.String("state", state.String()))
		return nil, nil, nil, errors.ErrNotAvailable.WithContext("endpoint", q.name).WithContext("liveness", state.String())
	}

	payload, err := q.reqEnc.Encode(*req)
	env := envelope.New(envelope.RoleRequester, envelope.Outbound, q.name, q.handle.key, q.reqType, payload)
	if err != nil {
		err = errors.WrapError(err, errors.ErrCodeEncode, "请求编码失败").WithContext("endpoint", q.name)
		q.registry.opts.observers.Observe(ctx, env, err)
		return nil, nil, nil, err
	}

	var (
		qctx   context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		qctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		qctx, cancel = context.WithCancel(ctx)
	}

	replies, err := session.Get(qctx, q.handle.key, payload, q.handle.qos)
	if err != nil {
		cancel()
		err = errors.WrapTransportError(ctx, err, "query "+q.handle.key)
		q.registry.opts.observers.Observe(ctx, env, err)
		return nil, nil, nil, err
	}
	q.registry.opts.observers.Observe(ctx, env, nil)
	return replies, qctx, cancel, nil
}

// noReply 应答流结束而没有任何应答时的错误
func (q *Requester[Req, Res]) noReply(ctx, qctx context.Context, timeout time.Duration) error {
	q.registry.forgetLiveness(q.handle.key)
	if err := ctx.Err(); err != nil {
		return errors.Normalize(err)
	}
	if qctx.Err() != nil {
		return errors.ErrTimeout.WithContext("endpoint", q.name).WithContext("timeout", timeout.String())
	}
	return errors.ErrNotAvailable.WithContext("endpoint", q.name)
}

func (q *Requester[Req, Res]) decode(ctx context.Context, reply transport.Reply) (Res, error) {
	var zero Res
	env := envelope.New(envelope.RoleRequester, envelope.Inbound, q.name, reply.Key, q.resType, reply.Payload)
	if reply.IsError() {
		err := errors.NewError(errors.ErrCodeRemote, reply.Err).WithContext("endpoint", q.name)
		q.registry.opts.observers.Observe(ctx, env, err)
		return zero, err
	}
	res, err := q.resEnc.Decode(reply.Payload)
	if err != nil {
		err = errors.WrapError(err, errors.ErrCodeDecode, "应答解码失败").WithContext("endpoint", q.name)
		q.registry.opts.observers.Observe(ctx, env, err)
		return zero, err
	}
	q.registry.opts.observers.Observe(ctx, env, nil)
	return res, nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(errors.GetErrorCode(err))
}
