// Package endpoint 请求/提供端点注册表与类型化包装
//
// 请求端在发送前先查询提供端的存活令牌，未声明或已撤销时立即返回 ENDPOINT_NOT_AVAILABLE；
// 提供端开始服务时声明令牌，停止服务时撤销。
// 与 topic 一样，查找时不校验类型参数与声明中的消息类型是否一致。
package endpoint

import (
	"context"
	"sort"
	"sync"
	"time"

	"linkrt/cache"
	"linkrt/channel"
	"linkrt/codec"
	"linkrt/config"
	"linkrt/dispatch"
	"linkrt/errors"
	"linkrt/logging"
	"linkrt/qos"
	"linkrt/transport"
)

type requesterHandle struct {
	key     string
	profile qos.Profile
	qos     transport.QoS
	session transport.Session
}

type providerHandle struct {
	key       string
	policy    qos.ChannelPolicy
	ch        channel.Channel[*transport.Query]
	queryable transport.Subscription
	session   transport.Session
}

// Registry 端点注册表
type Registry struct {
	session transport.Session
	opts    options

	reqNames map[string]string
	prvNames map[string]string

	requesters map[string]*requesterHandle
	providers  map[string]*providerHandle

	// alive 只缓存 Alive 结果，未启用时为 nil
	alive *cache.Cache[string, transport.Liveness]

	closeOnce sync.Once
}

// NewRegistry 校验声明并创建全部句柄；提供端的查询处理者在此时声明，令牌在开始服务时声明
func NewRegistry(session transport.Session, decls []config.EndpointDeclaration, opts ...Option) (*Registry, error) {
	if session == nil {
		return nil, errors.NewError(errors.ErrCodeNotInitialized, "transport session is nil")
	}
	if err := config.ValidateEndpoints(decls); err != nil {
		return nil, err
	}

	o := options{logger: logging.ComponentLogger("endpoint")}
	for _, opt := range opts {
		opt(&o)
	}
	if o.dispatcher == nil {
		o.dispatcher = dispatch.New(0, o.logger)
	}

	r := &Registry{
		session:    session,
		opts:       o,
		reqNames:   make(map[string]string),
		prvNames:   make(map[string]string),
		requesters: make(map[string]*requesterHandle),
		providers:  make(map[string]*providerHandle),
	}
	if o.aliveTTL > 0 {
		r.alive = cache.New[string, transport.Liveness](cache.Config{Name: "liveness", MaxSize: 1024, TTL: o.aliveTTL})
	}

	ctx := context.Background()
	for _, d := range decls {
		switch d.Kind {
		case config.EndpointRequest:
			r.reqNames[d.Name] = d.Key
			if _, ok := r.requesters[d.Key]; ok {
				continue
			}
			profile := d.RequestProfile()
			r.requesters[d.Key] = &requesterHandle{key: d.Key, profile: profile, qos: profile.Transport(), session: session}

		case config.EndpointProvide:
			r.prvNames[d.Name] = d.Key
			if _, ok := r.providers[d.Key]; ok {
				continue
			}
			h, err := r.declareProvider(d.Key, d.ChannelPolicy())
			if err != nil {
				r.Close()
				return nil, errors.WrapTransportError(ctx, err, "declare queryable "+d.Key)
			}
			r.providers[d.Key] = h
		}
		o.logger.Debug(ctx, "endpoint declared",
			logging.String("name", d.Name), logging.String("key", d.Key), logging.String("type", string(d.Kind)))
	}
	return r, nil
}

func (r *Registry) declareProvider(key string, policy qos.ChannelPolicy) (*providerHandle, error) {
	h := &providerHandle{key: key, policy: policy, session: r.session, ch: qos.NewChannel[*transport.Query](policy)}
	q, err := r.session.DeclareQueryable(key, func(query *transport.Query) {
		if !h.ch.Send(query) {
			r.opts.logger.Debug(context.Background(), "query dropped, channel full", logging.String("key", key))
		}
	})
	if err != nil {
		h.ch.Close()
		return nil, err
	}
	h.queryable = q
	return h, nil
}

// Resolve 返回名称对应的路由键，请求端名称优先
func (r *Registry) Resolve(name string) (string, error) {
	if key, ok := r.reqNames[name]; ok {
		return key, nil
	}
	if key, ok := r.prvNames[name]; ok {
		return key, nil
	}
	return "", errors.ErrNotFound.WithContext("endpoint", name)
}

// RequesterNames 已声明的请求端名称（排序）
func (r *Registry) RequesterNames() []string { return sortedKeys(r.reqNames) }

// ProviderNames 已声明的提供端名称（排序）
func (r *Registry) ProviderNames() []string { return sortedKeys(r.prvNames) }

// Close 撤销查询处理者并关闭通道，正在运行的 Provide 返回 CLOSED
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		for _, h := range r.providers {
			if h.queryable != nil {
				_ = h.queryable.Close()
			}
			h.ch.Close()
		}
	})
	return nil
}

func (r *Registry) lookup(name string, role config.EndpointKind) (string, error) {
	own, other := r.reqNames, r.prvNames
	if role == config.EndpointProvide {
		own, other = r.prvNames, r.reqNames
	}
	if key, ok := own[name]; ok {
		return key, nil
	}
	if _, ok := other[name]; ok {
		return "", errors.ErrRoleMismatch.WithContext("endpoint", name).WithContext("requested_role", string(role))
	}
	return "", errors.ErrNotFound.WithContext("endpoint", name)
}

// liveness 查询键上的提供端存活状态
func (r *Registry) liveness(ctx context.Context, key string) (transport.Liveness, error) {
	if r.alive != nil {
		if state, ok := r.alive.Get(key); ok {
			return state, nil
		}
	}
	state, err := r.session.Liveliness(ctx, key)
	if err == nil && state == transport.LivenessAlive && r.alive != nil {
		r.alive.Set(key, state)
	}
	return state, err
}

func (r *Registry) forgetLiveness(key string) {
	if r.alive != nil {
		r.alive.Delete(key)
	}
}

func (r *Registry) observeRequest(name, outcome string, d time.Duration) {
	for _, obs := range r.opts.requests {
		obs.ObserveRequest(name, outcome, d)
	}
}

// GetRequester 按名称取得类型化请求端
func GetRequester[Req, Res any](r *Registry, name string, reqEnc codec.Encoder[Req], resEnc codec.Encoder[Res]) (*Requester[Req, Res], error) {
	if reqEnc == nil || resEnc == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidInput, "encoder is nil")
	}
	key, err := r.lookup(name, config.EndpointRequest)
	if err != nil {
		return nil, err
	}
	return &Requester[Req, Res]{
		name:     name,
		registry: r,
		handle:   r.requesters[key],
		reqEnc:   reqEnc,
		resEnc:   resEnc,
		reqType:  codec.TypeName[Req](),
		resType:  codec.TypeName[Res](),
	}, nil
}

// GetProvider 按名称取得类型化提供端
func GetProvider[Req, Res any](r *Registry, name string, reqEnc codec.Encoder[Req], resEnc codec.Encoder[Res]) (*Provider[Req, Res], error) {
	if reqEnc == nil || resEnc == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidInput, "encoder is nil")
	}
	key, err := r.lookup(name, config.EndpointProvide)
	if err != nil {
		return nil, err
	}
	return &Provider[Req, Res]{
		name:     name,
		registry: r,
		handle:   r.providers[key],
		reqEnc:   reqEnc,
		resEnc:   resEnc,
		reqType:  codec.TypeName[Req](),
		resType:  codec.TypeName[Res](),
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
