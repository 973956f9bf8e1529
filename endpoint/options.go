package endpoint

import (
	"time"

	"linkrt/dispatch"
	"linkrt/envelope"
	"linkrt/logging"
)

// Option 配置 Registry
type Option func(*options)

type options struct {
	logger     logging.Logger
	observers  envelope.Observers
	dispatcher *dispatch.Dispatcher
	requests   []RequestObserver
	aliveTTL   time.Duration
}

// WithLogger 诊断日志，缺省为 component=endpoint 的全局日志
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver 追加信封观察者（指标、日志表）
func WithObserver(obs ...envelope.Observer) Option {
	return func(o *options) {
		for _, ob := range obs {
			if ob != nil {
				o.observers = append(o.observers, ob)
			}
		}
	}
}

// WithDispatcher 异步回调使用的调度器，缺省不限并发
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(o *options) {
		if d != nil {
			o.dispatcher = d
		}
	}
}

// RequestObserver 记录请求耗时，metrics.Collector 实现了它
type RequestObserver interface {
	ObserveRequest(name, outcome string, d time.Duration)
}

// WithRequestObserver 追加请求耗时观察者
func WithRequestObserver(obs RequestObserver) Option {
	return func(o *options) {
		if obs != nil {
			o.requests = append(o.requests, obs)
		}
	}
}

// WithLivenessCache 缓存提供端 Alive 状态 ttl 时长，0 表示每次请求都查询
//
// 缓存期内提供端停止时，请求得到 TIMEOUT 而不是 ENDPOINT_NOT_AVAILABLE。
func WithLivenessCache(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.aliveTTL = ttl
		}
	}
}
