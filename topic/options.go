package topic

import (
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
}

// WithLogger 诊断日志，缺省为 component=topic 的全局日志
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
