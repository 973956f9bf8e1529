package app

import (
	"github.com/prometheus/client_golang/prometheus"

	"linkrt/envelope"
	"linkrt/logging"
)

// Option 配置 Runtime
type Option func(*options)

type options struct {
	logger     logging.Logger
	registerer prometheus.Registerer
	observers  []envelope.Observer

	afterInit   []Hook
	beforeClose []Hook
}

// WithLogger 使用给定日志；未设置时按 Settings.Log 构建 zap 日志并设为全局日志
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithRegisterer 指标注册目标，缺省 prometheus.DefaultRegisterer
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithObserver 追加信封观察者，同时挂到主题与端点注册表
func WithObserver(obs ...envelope.Observer) Option {
	return func(o *options) {
		o.observers = append(o.observers, obs...)
	}
}

// WithAfterInit 初始化成功后执行；返回错误时初始化失败
func WithAfterInit(fn Hook) Option {
	return func(o *options) {
		o.afterInit = append(o.afterInit, fn)
	}
}

// WithBeforeClose 释放资源前执行，错误只记录
func WithBeforeClose(fn Hook) Option {
	return func(o *options) {
		o.beforeClose = append(o.beforeClose, fn)
	}
}
