// Package metrics 基于 prometheus 的消息指标
package metrics

import (
	"context"
	stdErrors "errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"linkrt/envelope"
	"linkrt/errors"
)

// Collector 记录各端点的消息数、字节数、失败数与请求耗时，实现 envelope.Observer
type Collector struct {
	messages *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	failures *prometheus.CounterVec
	requests *prometheus.HistogramVec
}

// NewCollector 创建并注册指标；reg 为空时注册到 prometheus.DefaultRegisterer
func NewCollector(namespace string, reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "endpoint",
			Name:      "messages_total",
			Help:      "Messages passing through typed endpoints.",
		}, []string{"role", "direction", "name"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "endpoint",
			Name:      "bytes_total",
			Help:      "Encoded payload bytes passing through typed endpoints.",
		}, []string{"role", "direction", "name"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "endpoint",
			Name:      "failures_total",
			Help:      "Messages that failed to encode, decode, send or be handled.",
		}, []string{"role", "name", "code"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "endpoint",
			Name:      "request_duration_seconds",
			Help:      "Request round trip latency by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"name", "outcome"}),
	}

	for _, col := range []prometheus.Collector{c.messages, c.bytes, c.failures, c.requests} {
		if err := reg.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if stdErrors.As(err, &are) {
				return nil, errors.WrapError(err, errors.ErrCodeConfig, "指标重复注册")
			}
			return nil, err
		}
	}
	return c, nil
}

// Observe 实现 envelope.Observer
func (c *Collector) Observe(_ context.Context, env envelope.Envelope, err error) {
	if err != nil {
		c.failures.WithLabelValues(string(env.Role), env.Name, string(errors.GetErrorCode(err))).Inc()
		return
	}
	c.messages.WithLabelValues(string(env.Role), env.Direction.String(), env.Name).Inc()
	c.bytes.WithLabelValues(string(env.Role), env.Direction.String(), env.Name).Add(float64(env.Size))
}

// ObserveRequest 记录一次请求的耗时，outcome 为 "ok" 或错误码
func (c *Collector) ObserveRequest(name, outcome string, d time.Duration) {
	c.requests.WithLabelValues(name, outcome).Observe(d.Seconds())
}

var _ envelope.Observer = (*Collector)(nil)
