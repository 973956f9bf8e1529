package transport

import (
	"context"
	"time"
)

// SampleKind 数据样本类型
type SampleKind uint8

const (
	SampleKindPut SampleKind = iota
	SampleKindDelete
)

// String 返回样本类型名
func (k SampleKind) String() string {
	switch k {
	case SampleKindPut:
		return "PUT"
	case SampleKindDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Sample 订阅端收到的一条原始数据
type Sample struct {
	Key       string
	Payload   []byte
	Kind      SampleKind
	QoS       QoS
	Timestamp time.Time
}

// Reply 查询应答；Err 非空表示应答方返回了错误
type Reply struct {
	Key     string
	Payload []byte
	Err     string
}

// IsError 是否为错误应答
func (r Reply) IsError() bool {
	return r.Err != ""
}

// Responder 由具体传输实现，负责把应答送回请求方
type Responder interface {
	Reply(ctx context.Context, key string, payload []byte, qos QoS) error
	ReplyErr(ctx context.Context, key string, message string) error
}

// Query 提供端收到的一次查询
type Query struct {
	Key      string
	Payload  []byte
	QoS      QoS
	Received time.Time

	responder Responder
}

// NewQuery 构造查询，供传输实现使用
func NewQuery(key string, payload []byte, qos QoS, responder Responder) *Query {
	return &Query{
		Key:       key,
		Payload:   payload,
		QoS:       qos,
		Received:  time.Now(),
		responder: responder,
	}
}

// Reply 发送应答
func (q *Query) Reply(ctx context.Context, payload []byte, qos QoS) error {
	if q.responder == nil {
		return ErrNoReplyTarget
	}
	return q.responder.Reply(ctx, q.Key, payload, qos)
}

// ReplyErr 发送错误应答
func (q *Query) ReplyErr(ctx context.Context, message string) error {
	if q.responder == nil {
		return ErrNoReplyTarget
	}
	if message == "" {
		message = "provider error"
	}
	return q.responder.ReplyErr(ctx, q.Key, message)
}

// Liveness 存活状态
type Liveness uint8

const (
	// LivenessUnknown 从未有令牌声明过（或已过期）
	LivenessUnknown Liveness = iota
	// LivenessAlive 存在有效令牌
	LivenessAlive
	// LivenessGone 令牌已撤销
	LivenessGone
)

// String 返回存活状态名
func (l Liveness) String() string {
	switch l {
	case LivenessAlive:
		return "alive"
	case LivenessGone:
		return "gone"
	default:
		return "unknown"
	}
}
