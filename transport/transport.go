// Package transport 定义端点层依赖的传输会话抽象
//
// 端点层只通过 Session 访问底层发布/订阅系统，具体实现见：
//   - transport/memory: 进程内实现（开发、测试）
//   - transport/natsio: 基于 NATS
//   - transport/redisps: 基于 Redis Pub/Sub
package transport

import (
	"context"
	"time"
)

// SampleHandler 订阅回调，由传输层的接收协程调用，实现方不应长时间阻塞
type SampleHandler func(sample Sample)

// QueryHandler 查询回调，由传输层的接收协程调用
type QueryHandler func(query *Query)

// Session 传输会话
//
// 一个进程内的所有端点共享同一个 Session，实现必须并发安全。
type Session interface {
	// ID 返回会话唯一标识
	ID() string

	// Put 向路由键发布一条数据
	Put(ctx context.Context, key string, payload []byte, qos QoS) error

	// Subscribe 订阅路由键（支持 * 与 ** 通配）
	Subscribe(key string, handler SampleHandler) (Subscription, error)

	// Get 发起查询，返回的通道在所有应答者回复完成或 ctx 结束时关闭
	Get(ctx context.Context, key string, payload []byte, qos QoS) (<-chan Reply, error)

	// DeclareQueryable 在路由键上声明查询处理者
	DeclareQueryable(key string, handler QueryHandler) (Subscription, error)

	// DeclareToken 声明存活令牌，直到 Token.Undeclare 或会话关闭
	DeclareToken(ctx context.Context, key string) (Token, error)

	// Liveliness 查询路由键上最近一次的存活状态
	Liveliness(ctx context.Context, key string) (Liveness, error)

	// Close 关闭会话并释放所有订阅、令牌
	Close() error

	// Stats 返回统计信息
	Stats() Stats
}

// Subscription 订阅或查询处理者的句柄
type Subscription interface {
	Key() string
	Close() error
}

// Token 存活令牌
type Token interface {
	Key() string
	Undeclare(ctx context.Context) error
}

// Stats 传输层统计信息
type Stats struct {
	Backend       string    `json:"backend"`
	Running       bool      `json:"running"`
	Subscriptions int       `json:"subscriptions"`
	Queryables    int       `json:"queryables"`
	Tokens        int       `json:"tokens"`
	QueueSize     int       `json:"queue_size,omitempty"`
	QueueDepth    int       `json:"queue_depth,omitempty"`
	Dropped       uint64    `json:"dropped,omitempty"`
	StartedAt     time.Time `json:"started_at"`
}
