// Package envelope 消息信封与观察者
//
// 信封携带原始字节、路由键与解码类型名，观察者（指标、日志表）无需再次解码即可记录消息。
package envelope

import (
	"context"
	"time"

	"github.com/google/uuid"

	"linkrt/logging"
)

// Direction 消息方向
type Direction uint8

const (
	Inbound Direction = iota + 1
	Outbound
)

// String 方向名
func (d Direction) String() string {
	switch d {
	case Inbound:
		return "in"
	case Outbound:
		return "out"
	default:
		return "unknown"
	}
}

// Role 端点角色，与声明中的类型标记一致
type Role string

const (
	RolePublisher  Role = "PUB"
	RoleSubscriber Role = "SUB"
	RoleRequester  Role = "REQ"
	RoleProvider   Role = "PRV"
)

// Envelope 一条消息的元信息
type Envelope struct {
	ID        string
	Name      string
	Key       string
	TypeName  string
	Payload   []byte
	Size      int
	Direction Direction
	Role      Role
	Timestamp time.Time
}

// New 构造信封，ID 与时间戳自动生成
func New(role Role, dir Direction, name, key, typeName string, payload []byte) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Name:      name,
		Key:       key,
		TypeName:  typeName,
		Payload:   payload,
		Size:      len(payload),
		Direction: dir,
		Role:      role,
		Timestamp: time.Now(),
	}
}

// Observer 观察消息流；err 非空表示该消息编码、解码、发送或处理失败
type Observer interface {
	Observe(ctx context.Context, env Envelope, err error)
}

// ObserverFunc 函数适配
type ObserverFunc func(ctx context.Context, env Envelope, err error)

// Observe 实现 Observer
func (f ObserverFunc) Observe(ctx context.Context, env Envelope, err error) { f(ctx, env, err) }

// Observers 依次通知多个观察者；单个观察者 panic 不影响其他观察者
type Observers []Observer

// Observe 实现 Observer
func (o Observers) Observe(ctx context.Context, env Envelope, err error) {
	for _, obs := range o {
		if obs == nil {
			continue
		}
		notify(ctx, obs, env, err)
	}
}

func notify(ctx context.Context, obs Observer, env Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.ComponentLogger("envelope").Error(ctx, "observer panicked",
				logging.String("key", env.Key), logging.Any("panic", r))
		}
	}()
	obs.Observe(ctx, env, err)
}
