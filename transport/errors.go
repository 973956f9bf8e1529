package transport

import "errors"

var (
	// ErrClosed 会话或订阅已关闭
	ErrClosed = errors.New("transport: session closed")
	// ErrInvalidKey 路由键不合法
	ErrInvalidKey = errors.New("transport: invalid key expression")
	// ErrQueueFull 发送队列已满（阻塞型拥塞控制下 ctx 结束前仍未入队）
	ErrQueueFull = errors.New("transport: queue full")
	// ErrNoReplyTarget 查询没有可应答的目标
	ErrNoReplyTarget = errors.New("transport: query has no reply target")
)
