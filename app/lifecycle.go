// Package app 运行时上下文：一次性初始化会话管理器与两个注册表，进程内显式传递
package app

import "context"

// State 运行时生命周期状态
type State int

const (
	// StatePending 等待初始化
	StatePending State = iota
	// StateInitializing 正在加载配置、打开会话、构建注册表
	StateInitializing
	// StateRunning 注册表可用
	StateRunning
	// StateStopping 正在释放资源
	StateStopping
	// StateStopped 已关闭
	StateStopped
	// StateError 初始化失败，不可恢复
	StateError
)

// String 返回状态的字符串表示
func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateInitializing:
		return "Initializing"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Hook 生命周期回调
type Hook func(ctx context.Context, rt *Runtime) error
