// Package channel 有界投递通道
//
// 传输层接收协程调用 Send，消费者调用 Recv；Send 永不阻塞：
//   - FIFO 满时丢弃新消息
//   - Ring 满时覆盖最旧消息
package channel

import (
	"context"
	"errors"
)

// ErrClosed 通道已关闭且无剩余消息
var ErrClosed = errors.New("channel: closed")

// Channel 有界投递通道
type Channel[T any] interface {
	// Send 投递消息，返回消息是否被接收
	Send(v T) bool
	// Recv 阻塞等待消息，直到 ctx 结束或通道关闭
	Recv(ctx context.Context) (T, error)
	// TryRecv 非阻塞读取
	TryRecv() (T, bool)
	Len() int
	Cap() int
	// Dropped 因容量被丢弃（FIFO）或覆盖（Ring）的消息数
	Dropped() uint64
	Close()
}
