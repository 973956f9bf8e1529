package errors

import (
	"context"
	stdErrors "errors"

	"linkrt/transport"
)

// Normalize 将传输层哨兵错误与 context 错误规范化为 AppError。
//
// 已经是 IError 的错误原样返回；未识别的错误保持原样，由调用方决定是否 Wrap。
func Normalize(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := err.(IError); ok {
		return err
	}

	switch {
	case stdErrors.Is(err, context.DeadlineExceeded):
		return WrapError(err, ErrCodeTimeout, "等待超时")
	case stdErrors.Is(err, context.Canceled):
		return WrapError(err, ErrCodeTimeout, "操作已取消")
	case stdErrors.Is(err, transport.ErrClosed):
		return WrapError(err, ErrCodeClosed, "传输会话已关闭")
	case stdErrors.Is(err, transport.ErrInvalidKey):
		return WrapError(err, ErrCodeConfig, "路由键不合法")
	case stdErrors.Is(err, transport.ErrQueueFull):
		return WrapError(err, ErrCodeTransport, "发送队列已满")
	}

	return err
}
