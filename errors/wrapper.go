package errors

import (
	"context"
	"fmt"
	"runtime"

	"linkrt/logging"
)

// Wrap 包装错误，添加错误码和上下文信息
// 在组件边界使用；已是 AppError 的错误保留在 cause 链上
func Wrap(ctx context.Context, err error, code ErrorCode, msg string) error {
	if err == nil {
		return nil
	}

	_, file, line, _ := runtime.Caller(1)
	wrapped := WrapError(err, code, msg)
	logging.GetLogger().Debug(ctx, fmt.Sprintf("错误包装: %s (位置: %s:%d)", msg, file, line))

	return wrapped
}

// WrapWithLog 包装错误并记录警告日志
func WrapWithLog(ctx context.Context, err error, code ErrorCode, msg string, fields ...logging.Field) error {
	if err == nil {
		return nil
	}

	_, file, line, _ := runtime.Caller(1)
	wrapped := WrapError(err, code, msg)

	allFields := append([]logging.Field{
		logging.Error(err),
		logging.String("error_code", string(code)),
		logging.String("location", fmt.Sprintf("%s:%d", file, line)),
	}, fields...)
	logging.GetLogger().Warn(ctx, msg, allFields...)

	return wrapped
}

// WrapTransportError 包装传输层错误
// 已识别的传输/上下文错误按 Normalize 归类，其余归为 TRANSPORT_ERROR
func WrapTransportError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	if normalized := Normalize(err); normalized != err {
		return normalized
	}
	if _, ok := err.(IError); ok {
		return err
	}

	return WrapWithLog(ctx, err, ErrCodeTransport,
		fmt.Sprintf("传输操作失败: %s", operation),
		logging.String("operation", operation),
	)
}

// New 创建新错误（带调用位置）
func New(code ErrorCode, msg string) error {
	_, file, line, _ := runtime.Caller(1)
	return NewError(code, fmt.Sprintf("%s (位置: %s:%d)", msg, file, line))
}

// NewConfigError 创建配置错误
func NewConfigError(format string, args ...any) error {
	return NewError(ErrCodeConfig, fmt.Sprintf(format, args...))
}

// NewValidationError 创建校验错误
func NewValidationError(msg string) error {
	return NewError(ErrCodeValidation, msg)
}
