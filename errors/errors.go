// Package errors 提供统一的错误码体系
package errors

import (
	stdErrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorCode 错误代码类型
type ErrorCode string

// 预定义错误代码
const (
	// 通用错误代码
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"

	// 配置与生命周期
	ErrCodeConfig             ErrorCode = "CONFIG_ERROR"
	ErrCodeAlreadyInitialized ErrorCode = "ALREADY_INITIALIZED"
	ErrCodeNotInitialized     ErrorCode = "NOT_INITIALIZED"

	// 名称解析
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeRoleMismatch ErrorCode = "ROLE_MISMATCH"

	// 传输层
	ErrCodeTransport ErrorCode = "TRANSPORT_ERROR"
	ErrCodeClosed    ErrorCode = "CLOSED"

	// 单条消息
	ErrCodeEncode ErrorCode = "ENCODE_ERROR"
	ErrCodeDecode ErrorCode = "DECODE_ERROR"

	// 可用性
	ErrCodeNotAvailable ErrorCode = "ENDPOINT_NOT_AVAILABLE"
	ErrCodeTimeout      ErrorCode = "TIMEOUT"
	ErrCodeRemote       ErrorCode = "REMOTE_ERROR"
)

// IError 错误接口
type IError interface {
	error

	// 获取错误代码
	Code() ErrorCode

	// 获取错误消息
	Message() string

	// 获取原始错误
	Cause() error

	// 获取错误详情
	Details() map[string]any

	// 获取堆栈信息
	Stack() string

	// 是否为指定类型的错误
	Is(target error) bool

	// 包装错误
	Wrap(msg string) IError

	// 添加上下文
	WithContext(key string, value any) IError
}

// AppError 应用错误实现
type AppError struct {
	code    ErrorCode
	message string
	cause   error
	details map[string]any
	stack   string
}

// NewError 创建新错误
func NewError(code ErrorCode, message string) IError {
	return &AppError{
		code:    code,
		message: message,
		details: make(map[string]any),
		stack:   captureStack(),
	}
}

// WrapError 包装错误
func WrapError(err error, code ErrorCode, message string) IError {
	if err == nil {
		return nil
	}

	return &AppError{
		code:    code,
		message: message,
		cause:   err,
		details: make(map[string]any),
		stack:   captureStack(),
	}
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Code 获取错误代码
func (e *AppError) Code() ErrorCode {
	return e.code
}

// Message 获取错误消息
func (e *AppError) Message() string {
	return e.message
}

// Cause 获取原始错误
func (e *AppError) Cause() error {
	return e.cause
}

// Details 获取错误详情
func (e *AppError) Details() map[string]any {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	return e.details
}

// Stack 获取堆栈信息
func (e *AppError) Stack() string {
	return e.stack
}

// Is 按错误码比较；否则继续比较 cause
func (e *AppError) Is(target error) bool {
	if target == nil {
		return false
	}

	if appErr, ok := target.(*AppError); ok {
		return e.code == appErr.code
	}

	if e.cause != nil {
		return stdErrors.Is(e.cause, target)
	}

	return false
}

// Unwrap 解包错误（支持 errors.Unwrap）
func (e *AppError) Unwrap() error {
	return e.cause
}

// Wrap 包装错误
func (e *AppError) Wrap(msg string) IError {
	return &AppError{
		code:    e.code,
		message: fmt.Sprintf("%s: %s", msg, e.message),
		cause:   e,
		details: copyMap(e.details),
		stack:   captureStack(),
	}
}

// WithContext 添加上下文
func (e *AppError) WithContext(key string, value any) IError {
	newDetails := copyMap(e.details)
	newDetails[key] = value

	return &AppError{
		code:    e.code,
		message: e.message,
		cause:   e.cause,
		details: newDetails,
		stack:   e.stack,
	}
}

// 预定义错误变量，用于 errors.Is 按错误码匹配
var (
	ErrConfig             = NewError(ErrCodeConfig, "配置错误")
	ErrAlreadyInitialized = NewError(ErrCodeAlreadyInitialized, "已初始化")
	ErrNotInitialized     = NewError(ErrCodeNotInitialized, "未初始化")
	ErrNotFound           = NewError(ErrCodeNotFound, "端点未找到")
	ErrRoleMismatch       = NewError(ErrCodeRoleMismatch, "端点角色不匹配")
	ErrTransport          = NewError(ErrCodeTransport, "传输层错误")
	ErrClosed             = NewError(ErrCodeClosed, "已关闭")
	ErrEncode             = NewError(ErrCodeEncode, "编码失败")
	ErrDecode             = NewError(ErrCodeDecode, "解码失败")
	ErrNotAvailable       = NewError(ErrCodeNotAvailable, "端点不可用")
	ErrTimeout            = NewError(ErrCodeTimeout, "操作超时")
	ErrRemote             = NewError(ErrCodeRemote, "远端处理失败")
)

// IsNotFound 检查是否为未找到错误
func IsNotFound(err error) bool {
	return IsErrorCode(err, ErrCodeNotFound)
}

// IsNotAvailable 检查是否为端点不可用错误
func IsNotAvailable(err error) bool {
	return IsErrorCode(err, ErrCodeNotAvailable)
}

// IsTimeout 检查是否为超时错误
func IsTimeout(err error) bool {
	return IsErrorCode(err, ErrCodeTimeout)
}

// IsAlreadyInitialized 检查是否为重复初始化错误
func IsAlreadyInitialized(err error) bool {
	return IsErrorCode(err, ErrCodeAlreadyInitialized)
}

// IsErrorCode 检查是否为指定错误代码（取错误链上第一个 AppError）
func IsErrorCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.code == code
	}

	return false
}

// GetErrorCode 获取错误代码
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.code
	}

	return ErrCodeInternal
}

// captureStack 捕获堆栈信息
func captureStack() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])

	var builder strings.Builder
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		builder.WriteString(fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function))

		if !more {
			break
		}
	}

	return builder.String()
}

// copyMap 复制映射
func copyMap(original map[string]any) map[string]any {
	if original == nil {
		return make(map[string]any)
	}

	copied := make(map[string]any, len(original))
	for k, v := range original {
		copied[k] = v
	}

	return copied
}
