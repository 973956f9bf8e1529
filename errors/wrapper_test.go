package errors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkrt/logging"
	"linkrt/transport"
)

func TestMain(m *testing.M) {
	logging.SetLogger(logging.NewNoopLogger())
	m.Run()
}

func TestWrap(t *testing.T) {
	ctx := context.Background()
	original := errors.New("原始错误")

	wrapped := Wrap(ctx, original, ErrCodeTransport, "发布失败")
	require.Error(t, wrapped)
	assert.ErrorIs(t, wrapped, original)
	assert.True(t, IsErrorCode(wrapped, ErrCodeTransport))
	assert.Contains(t, wrapped.Error(), "发布失败")

	assert.NoError(t, Wrap(ctx, nil, ErrCodeInternal, "消息"))
	assert.NoError(t, WrapWithLog(ctx, nil, ErrCodeInternal, "消息"))
}

func TestWrapWithLog(t *testing.T) {
	wrapped := WrapWithLog(context.Background(), errors.New("x"), ErrCodeDecode, "解码失败",
		logging.String("key", "robot/status"))
	assert.ErrorIs(t, wrapped, ErrDecode)
	assert.Equal(t, ErrCodeDecode, GetErrorCode(wrapped))
}

func TestWrapTransportError(t *testing.T) {
	ctx := context.Background()

	err := WrapTransportError(ctx, transport.ErrClosed, "put")
	assert.Equal(t, ErrCodeClosed, GetErrorCode(err))

	err = WrapTransportError(ctx, errors.New("connection reset"), "put")
	assert.Equal(t, ErrCodeTransport, GetErrorCode(err))

	notFound := NewError(ErrCodeNotFound, "x")
	assert.Same(t, notFound, WrapTransportError(ctx, notFound, "get"))

	assert.NoError(t, WrapTransportError(ctx, nil, "put"))
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code ErrorCode
	}{
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"canceled", context.Canceled, ErrCodeTimeout},
		{"wrapped deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), ErrCodeTimeout},
		{"closed", transport.ErrClosed, ErrCodeClosed},
		{"invalid key", transport.ErrInvalidKey, ErrCodeConfig},
		{"queue full", transport.ErrQueueFull, ErrCodeTransport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Normalize(tc.err)
			assert.Equal(t, tc.code, GetErrorCode(got))
			assert.ErrorIs(t, got, tc.err)
		})
	}

	plain := errors.New("plain")
	assert.Same(t, plain, Normalize(plain))
	assert.NoError(t, Normalize(nil))
}

func TestAppError_IsAndContext(t *testing.T) {
	err := WrapError(errors.New("no provider"), ErrCodeNotAvailable, "端点不可用").
		WithContext("key", "svc/echo")

	assert.ErrorIs(t, err, ErrNotAvailable)
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.True(t, IsNotAvailable(err))
	assert.Equal(t, "svc/echo", err.Details()["key"])
	assert.NotEmpty(t, err.Stack())

	outer := err.Wrap("request")
	assert.Equal(t, ErrCodeNotAvailable, outer.Code())
	assert.Contains(t, outer.Message(), "request")
	assert.Equal(t, ErrCodeInternal, GetErrorCode(errors.New("x")))
	assert.Equal(t, ErrorCode(""), GetErrorCode(nil))
}

func TestNew(t *testing.T) {
	err := New(ErrCodeValidation, "验证失败")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "验证失败")
	assert.Contains(t, err.Error(), "wrapper_test.go")

	cfg := NewConfigError("duplicate topic name %q", "status")
	assert.True(t, IsErrorCode(cfg, ErrCodeConfig))
	assert.Contains(t, cfg.Error(), `"status"`)
}

func TestConcurrentWrap(t *testing.T) {
	ctx := context.Background()
	original := errors.New("并发测试错误")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.Error(t, Wrap(ctx, original, ErrCodeInternal, "并发包装"))
			}
		}()
	}
	wg.Wait()
}

func BenchmarkWrap(b *testing.B) {
	ctx := context.Background()
	err := errors.New("测试错误")
	for i := 0; i < b.N; i++ {
		_ = Wrap(ctx, err, ErrCodeInternal, "基准测试")
	}
}
