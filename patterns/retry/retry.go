// Package retry 带指数退避的重试
package retry

import (
	"context"
	"math"
	"time"
)

// Operation 可重试的操作
type Operation func(ctx context.Context) error

// OperationWithInfo 可重试的操作，attempt 从 1 开始
type OperationWithInfo func(ctx context.Context, attempt int) error

// Config 重试配置
type Config struct {
	MaxAttempts   int           // 最大尝试次数（包括首次）
	InitialDelay  time.Duration // 初始退避延迟
	BackoffFactor float64       // 退避倍数
	MaxDelay      time.Duration // 最大延迟

	// Retryable 返回 false 时立即放弃；为空表示所有错误都重试
	Retryable func(err error) bool
}

// DefaultConfig 默认配置：共 2 次尝试，2ms 起步，指数 2，上限 1s
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   2,
		InitialDelay:  2 * time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      1 * time.Second,
	}
}

// Connect 建立传输连接使用的配置
func Connect(attempts int) Config {
	if attempts <= 0 {
		attempts = 1
	}
	return Config{
		MaxAttempts:   attempts,
		InitialDelay:  100 * time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      2 * time.Second,
	}
}

// Do 执行带重试的操作，返回最后一次的错误
//
//	err := retry.Do(ctx, func(ctx context.Context) error {
//	    return client.Ping(ctx).Err()
//	}, retry.Connect(5))
func Do(ctx context.Context, op Operation, cfg Config) error {
	return DoWithInfo(ctx, func(ctx context.Context, _ int) error { return op(ctx) }, cfg)
}

// DoWithInfo 与 Do 相同，但把当前尝试次数传给操作
func DoWithInfo(ctx context.Context, op OperationWithInfo, cfg Config) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}

		if attempt < cfg.MaxAttempts {
			timer := time.NewTimer(cfg.delay(attempt))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return lastErr
			}
		}
	}
	return lastErr
}

func (c Config) delay(attempt int) time.Duration {
	factor := c.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	d := time.Duration(float64(c.InitialDelay) * math.Pow(factor, float64(attempt-1)))
	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}
