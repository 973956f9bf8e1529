// Package dispatch 异步回调调度
//
// 每次回调作为独立的工作单元运行；maxConcurrency > 0 时用信号量限制同时运行的数量，
// 回调返回的错误与 panic 都只记录日志，不影响后续回调。
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"linkrt/logging"
)

// Task 一个工作单元
type Task func(ctx context.Context) error

// Dispatcher 异步回调调度器
type Dispatcher struct {
	sem    *semaphore.Weighted
	logger logging.Logger

	wg       sync.WaitGroup
	inFlight atomic.Int64
	failed   atomic.Uint64
}

// New 创建调度器；maxConcurrency <= 0 表示不限制
func New(maxConcurrency int64, logger logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.ComponentLogger("dispatch")
	}
	d := &Dispatcher{logger: logger}
	if maxConcurrency > 0 {
		d.sem = semaphore.NewWeighted(maxConcurrency)
	}
	return d
}

// Go 提交任务；有并发上限时等待空位，ctx 结束则返回 ctx 的错误且任务不会运行
func (d *Dispatcher) Go(ctx context.Context, name string, task Task) error {
	if d.sem != nil {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return err
		}
	}

	d.wg.Add(1)
	d.inFlight.Add(1)
	go func() {
		defer func() {
			d.inFlight.Add(-1)
			if d.sem != nil {
				d.sem.Release(1)
			}
			d.wg.Done()
		}()
		if err := d.run(ctx, task); err != nil {
			d.failed.Add(1)
			d.logger.Warn(ctx, "async callback failed", logging.String("task", name), logging.Error(err))
		}
	}()
	return nil
}

func (d *Dispatcher) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task(ctx)
}

// Wait 等待所有已提交的任务结束
func (d *Dispatcher) Wait() { d.wg.Wait() }

// InFlight 正在运行的任务数
func (d *Dispatcher) InFlight() int64 { return d.inFlight.Load() }

// Failed 返回错误或 panic 的任务数
func (d *Dispatcher) Failed() uint64 { return d.failed.Load() }
