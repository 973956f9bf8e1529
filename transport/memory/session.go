// Package memory 提供基于内存队列的传输会话实现
// 适用于单进程部署、开发环境和测试场景
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"linkrt/logging"
	"linkrt/transport"
)

const defaultQueueSize = 1024

// Config 内存会话配置
type Config struct {
	// QueueSize 发布队列大小（<=0 时使用默认 1024）
	QueueSize int
	Logger    logging.Logger
}

// Session 内存传输会话
//
// 特性:
//   - 发布进入有界队列，由单个分发协程按序投递，保证同一发布者的顺序
//   - 拥塞控制：Block 等待队列空位，Drop 队列满时直接丢弃
//   - 查询同步分发给匹配的 queryable，应答经收集器回到请求方
//   - 存活令牌以计数维护，撤销后状态为 Gone
type Session struct {
	id        string
	queue     chan transport.Sample
	queueSize int
	logger    logging.Logger
	startedAt time.Time

	// lifeMu 保护 closed 与对 queue 的发送
	lifeMu sync.RWMutex
	closed bool

	// mu 保护订阅、查询处理者与令牌表
	mu         sync.RWMutex
	subs       map[uint64]*subscription
	queryables map[uint64]*subscription
	tokens     map[string]int
	declared   map[string]struct{}
	nextID     uint64

	dropped atomic.Uint64
	done    chan struct{}
}

// NewSession 创建并启动内存会话
func NewSession(cfg Config) *Session {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("transport.memory")
	}

	s := &Session{
		id:         uuid.NewString(),
		queue:      make(chan transport.Sample, cfg.QueueSize),
		queueSize:  cfg.QueueSize,
		logger:     cfg.Logger,
		startedAt:  time.Now(),
		subs:       make(map[uint64]*subscription),
		queryables: make(map[uint64]*subscription),
		tokens:     make(map[string]int),
		declared:   make(map[string]struct{}),
		done:       make(chan struct{}),
	}
	go s.worker()
	return s
}

// ID 会话标识
func (s *Session) ID() string { return s.id }

// Put 发布数据到队列
func (s *Session) Put(ctx context.Context, key string, payload []byte, qos transport.QoS) error {
	if err := transport.ValidateKey(key); err != nil {
		return err
	}
	if transport.HasWildcard(key) {
		return transport.ErrInvalidKey
	}

	sample := transport.Sample{
		Key:       key,
		Payload:   payload,
		Kind:      transport.SampleKindPut,
		QoS:       qos.Normalize(),
		Timestamp: time.Now(),
	}

	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()
	if s.closed {
		return transport.ErrClosed
	}

	if !qos.Block {
		select {
		case s.queue <- sample:
		default:
			s.dropped.Add(1)
			s.logger.Debug(ctx, "queue full, sample dropped", logging.String("key", key))
		}
		return nil
	}

	select {
	case s.queue <- sample:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats 统计信息
func (s *Session) Stats() transport.Stats {
	s.lifeMu.RLock()
	running := !s.closed
	s.lifeMu.RUnlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	tokens := 0
	for _, n := range s.tokens {
		tokens += n
	}
	return transport.Stats{
		Backend:       "memory",
		Running:       running,
		Subscriptions: len(s.subs),
		Queryables:    len(s.queryables),
		Tokens:        tokens,
		QueueSize:     s.queueSize,
		QueueDepth:    len(s.queue),
		Dropped:       s.dropped.Load(),
		StartedAt:     s.startedAt,
	}
}

// Close 关闭会话：停止接收发布，投递完队列中剩余数据后退出，并清空订阅与令牌
func (s *Session) Close() error {
	s.lifeMu.Lock()
	if s.closed {
		s.lifeMu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.lifeMu.Unlock()

	<-s.done

	s.mu.Lock()
	s.subs = make(map[uint64]*subscription)
	s.queryables = make(map[uint64]*subscription)
	for key := range s.tokens {
		delete(s.tokens, key)
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) isClosed() bool {
	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()
	return s.closed
}

var _ transport.Session = (*Session)(nil)
