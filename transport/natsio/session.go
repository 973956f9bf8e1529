// Package natsio 基于 NATS 的传输会话
//
// 路由键以 "/" 分段映射为 subject（"/" => "."，"*" => "*"，"**" => ">"）；
// 查询使用 request/reply（独立 inbox 收集多个应答），存活令牌存放在 JetStream KeyValue 桶中，
// 令牌由心跳续期，桶 TTL 到期后视为未知。
//
// NATS 的 ">" 至少匹配一段，因此 "a/**" 不会匹配 "a" 本身。
package natsio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"linkrt/logging"
	"linkrt/transport"
)

// Config configures the NATS session.
type Config struct {
	URL  string
	Name string
	// Conn 复用已有连接；为空时按 URL 建立并在 Close 时关闭
	Conn    *nats.Conn
	Options []nats.Option

	LivelinessBucket string
	LivelinessTTL    time.Duration
	FlushTimeout     time.Duration
	ConnectTimeout   time.Duration
	Logger           logging.Logger
}

// Session implements transport.Session on top of core NATS and JetStream KV.
type Session struct {
	cfg      Config
	id       string
	logger   logging.Logger
	conn     *nats.Conn
	ownsConn bool

	mu         sync.RWMutex
	closed     bool
	subs       map[*subscription]struct{}
	queryables map[*subscription]struct{}
	tokens     map[*token]struct{}
	kv         nats.KeyValue

	dropped   atomic.Uint64
	startedAt time.Time
}

// NewSession connects (unless cfg.Conn is given) and returns a ready session.
func NewSession(cfg Config) (*Session, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Name == "" {
		cfg.Name = "linkrt"
	}
	if cfg.LivelinessBucket == "" {
		cfg.LivelinessBucket = "LINKRT_LIVELINESS"
	}
	if cfg.LivelinessTTL <= 0 {
		cfg.LivelinessTTL = 10 * time.Second
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 2 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("transport.nats")
	}

	s := &Session{
		cfg:        cfg,
		id:         uuid.NewString(),
		logger:     cfg.Logger,
		subs:       make(map[*subscription]struct{}),
		queryables: make(map[*subscription]struct{}),
		tokens:     make(map[*token]struct{}),
		startedAt:  time.Now(),
	}

	if cfg.Conn != nil {
		s.conn = cfg.Conn
		return s, nil
	}

	opts := append([]nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(250 * time.Millisecond),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.logger.Warn(context.Background(), "nats disconnected", logging.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			s.logger.Info(context.Background(), "nats reconnected", logging.String("url", c.ConnectedUrl()))
		}),
	}, cfg.Options...)

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	s.ownsConn = true
	return s, nil
}

// ID 会话标识
func (s *Session) ID() string { return s.id }

// Conn 底层连接
func (s *Session) Conn() *nats.Conn { return s.conn }

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Put publishes a sample. With Drop congestion control a disconnected or
// saturated connection silently discards the sample.
func (s *Session) Put(ctx context.Context, key string, payload []byte, qos transport.QoS) error {
	if err := transport.ValidateKey(key); err != nil {
		return err
	}
	if transport.HasWildcard(key) {
		return transport.ErrInvalidKey
	}
	if s.isClosed() {
		return transport.ErrClosed
	}

	if !qos.Block && !s.conn.IsConnected() {
		s.dropped.Add(1)
		return nil
	}

	msg := &nats.Msg{
		Subject: subjectOf(key),
		Data:    payload,
		Header:  qosHeader(nil, qos),
	}
	if err := s.conn.PublishMsg(msg); err != nil {
		if !qos.Block && errors.Is(err, nats.ErrReconnectBufExceeded) {
			s.dropped.Add(1)
			return nil
		}
		return err
	}
	if qos.Express {
		return s.flush(ctx)
	}
	return nil
}

func (s *Session) flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); ok {
		return s.conn.FlushWithContext(ctx)
	}
	return s.conn.FlushTimeout(s.cfg.FlushTimeout)
}

// Subscribe subscribes to a key expression.
func (s *Session) Subscribe(key string, handler transport.SampleHandler) (transport.Subscription, error) {
	if err := transport.ValidateKey(key); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, transport.ErrClosed
	}

	subject, filter := subscriptionSubject(key)
	ns, err := s.conn.Subscribe(subject, func(m *nats.Msg) {
		k := keyOf(m.Subject)
		if filter && !transport.Match(key, k) {
			return
		}
		handler(transport.Sample{
			Key:       k,
			Payload:   m.Data,
			Kind:      transport.SampleKindPut,
			QoS:       qosFromHeader(m.Header),
			Timestamp: time.Now(),
		})
	})
	if err != nil {
		return nil, err
	}
	// 确保服务端已登记订阅，之后的发布不会丢失
	if err := s.conn.FlushTimeout(s.cfg.FlushTimeout); err != nil {
		_ = ns.Unsubscribe()
		return nil, err
	}

	sub := &subscription{key: key, sub: ns, session: s}
	s.subs[sub] = struct{}{}
	return sub, nil
}

// Stats 统计信息
func (s *Session) Stats() transport.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transport.Stats{
		Backend:       "nats",
		Running:       !s.closed && s.conn != nil && !s.conn.IsClosed(),
		Subscriptions: len(s.subs),
		Queryables:    len(s.queryables),
		Tokens:        len(s.tokens),
		Dropped:       s.dropped.Load(),
		StartedAt:     s.startedAt,
	}
}

// Close undeclares tokens, drains subscriptions and closes an owned connection.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	tokens := make([]*token, 0, len(s.tokens))
	for t := range s.tokens {
		tokens = append(tokens, t)
	}
	subs := make([]*subscription, 0, len(s.subs)+len(s.queryables))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	for sub := range s.queryables {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FlushTimeout)
	defer cancel()
	for _, t := range tokens {
		if err := t.undeclare(ctx); err != nil {
			s.logger.Warn(ctx, "undeclare token failed", logging.String("key", t.key), logging.Error(err))
		}
	}
	for _, sub := range subs {
		_ = sub.sub.Unsubscribe()
	}

	s.mu.Lock()
	s.subs = make(map[*subscription]struct{})
	s.queryables = make(map[*subscription]struct{})
	s.tokens = make(map[*token]struct{})
	s.mu.Unlock()

	if s.ownsConn {
		if err := s.conn.Drain(); err != nil {
			s.conn.Close()
		}
	}
	return nil
}

type subscription struct {
	key     string
	sub     *nats.Subscription
	session *Session
	query   bool
	once    sync.Once
}

func (s *subscription) Key() string { return s.key }

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.session.mu.Lock()
		if s.query {
			delete(s.session.queryables, s)
		} else {
			delete(s.session.subs, s)
		}
		s.session.mu.Unlock()
		err = s.sub.Unsubscribe()
		if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
			err = nil
		}
	})
	return err
}

var _ transport.Session = (*Session)(nil)
