// Package redisps 基于 Redis Pub/Sub 的传输会话
//
// 数据与查询走 PUBLISH/SUBSCRIBE（含通配时使用 PSUBSCRIBE），帧格式为 CBOR；
// 查询应答发往请求方独占的 reply 频道，PUBLISH 的接收者数量即应答方数量；
// 存活令牌是带过期时间的字符串键，由心跳续期。
package redisps

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"linkrt/logging"
	"linkrt/transport"
)

// Config describes how the Redis session should connect.
type Config struct {
	Client   redis.UniversalClient
	Addr     string
	Username string
	Password string
	DB       int
	// Prefix 所有频道与键的前缀
	Prefix string

	LivelinessTTL time.Duration
	// ChannelSize 每个订阅的接收缓冲
	ChannelSize int
	Logger      logging.Logger
}

// Session is a transport.Session backed by Redis Pub/Sub.
type Session struct {
	cfg       Config
	id        string
	client    redis.UniversalClient
	ownClient bool
	logger    logging.Logger

	mu         sync.RWMutex
	closed     bool
	subs       map[*subscription]struct{}
	queryables map[*subscription]struct{}
	tokens     map[*token]struct{}

	dropped   atomic.Uint64
	startedAt time.Time
}

// NewSession constructs a Redis session. The connection is verified with PING.
func NewSession(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "linkrt:"
	}
	if cfg.LivelinessTTL <= 0 {
		cfg.LivelinessTTL = 10 * time.Second
	}
	if cfg.ChannelSize <= 0 {
		cfg.ChannelSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("transport.redis")
	}

	var (
		cl  redis.UniversalClient
		own bool
	)
	if cfg.Client != nil {
		cl = cfg.Client
	} else {
		if cfg.Addr == "" {
			return nil, errors.New("redis address not configured")
		}
		cl = redis.NewClient(&redis.Options{Addr: cfg.Addr, Username: cfg.Username, Password: cfg.Password, DB: cfg.DB})
		own = true
	}

	if err := cl.Ping(ctx).Err(); err != nil {
		if own {
			_ = cl.Close()
		}
		return nil, err
	}

	return &Session{
		cfg:        cfg,
		id:         uuid.NewString(),
		client:     cl,
		ownClient:  own,
		logger:     cfg.Logger,
		subs:       make(map[*subscription]struct{}),
		queryables: make(map[*subscription]struct{}),
		tokens:     make(map[*token]struct{}),
		startedAt:  time.Now(),
	}, nil
}

// ID 会话标识
func (s *Session) ID() string { return s.id }

// Client 底层客户端
func (s *Session) Client() redis.UniversalClient { return s.client }

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Session) channel(space, key string) string {
	return s.cfg.Prefix + space + key
}

// Put publishes a sample. Under Drop congestion control a PUBLISH that fails
// because the connection is down or timed out counts as dropped; server
// replies such as auth or protocol errors are always returned.
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

	f := newFrame(key, payload, qos)
	f.SentAt = time.Now().UnixNano()
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel(spaceData, key), data).Err(); err != nil {
		if !qos.Block && ctx.Err() == nil && congested(err) {
			s.dropped.Add(1)
			s.logger.Debug(ctx, "publish dropped", logging.String("key", key), logging.Error(err))
			return nil
		}
		return err
	}
	return nil
}

// congested reports whether a publish error comes from the connection rather
// than from the server.
func congested(err error) bool {
	var reply redis.Error
	if errors.As(err, &reply) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// Subscribe subscribes to a key expression.
func (s *Session) Subscribe(key string, handler transport.SampleHandler) (transport.Subscription, error) {
	if err := transport.ValidateKey(key); err != nil {
		return nil, err
	}
	sub, err := s.listen(spaceData, key, false, func(f frame) {
		handler(transport.Sample{
			Key:       f.Key,
			Payload:   f.Payload,
			Kind:      transport.SampleKindPut,
			QoS:       f.qos(),
			Timestamp: time.Now(),
		})
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// listen 建立独立的 PubSub 连接并等待订阅确认
func (s *Session) listen(space, key string, query bool, handle func(frame)) (*subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, transport.ErrClosed
	}

	ctx := context.Background()
	var ps *redis.PubSub
	if transport.HasWildcard(key) {
		ps = s.client.PSubscribe(ctx, s.channel(space, globOf(key)))
	} else {
		ps = s.client.Subscribe(ctx, s.channel(space, key))
	}
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	sub := &subscription{key: key, ps: ps, session: s, query: query}
	go sub.loop(ps.Channel(redis.WithChannelSize(s.cfg.ChannelSize)), handle)

	if query {
		s.queryables[sub] = struct{}{}
	} else {
		s.subs[sub] = struct{}{}
	}
	return sub, nil
}

// Stats 统计信息
func (s *Session) Stats() transport.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transport.Stats{
		Backend:       "redis",
		Running:       !s.closed,
		Subscriptions: len(s.subs),
		Queryables:    len(s.queryables),
		Tokens:        len(s.tokens),
		Dropped:       s.dropped.Load(),
		StartedAt:     s.startedAt,
	}
}

// Close undeclares tokens, closes every Pub/Sub connection and an owned client.
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
	s.subs = make(map[*subscription]struct{})
	s.queryables = make(map[*subscription]struct{})
	s.tokens = make(map[*token]struct{})
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, t := range tokens {
		if err := t.undeclare(ctx); err != nil {
			s.logger.Warn(ctx, "undeclare token failed", logging.String("key", t.key), logging.Error(err))
		}
	}
	for _, sub := range subs {
		sub.shutdown()
	}
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}

type subscription struct {
	key     string
	ps      *redis.PubSub
	session *Session
	query   bool
	once    sync.Once
	closed  atomic.Bool
}

func (s *subscription) Key() string { return s.key }

func (s *subscription) loop(ch <-chan *redis.Message, handle func(frame)) {
	for msg := range ch {
		if s.closed.Load() {
			return
		}
		f, err := decodeFrame(msg.Payload)
		if err != nil {
			s.session.logger.Warn(context.Background(), "decode redis frame failed",
				logging.String("channel", msg.Channel), logging.Error(err))
			continue
		}
		if msg.Pattern != "" && !transport.Match(s.key, f.Key) {
			continue
		}
		s.invoke(handle, f)
	}
}

func (s *subscription) invoke(handle func(frame), f frame) {
	defer func() {
		if r := recover(); r != nil {
			s.session.logger.Error(context.Background(), "subscriber callback panicked",
				logging.String("key", f.Key), logging.Any("panic", r))
		}
	}()
	handle(f)
}

func (s *subscription) shutdown() {
	s.once.Do(func() {
		s.closed.Store(true)
		_ = s.ps.Close()
	})
}

func (s *subscription) Close() error {
	s.session.mu.Lock()
	if s.query {
		delete(s.session.queryables, s)
	} else {
		delete(s.session.subs, s)
	}
	s.session.mu.Unlock()
	s.shutdown()
	return nil
}

var _ transport.Session = (*Session)(nil)
