// Package session 管理进程内唯一的传输会话
//
// Manager 只尝试初始化一次：无论成功与否，再次调用 Initialize 都返回 ALREADY_INITIALIZED。
// NATS 后端在监听端口空闲时会先启动内嵌服务器（开启 JetStream），端口已被占用则只做客户端连接。
package session

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"linkrt/config"
	"linkrt/errors"
	"linkrt/logging"
	"linkrt/patterns/retry"
	"linkrt/transport"
	"linkrt/transport/memory"
	"linkrt/transport/natsio"
	"linkrt/transport/redisps"
)

// Option 配置 Manager
type Option func(*Manager)

// WithLogger 设置日志
func WithLogger(l logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager 持有共享会话与（可能存在的）内嵌服务器
type Manager struct {
	mu        sync.Mutex
	attempted bool
	session   transport.Session
	server    *natsio.Server
	logger    logging.Logger
}

// NewManager 创建未初始化的 Manager
func NewManager(opts ...Option) *Manager {
	m := &Manager{logger: logging.ComponentLogger("session")}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize 按配置建立会话
func (m *Manager) Initialize(ctx context.Context, settings *config.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attempted {
		return errors.ErrAlreadyInitialized.WithContext("component", "session")
	}
	m.attempted = true

	if settings == nil {
		settings = config.Default()
	}

	var (
		s   transport.Session
		err error
	)
	switch settings.Transport.Backend {
	case config.BackendNATS, "":
		s, err = m.openNATS(ctx, settings.Transport.NATS)
	case config.BackendRedis:
		s, err = m.openRedis(ctx, settings.Transport.Redis)
	case config.BackendMemory:
		s = memory.NewSession(memory.Config{
			QueueSize: settings.Transport.Memory.QueueSize,
			Logger:    m.logger.WithFields(logging.Component("transport.memory")),
		})
	default:
		return errors.NewConfigError("unknown transport backend %q", settings.Transport.Backend)
	}
	if err != nil {
		m.shutdownServer()
		return errors.WrapWithLog(ctx, err, errors.ErrCodeTransport, "打开传输会话失败",
			logging.String("backend", settings.Transport.Backend))
	}

	m.session = s
	m.logger.Info(ctx, "transport session opened",
		logging.String("backend", s.Stats().Backend),
		logging.String("session_id", s.ID()),
		logging.Bool("embedded_server", m.server != nil))
	return nil
}

func (m *Manager) openNATS(ctx context.Context, cfg config.NATSSettings) (transport.Session, error) {
	if cfg.SelfListen {
		if portFree(cfg.ListenHost, cfg.ListenPort) {
			srv, err := natsio.StartServer(natsio.ServerConfig{
				Host:     cfg.ListenHost,
				Port:     cfg.ListenPort,
				StoreDir: cfg.StoreDir,
			})
			if err != nil {
				return nil, err
			}
			m.server = srv
			m.logger.Info(ctx, "embedded nats server started", logging.String("url", srv.ClientURL()))
		} else {
			m.logger.Debug(ctx, "listen port in use, connecting only",
				logging.String("host", cfg.ListenHost), logging.Int("port", cfg.ListenPort))
		}
	}

	var s *natsio.Session
	err := retry.DoWithInfo(ctx, func(ctx context.Context, attempt int) error {
		var err error
		s, err = natsio.NewSession(natsio.Config{
			URL:              cfg.URL,
			Name:             cfg.Name,
			LivelinessBucket: cfg.LivelinessBucket,
			LivelinessTTL:    cfg.LivelinessTTL,
			ConnectTimeout:   cfg.ConnectTimeout,
			Logger:           m.logger.WithFields(logging.Component("transport.nats")),
		})
		if err != nil {
			m.logger.Warn(ctx, "nats connect failed", logging.Int("attempt", attempt), logging.Error(err))
		}
		return err
	}, retry.Connect(cfg.ConnectAttempts))
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) openRedis(ctx context.Context, cfg config.RedisSettings) (transport.Session, error) {
	prefix := cfg.Prefix
	if prefix != "" && prefix[len(prefix)-1] != ':' {
		prefix += ":"
	}

	var s *redisps.Session
	err := retry.DoWithInfo(ctx, func(ctx context.Context, attempt int) error {
		var err error
		s, err = redisps.NewSession(ctx, redisps.Config{
			Addr:          cfg.Addr,
			Username:      cfg.Username,
			Password:      cfg.Password,
			DB:            cfg.DB,
			Prefix:        prefix,
			LivelinessTTL: cfg.LivelinessTTL,
			Logger:        m.logger.WithFields(logging.Component("transport.redis")),
		})
		if err != nil {
			m.logger.Warn(ctx, "redis ping failed", logging.Int("attempt", attempt), logging.Error(err))
		}
		return err
	}, retry.Connect(cfg.PingAttempts))
	if err != nil {
		return nil, err
	}
	return s, nil
}

// portFree 尝试绑定端口判断是否已有监听者
func portFree(host string, port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// Session 返回共享会话；未初始化时 panic
func (m *Manager) Session() transport.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		panic(fmt.Sprintf("%s: transport session requested before initialization", errors.ErrCodeNotInitialized))
	}
	return m.session
}

// Initialized 会话是否可用
func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// EmbeddedServer 自监听启动的服务器，没有则为 nil
func (m *Manager) EmbeddedServer() *natsio.Server {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.server
}

// Close 关闭会话，再停止内嵌服务器
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.session != nil {
		err = m.session.Close()
	}
	m.shutdownServer()
	return err
}

func (m *Manager) shutdownServer() {
	if m.server != nil {
		m.server.Shutdown()
		m.server = nil
	}
}
