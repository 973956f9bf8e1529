package app

import (
	"context"
	"fmt"
	"sync"

	"linkrt/codec"
	"linkrt/config"
	"linkrt/dispatch"
	"linkrt/endpoint"
	"linkrt/envelope"
	"linkrt/errors"
	"linkrt/journal"
	"linkrt/logging"
	"linkrt/metrics"
	"linkrt/session"
	"linkrt/topic"
	"linkrt/transport"
)

// Runtime 持有唯一的传输会话与主题、端点注册表
//
// Initialize 至多成功执行一次，之后注册表只读；第二次调用返回 ALREADY_INITIALIZED。
type Runtime struct {
	mu    sync.RWMutex
	state State
	opts  options

	logger    logging.Logger
	ownLogger *logging.ZapLogger

	settings   *config.Settings
	codec      codec.Codec
	manager    *session.Manager
	dispatcher *dispatch.Dispatcher
	collector  *metrics.Collector
	journal    *journal.Journal
	topics     *topic.Registry
	endpoints  *endpoint.Registry
}

// New 创建未初始化的运行时
func New(opts ...Option) *Runtime {
	rt := &Runtime{state: StatePending}
	for _, opt := range opts {
		opt(&rt.opts)
	}
	return rt
}

// InitializeFromEnv 从 LINKRT_* / LINKRT_CONFIG、COMMUNICATION_CONFIG、TOPICS 与 ENDPOINTS 初始化
func (rt *Runtime) InitializeFromEnv(ctx context.Context) error {
	settings, err := config.Load("")
	if err != nil {
		return rt.fail(err)
	}
	comm, err := config.CommunicationFromEnv()
	if err != nil {
		return rt.fail(err)
	}
	if err := comm.Apply(settings); err != nil {
		return rt.fail(err)
	}
	decls, err := config.DeclarationsFromEnv()
	if err != nil {
		return rt.fail(err)
	}
	return rt.Initialize(ctx, settings, decls)
}

// fail 在初始化之前的加载阶段失败时占用唯一一次初始化机会
func (rt *Runtime) fail(err error) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.state != StatePending {
		return errors.ErrAlreadyInitialized.WithContext("component", "runtime")
	}
	rt.state = StateError
	return err
}

// Initialize 打开会话并构建注册表；settings 为空时使用默认配置
//
// WithAfterInit 回调在释放锁之后执行，回调内可以使用 Runtime 的访问方法。
func (rt *Runtime) Initialize(ctx context.Context, settings *config.Settings, decls config.Declarations) error {
	if err := rt.initialize(ctx, settings, decls); err != nil {
		return err
	}

	for _, hook := range rt.opts.afterInit {
		if err := hook(ctx, rt); err != nil {
			rt.mu.Lock()
			if rt.state == StateRunning {
				rt.release(ctx)
				rt.state = StateError
			}
			rt.mu.Unlock()
			return errors.Wrap(ctx, err, errors.ErrCodeInternal, "初始化回调失败")
		}
	}
	return nil
}

func (rt *Runtime) initialize(ctx context.Context, settings *config.Settings, decls config.Declarations) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.state != StatePending {
		return errors.ErrAlreadyInitialized.WithContext("component", "runtime").WithContext("state", rt.state.String())
	}
	rt.state = StateInitializing

	if settings == nil {
		settings = config.Default()
	}
	if err := settings.Validate(); err != nil {
		rt.state = StateError
		return err
	}
	rt.settings = settings
	c, err := codec.NewRegistry().Lookup(settings.Encoding)
	if err != nil {
		rt.state = StateError
		return errors.WrapError(err, errors.ErrCodeConfig, "消息编码无效")
	}
	rt.codec = c

	if err := rt.setupLogger(); err != nil {
		rt.state = StateError
		return err
	}

	if err := rt.build(ctx, decls); err != nil {
		rt.release(ctx)
		rt.state = StateError
		rt.logger.Error(ctx, "runtime initialization failed", logging.Error(err))
		return err
	}

	rt.state = StateRunning
	rt.logger.Info(ctx, "runtime initialized",
		logging.String("app", settings.AppName),
		logging.String("backend", settings.Transport.Backend),
		logging.Int("topics", len(decls.Topics)),
		logging.Int("endpoints", len(decls.Endpoints)))
	return nil
}

func (rt *Runtime) setupLogger() error {
	if rt.opts.logger != nil {
		rt.logger = rt.opts.logger.WithFields(logging.Component("runtime"))
		return nil
	}
	z, err := logging.NewZap(rt.settings.Log)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeConfig, "构建日志失败")
	}
	rt.ownLogger = z
	logging.SetLogger(z)
	rt.opts.logger = z
	rt.logger = z.WithFields(logging.Component("runtime"))
	return nil
}

func (rt *Runtime) build(ctx context.Context, decls config.Declarations) error {
	logger := rt.opts.logger
	s := rt.settings

	observers := append([]envelope.Observer(nil), rt.opts.observers...)
	var requestObs []endpoint.Option
	if s.Metrics.Enabled {
		c, err := metrics.NewCollector(s.Metrics.Namespace, rt.opts.registerer)
		if err != nil {
			return err
		}
		rt.collector = c
		observers = append(observers, c)
		requestObs = append(requestObs, endpoint.WithRequestObserver(c))
	}
	if s.Journal.Enabled {
		j, err := journal.Open(ctx, journal.Config{
			Path:        s.Journal.Path,
			KeepPayload: s.Journal.KeepPayload,
			Logger:      logger.WithFields(logging.Component("journal")),
		})
		if err != nil {
			return err
		}
		rt.journal = j
		observers = append(observers, j)
	}

	rt.manager = session.NewManager(session.WithLogger(logger.WithFields(logging.Component("session"))))
	if err := rt.manager.Initialize(ctx, s); err != nil {
		return err
	}
	sess := rt.manager.Session()

	rt.dispatcher = dispatch.New(s.Dispatch.MaxConcurrency, logger.WithFields(logging.Component("dispatch")))

	topics, err := topic.NewRegistry(sess, decls.Topics,
		topic.WithLogger(logger.WithFields(logging.Component("topic"))),
		topic.WithObserver(observers...),
		topic.WithDispatcher(rt.dispatcher))
	if err != nil {
		return err
	}
	rt.topics = topics

	endpointOpts := append([]endpoint.Option{
		endpoint.WithLogger(logger.WithFields(logging.Component("endpoint"))),
		endpoint.WithObserver(observers...),
		endpoint.WithDispatcher(rt.dispatcher),
		endpoint.WithLivenessCache(s.Transport.LivelinessCache),
	}, requestObs...)
	endpoints, err := endpoint.NewRegistry(sess, decls.Endpoints, endpointOpts...)
	if err != nil {
		return err
	}
	rt.endpoints = endpoints
	return nil
}

// release 按构建的逆序释放已创建的资源
func (rt *Runtime) release(ctx context.Context) {
	if rt.endpoints != nil {
		_ = rt.endpoints.Close()
	}
	if rt.topics != nil {
		_ = rt.topics.Close()
	}
	if rt.manager != nil && rt.manager.Initialized() {
		if err := rt.manager.Close(); err != nil {
			rt.logger.Warn(ctx, "close session failed", logging.Error(err))
		}
	}
	if rt.journal != nil {
		if err := rt.journal.Close(); err != nil {
			rt.logger.Warn(ctx, "close journal failed", logging.Error(err))
		}
	}
}

// Close 关闭注册表、会话（及内嵌服务器）与日志表；可重复调用
func (rt *Runtime) Close(ctx context.Context) error {
	rt.mu.Lock()
	if rt.state != StateRunning {
		if rt.state == StatePending {
			rt.state = StateStopped
		}
		rt.mu.Unlock()
		return nil
	}
	rt.state = StateStopping
	rt.mu.Unlock()

	for _, hook := range rt.opts.beforeClose {
		if err := hook(ctx, rt); err != nil {
			rt.logger.Warn(ctx, "before-close hook failed", logging.Error(err))
		}
	}

	rt.release(ctx)
	rt.logger.Info(ctx, "runtime stopped",
		logging.Int64("async_in_flight", rt.dispatcher.InFlight()),
		logging.Uint64("async_failed", rt.dispatcher.Failed()))
	if rt.ownLogger != nil {
		_ = rt.ownLogger.Sync()
	}

	rt.mu.Lock()
	rt.state = StateStopped
	rt.mu.Unlock()
	return nil
}

// State 当前状态
func (rt *Runtime) State() State {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.state
}

func (rt *Runtime) mustRun(what string) {
	if s := rt.State(); s != StateRunning {
		panic(fmt.Sprintf("app: %s accessed in state %s", what, s))
	}
}

// Topics 主题注册表；未初始化时 panic
func (rt *Runtime) Topics() *topic.Registry {
	rt.mustRun("topics")
	return rt.topics
}

// Endpoints 端点注册表；未初始化时 panic
func (rt *Runtime) Endpoints() *endpoint.Registry {
	rt.mustRun("endpoints")
	return rt.endpoints
}

// Session 底层传输会话；未初始化时 panic
func (rt *Runtime) Session() transport.Session {
	rt.mustRun("session")
	return rt.manager.Session()
}

// Settings 生效的配置
func (rt *Runtime) Settings() *config.Settings {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.settings
}

// Codec 配置的默认消息编码，配合 codec.For[T] 使用
func (rt *Runtime) Codec() codec.Codec {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if rt.codec == nil {
		return codec.JSON()
	}
	return rt.codec
}

// Journal 信封日志表，未启用时为 nil
func (rt *Runtime) Journal() *journal.Journal {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.journal
}

// Logger 运行时使用的日志
func (rt *Runtime) Logger() logging.Logger {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if rt.opts.logger == nil {
		return logging.GetLogger()
	}
	return rt.opts.logger
}
