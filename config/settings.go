// Package config 运行时配置
//
// Settings 通过 viper 从可选 YAML 文件与 LINKRT_* 环境变量加载；
// 端点拓扑（TOPICS / ENDPOINTS）与通信覆盖项（COMMUNICATION_CONFIG）单独从环境变量解析。
package config

import (
	stdErrors "errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"linkrt/codec"
	"linkrt/errors"
	"linkrt/logging"
	"linkrt/validation"
)

// 传输后端
const (
	BackendNATS   = "nats"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// DefaultNATSPort NATS 默认客户端端口，自监听探测也使用它
const DefaultNATSPort = 4222

// Settings 根配置
type Settings struct {
	AppName   string            `mapstructure:"app_name"`
	// Encoding 应用消息的默认编码：content type 或 json、yaml、cbor、protobuf
	Encoding  string            `mapstructure:"encoding"`
	Transport TransportSettings `mapstructure:"transport"`
	Log       logging.Config    `mapstructure:"log"`
	Metrics   MetricsSettings   `mapstructure:"metrics"`
	Journal   JournalSettings   `mapstructure:"journal"`
	Dispatch  DispatchSettings  `mapstructure:"dispatch"`
}

// TransportSettings 传输层配置
type TransportSettings struct {
	Backend string         `mapstructure:"backend"`
	NATS    NATSSettings   `mapstructure:"nats"`
	Redis   RedisSettings  `mapstructure:"redis"`
	Memory  MemorySettings `mapstructure:"memory"`
	// LivelinessCache 请求端缓存提供端 Alive 状态的时长，0 表示不缓存
	LivelinessCache time.Duration `mapstructure:"liveliness_cache"`
}

// NATSSettings NATS 后端配置
type NATSSettings struct {
	URL  string `mapstructure:"url"`
	Name string `mapstructure:"name"`
	// SelfListen 端口空闲时启动内嵌服务器
	SelfListen       bool          `mapstructure:"self_listen"`
	ListenHost       string        `mapstructure:"listen_host"`
	ListenPort       int           `mapstructure:"listen_port"`
	StoreDir         string        `mapstructure:"store_dir"`
	LivelinessBucket string        `mapstructure:"liveliness_bucket"`
	LivelinessTTL    time.Duration `mapstructure:"liveliness_ttl"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	ConnectAttempts  int           `mapstructure:"connect_attempts"`
}

// RedisSettings Redis 后端配置
type RedisSettings struct {
	Addr          string        `mapstructure:"addr"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	Prefix        string        `mapstructure:"prefix"`
	LivelinessTTL time.Duration `mapstructure:"liveliness_ttl"`
	PingAttempts  int           `mapstructure:"ping_attempts"`
}

// MemorySettings 进程内后端配置
type MemorySettings struct {
	QueueSize int `mapstructure:"queue_size"`
}

// MetricsSettings prometheus 指标
type MetricsSettings struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// JournalSettings 消息信封日志（SQLite）
type JournalSettings struct {
	Enabled     bool   `mapstructure:"enabled"`
	Path        string `mapstructure:"path"`
	KeepPayload bool   `mapstructure:"keep_payload"`
}

// DispatchSettings 异步回调并发上限，0 表示不限制
type DispatchSettings struct {
	MaxConcurrency int64 `mapstructure:"max_concurrency"`
}

// Default 默认配置
func Default() *Settings {
	return &Settings{
		AppName:  "linkrt",
		Encoding: "json",
		Transport: TransportSettings{
			Backend: BackendNATS,
			NATS: NATSSettings{
				URL:              fmt.Sprintf("nats://127.0.0.1:%d", DefaultNATSPort),
				Name:             "linkrt",
				SelfListen:       true,
				ListenHost:       "0.0.0.0",
				ListenPort:       DefaultNATSPort,
				LivelinessBucket: "LINKRT_LIVELINESS",
				LivelinessTTL:    10 * time.Second,
				ConnectTimeout:   2 * time.Second,
				ConnectAttempts:  5,
			},
			Redis: RedisSettings{
				Addr:          "127.0.0.1:6379",
				Prefix:        "linkrt",
				LivelinessTTL: 10 * time.Second,
				PingAttempts:  5,
			},
			Memory: MemorySettings{QueueSize: 1024},
		},
		Log: logging.DefaultConfig(),
		Metrics: MetricsSettings{
			Namespace: "linkrt",
		},
		Journal: JournalSettings{
			Path: "linkrt-journal.db",
		},
	}
}

// Load 从 path（可为空）与环境变量加载配置
//
// 环境变量前缀 LINKRT，层级用 "_" 连接，例如 LINKRT_TRANSPORT_BACKEND=redis。
// path 为空时使用 LINKRT_CONFIG 指向的文件；都为空则只用默认值与环境变量。
func Load(path string) (*Settings, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LINKRT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	seedDefaults(v, cfg)

	if path == "" {
		path = os.Getenv("LINKRT_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !stdErrors.As(err, &notFound) {
				return nil, errors.WrapError(err, errors.ErrCodeConfig, "读取配置文件失败")
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeConfig, "解析配置失败")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func seedDefaults(v *viper.Viper, cfg *Settings) {
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("encoding", cfg.Encoding)

	v.SetDefault("transport.backend", cfg.Transport.Backend)
	n := cfg.Transport.NATS
	v.SetDefault("transport.nats.url", n.URL)
	v.SetDefault("transport.nats.name", n.Name)
	v.SetDefault("transport.nats.self_listen", n.SelfListen)
	v.SetDefault("transport.nats.listen_host", n.ListenHost)
	v.SetDefault("transport.nats.listen_port", n.ListenPort)
	v.SetDefault("transport.nats.store_dir", n.StoreDir)
	v.SetDefault("transport.nats.liveliness_bucket", n.LivelinessBucket)
	v.SetDefault("transport.nats.liveliness_ttl", n.LivelinessTTL)
	v.SetDefault("transport.nats.connect_timeout", n.ConnectTimeout)
	v.SetDefault("transport.nats.connect_attempts", n.ConnectAttempts)

	r := cfg.Transport.Redis
	v.SetDefault("transport.redis.addr", r.Addr)
	v.SetDefault("transport.redis.username", r.Username)
	v.SetDefault("transport.redis.password", r.Password)
	v.SetDefault("transport.redis.db", r.DB)
	v.SetDefault("transport.redis.prefix", r.Prefix)
	v.SetDefault("transport.redis.liveliness_ttl", r.LivelinessTTL)
	v.SetDefault("transport.redis.ping_attempts", r.PingAttempts)

	v.SetDefault("transport.memory.queue_size", cfg.Transport.Memory.QueueSize)
	v.SetDefault("transport.liveliness_cache", cfg.Transport.LivelinessCache)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.namespace", cfg.Metrics.Namespace)
	v.SetDefault("journal.enabled", cfg.Journal.Enabled)
	v.SetDefault("journal.path", cfg.Journal.Path)
	v.SetDefault("journal.keep_payload", cfg.Journal.KeepPayload)
	v.SetDefault("dispatch.max_concurrency", cfg.Dispatch.MaxConcurrency)
}

// Validate 校验并规范化配置
func (s *Settings) Validate() error {
	s.Transport.Backend = strings.ToLower(strings.TrimSpace(s.Transport.Backend))
	if err := validation.ValidateEnum(s.Transport.Backend, "transport.backend",
		[]string{BackendNATS, BackendRedis, BackendMemory}); err != nil {
		return errors.WrapError(err, errors.ErrCodeConfig, "传输后端无效")
	}
	if s.Encoding == "" {
		s.Encoding = "json"
	}
	if _, err := codec.NewRegistry().Lookup(s.Encoding); err != nil {
		return errors.WrapError(err, errors.ErrCodeConfig, "消息编码无效")
	}
	if _, ok := logging.ParseLevel(s.Log.Level); !ok {
		return errors.NewConfigError("invalid log.level: %q", s.Log.Level)
	}

	switch s.Transport.Backend {
	case BackendNATS:
		n := &s.Transport.NATS
		if err := validation.ValidateIntRange(n.ListenPort, "transport.nats.listen_port", 1, 65535); err != nil {
			return errors.WrapError(err, errors.ErrCodeConfig, "NATS 配置无效")
		}
		if err := validation.ValidateRequired(n.LivelinessBucket, "transport.nats.liveliness_bucket"); err != nil {
			return errors.WrapError(err, errors.ErrCodeConfig, "NATS 配置无效")
		}
		if n.LivelinessTTL <= 0 {
			n.LivelinessTTL = 10 * time.Second
		}
		if n.ConnectAttempts <= 0 {
			n.ConnectAttempts = 1
		}
	case BackendRedis:
		r := &s.Transport.Redis
		if err := validation.ValidateRequired(r.Addr, "transport.redis.addr"); err != nil {
			return errors.WrapError(err, errors.ErrCodeConfig, "Redis 配置无效")
		}
		if r.LivelinessTTL <= 0 {
			r.LivelinessTTL = 10 * time.Second
		}
		if r.PingAttempts <= 0 {
			r.PingAttempts = 1
		}
	case BackendMemory:
		if s.Transport.Memory.QueueSize <= 0 {
			s.Transport.Memory.QueueSize = 1024
		}
	}

	if s.Dispatch.MaxConcurrency < 0 {
		return errors.NewConfigError("dispatch.max_concurrency must not be negative")
	}
	if s.Journal.Enabled {
		if err := validation.ValidateRequired(s.Journal.Path, "journal.path"); err != nil {
			return errors.WrapError(err, errors.ErrCodeConfig, "journal 配置无效")
		}
	}
	return nil
}
