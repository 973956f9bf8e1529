package natsio

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// ServerConfig 内嵌 NATS 服务器配置（开启 JetStream，供存活令牌使用）
type ServerConfig struct {
	Host     string
	Port     int
	StoreDir string
	// ReadyTimeout 等待服务器可接受连接的时间
	ReadyTimeout time.Duration
}

// Server is an embedded nats-server instance.
type Server struct {
	ns *server.Server
}

// StartServer starts an embedded server and waits until it accepts clients.
// Port server.RANDOM_PORT picks a free port.
func StartServer(cfg ServerConfig) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 5 * time.Second
	}
	if cfg.StoreDir == "" {
		cfg.StoreDir = filepath.Join(os.TempDir(), "linkrt-nats")
	}

	ns, err := server.NewServer(&server.Options{
		ServerName: "linkrt",
		Host:       cfg.Host,
		Port:       cfg.Port,
		JetStream:  true,
		StoreDir:   cfg.StoreDir,
		NoSigs:     true,
		NoLog:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedded nats server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(cfg.ReadyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded nats server on %s:%d not ready after %s", cfg.Host, cfg.Port, cfg.ReadyTimeout)
	}
	return &Server{ns: ns}, nil
}

// ClientURL 客户端连接地址
func (s *Server) ClientURL() string { return s.ns.ClientURL() }

// Shutdown 停止服务器并等待退出
func (s *Server) Shutdown() {
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}
