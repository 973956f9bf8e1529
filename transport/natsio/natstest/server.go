// Package natstest 测试用内嵌 NATS 服务器
package natstest

import (
	"testing"

	"github.com/nats-io/nats-server/v2/server"

	"linkrt/transport/natsio"
)

// RunServer 在随机端口启动带 JetStream 的服务器，测试结束时关闭
func RunServer(t testing.TB) *natsio.Server {
	t.Helper()
	srv, err := natsio.StartServer(natsio.ServerConfig{
		Host:     "127.0.0.1",
		Port:     server.RANDOM_PORT,
		StoreDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("natstest: start server: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	return srv
}
