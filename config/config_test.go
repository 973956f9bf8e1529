package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkrt/errors"
	"linkrt/qos"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendNATS, cfg.Transport.Backend)
	assert.Equal(t, DefaultNATSPort, cfg.Transport.NATS.ListenPort)
	assert.True(t, cfg.Transport.NATS.SelfListen)
	assert.Equal(t, 10*time.Second, cfg.Transport.NATS.LivelinessTTL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, []string{"stderr"}, cfg.Log.Outputs)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linkrt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app_name: arm-controller
transport:
  backend: redis
  redis:
    addr: 10.0.0.5:6379
    liveliness_ttl: 3s
log:
  level: debug
dispatch:
  max_concurrency: 8
`), 0o644))

	t.Setenv("LINKRT_TRANSPORT_REDIS_DB", "2")
	t.Setenv("LINKRT_METRICS_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "arm-controller", cfg.AppName)
	assert.Equal(t, BackendRedis, cfg.Transport.Backend)
	assert.Equal(t, "10.0.0.5:6379", cfg.Transport.Redis.Addr)
	assert.Equal(t, 3*time.Second, cfg.Transport.Redis.LivelinessTTL)
	assert.Equal(t, 2, cfg.Transport.Redis.DB)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, int64(8), cfg.Dispatch.MaxConcurrency)
}

func TestLoad_InvalidBackend(t *testing.T) {
	t.Setenv("LINKRT_TRANSPORT_BACKEND", "kafka")
	_, err := Load("")
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeConfig))
}

func TestLoad_Encoding(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Encoding)

	t.Setenv("LINKRT_ENCODING", "application/cbor")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "application/cbor", cfg.Encoding)

	t.Setenv("LINKRT_ENCODING", "msgpack")
	_, err = Load("")
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeConfig))
}

func TestCommunication_Apply(t *testing.T) {
	t.Setenv(EnvCommunication, `{"url":"nats://10.1.1.1:4222","self_listen":false,"listen_port":5222}`)
	comm, err := CommunicationFromEnv()
	require.NoError(t, err)
	require.NotNil(t, comm)

	cfg := Default()
	require.NoError(t, comm.Apply(cfg))
	assert.Equal(t, "nats://10.1.1.1:4222", cfg.Transport.NATS.URL)
	assert.False(t, cfg.Transport.NATS.SelfListen)
	assert.Equal(t, 5222, cfg.Transport.NATS.ListenPort)

	_, err = ParseCommunication([]byte("{"))
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeConfig))
}

func TestCommunicationFromEnv_Unset(t *testing.T) {
	t.Setenv(EnvCommunication, "")
	comm, err := CommunicationFromEnv()
	assert.NoError(t, err)
	assert.Nil(t, comm)
}

const topicsJSON = `{"topics":[
 {"topic_type":"PUB","topic_name":"status_out","topic_key":"robot/status","message_type":"Status",
  "priority":"REAL_TIME","congestion_control":"BLOCK","express":false},
 {"topic_type":"SUB","topic_name":"status_in","topic_key":"robot/status","message_type":"Status",
  "handler":{"handler_type":"RING","capacity":5}},
 {"topic_type":"SUB","topic_name":"pose_in","topic_key":"robot/pose","message_type":"Pose"}
]}`

func TestParseTopics(t *testing.T) {
	decls, err := ParseTopics([]byte(topicsJSON))
	require.NoError(t, err)
	require.Len(t, decls, 3)

	pub := decls[0]
	assert.Equal(t, TopicPublish, pub.Kind)
	profile := pub.PublishProfile()
	assert.Equal(t, qos.PriorityRealTime, profile.Priority)
	assert.Equal(t, qos.Reliable, profile.Reliability)
	assert.Equal(t, qos.Block, profile.CongestionControl)
	assert.False(t, profile.Express)

	assert.Equal(t, qos.ChannelPolicy{Kind: qos.Ring, Capacity: 5}, decls[1].ChannelPolicy())
	assert.Equal(t, qos.DefaultChannelPolicy(), decls[2].ChannelPolicy())
}

func TestParseTopics_Errors(t *testing.T) {
	cases := map[string]string{
		"malformed json":   `{"topics":[`,
		"unknown kind":     `{"topics":[{"topic_type":"PUSH","topic_name":"a","topic_key":"a","message_type":"A"}]}`,
		"missing key":      `{"topics":[{"topic_type":"PUB","topic_name":"a","message_type":"A"}]}`,
		"bad key":          `{"topics":[{"topic_type":"PUB","topic_name":"a","topic_key":"a//b","message_type":"A"}]}`,
		"missing type":     `{"topics":[{"topic_type":"PUB","topic_name":"a","topic_key":"a"}]}`,
		"bad priority":     `{"topics":[{"topic_type":"PUB","topic_name":"a","topic_key":"a","message_type":"A","priority":"URGENT"}]}`,
		"zero capacity":    `{"topics":[{"topic_type":"SUB","topic_name":"a","topic_key":"a","message_type":"A","handler":{"handler_type":"FIFO","capacity":0}}]}`,
		"duplicate in pub": `{"topics":[{"topic_type":"PUB","topic_name":"a","topic_key":"a","message_type":"A"},{"topic_type":"PUB","topic_name":"a","topic_key":"b","message_type":"A"}]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTopics([]byte(raw))
			require.Error(t, err)
			assert.True(t, errors.IsErrorCode(err, errors.ErrCodeConfig), err.Error())
		})
	}
}

func TestParseTopics_SameNameAcrossKinds(t *testing.T) {
	decls, err := ParseTopics([]byte(`{"topics":[
	 {"topic_type":"PUB","topic_name":"status","topic_key":"robot/status","message_type":"Status"},
	 {"topic_type":"SUB","topic_name":"status","topic_key":"robot/status","message_type":"Status"}]}`))
	require.NoError(t, err)
	assert.Len(t, decls, 2)
}

func TestParseEndpoints(t *testing.T) {
	decls, err := ParseEndpoints([]byte(`{"endpoints":[
	 {"endpoint_type":"REQ","endpoint_name":"reverse_client","endpoint_key":"svc/reverse",
	  "requester_message_type":"Text","provider_message_type":"Text","priority":"INTERACTIVE_HIGH"},
	 {"endpoint_type":"PRV","endpoint_name":"reverse_server","endpoint_key":"svc/reverse",
	  "requester_message_type":"Text","provider_message_type":"Text"}]}`))
	require.NoError(t, err)
	require.Len(t, decls, 2)

	req := decls[0].RequestProfile()
	assert.Equal(t, qos.PriorityInteractiveHigh, req.Priority)
	assert.Equal(t, qos.Block, req.CongestionControl)
	assert.True(t, req.Express)
	assert.Equal(t, qos.DefaultChannelPolicy(), decls[1].ChannelPolicy())

	_, err = ParseEndpoints([]byte(`{"endpoints":[{"endpoint_type":"REQ","endpoint_name":"a","endpoint_key":"a","requester_message_type":"A"}]}`))
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeConfig))

	_, err = ParseEndpoints([]byte(`{"endpoints":[{"endpoint_type":"SRV","endpoint_name":"a","endpoint_key":"a","requester_message_type":"A","provider_message_type":"B"}]}`))
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeConfig))
}

func TestDeclarationsFromEnv(t *testing.T) {
	t.Setenv(EnvTopics, topicsJSON)
	t.Setenv(EnvEndpoints, "")

	decls, err := DeclarationsFromEnv()
	require.NoError(t, err)
	assert.Len(t, decls.Topics, 3)
	assert.Empty(t, decls.Endpoints)

	t.Setenv(EnvEndpoints, "not json")
	_, err = DeclarationsFromEnv()
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeConfig))
}
