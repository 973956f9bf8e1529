package config

import (
	"encoding/json"
	"os"

	"linkrt/errors"
)

// EnvCommunication 通信覆盖项所在的环境变量
const EnvCommunication = "COMMUNICATION_CONFIG"

// Communication COMMUNICATION_CONFIG 中的 JSON 覆盖项，缺省字段不覆盖
//
//	{"backend": "nats", "url": "nats://10.0.0.2:4222", "self_listen": false}
type Communication struct {
	Backend    string `json:"backend,omitempty"`
	URL        string `json:"url,omitempty"`
	Addr       string `json:"addr,omitempty"`
	ListenHost string `json:"listen_host,omitempty"`
	ListenPort int    `json:"listen_port,omitempty"`
	SelfListen *bool  `json:"self_listen,omitempty"`
}

// CommunicationFromEnv 读取 COMMUNICATION_CONFIG；未设置时返回 nil, nil
func CommunicationFromEnv() (*Communication, error) {
	raw, ok := os.LookupEnv(EnvCommunication)
	if !ok || raw == "" {
		return nil, nil
	}
	return ParseCommunication([]byte(raw))
}

// ParseCommunication 解析通信覆盖项
func ParseCommunication(data []byte) (*Communication, error) {
	var c Communication
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeConfig, "COMMUNICATION_CONFIG 解析失败")
	}
	return &c, nil
}

// Apply 把覆盖项应用到 Settings 上，并重新校验
func (c *Communication) Apply(s *Settings) error {
	if c == nil {
		return nil
	}
	if c.Backend != "" {
		s.Transport.Backend = c.Backend
	}
	if c.URL != "" {
		s.Transport.NATS.URL = c.URL
	}
	if c.Addr != "" {
		s.Transport.Redis.Addr = c.Addr
	}
	if c.ListenHost != "" {
		s.Transport.NATS.ListenHost = c.ListenHost
	}
	if c.ListenPort != 0 {
		s.Transport.NATS.ListenPort = c.ListenPort
	}
	if c.SelfListen != nil {
		s.Transport.NATS.SelfListen = *c.SelfListen
	}
	return s.Validate()
}
