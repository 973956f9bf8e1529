package config

import (
	"encoding/json"
	"fmt"
	"os"

	"linkrt/errors"
	"linkrt/qos"
	"linkrt/validation"
)

// 拓扑所在的环境变量
const (
	EnvTopics    = "TOPICS"
	EnvEndpoints = "ENDPOINTS"
)

// TopicKind 主题声明类型
type TopicKind string

const (
	TopicPublish   TopicKind = "PUB"
	TopicSubscribe TopicKind = "SUB"
)

// TopicDeclaration 主题声明，按 topic_type 区分发布与订阅
//
// 发布端使用 QoS 字段，订阅端使用 handler 字段；另一种角色的字段被忽略。
type TopicDeclaration struct {
	Kind        TopicKind `json:"topic_type"`
	Name        string    `json:"topic_name"`
	Key         string    `json:"topic_key"`
	MessageType string    `json:"message_type"`

	qos.Overrides
	Handler *qos.ChannelPolicy `json:"handler,omitempty"`
}

// PublishProfile 解析后的发布 QoS（缺省 DATA、RELIABLE、DROP、express）
func (d TopicDeclaration) PublishProfile() qos.Profile {
	return d.Overrides.Resolve(qos.PublishDefaults())
}

// ChannelPolicy 解析后的订阅通道策略（缺省 FIFO 100）
func (d TopicDeclaration) ChannelPolicy() qos.ChannelPolicy {
	if d.Handler == nil {
		return qos.DefaultChannelPolicy()
	}
	return *d.Handler
}

// Validate 校验单条声明
func (d TopicDeclaration) Validate() error {
	if d.Kind != TopicPublish && d.Kind != TopicSubscribe {
		return errors.NewConfigError("unknown topic_type %q for topic %q", d.Kind, d.Name)
	}
	if err := validation.ValidateName(d.Name, "topic_name"); err != nil {
		return errors.WrapError(err, errors.ErrCodeConfig, "主题声明无效")
	}
	if err := validation.ValidateKey(d.Key, "topic_key"); err != nil {
		return errors.WrapError(err, errors.ErrCodeConfig, fmt.Sprintf("主题 %q 声明无效", d.Name))
	}
	if err := validation.ValidateRequired(d.MessageType, "message_type"); err != nil {
		return errors.WrapError(err, errors.ErrCodeConfig, fmt.Sprintf("主题 %q 声明无效", d.Name))
	}
	if d.Kind == TopicSubscribe {
		if err := d.ChannelPolicy().Validate(); err != nil {
			return errors.WrapError(err, errors.ErrCodeConfig, fmt.Sprintf("主题 %q 的 handler 无效", d.Name))
		}
	}
	return nil
}

// EndpointKind 端点声明类型
type EndpointKind string

const (
	EndpointRequest EndpointKind = "REQ"
	EndpointProvide EndpointKind = "PRV"
)

// EndpointDeclaration 请求/提供端点声明，按 endpoint_type 区分
type EndpointDeclaration struct {
	Kind         EndpointKind `json:"endpoint_type"`
	Name         string       `json:"endpoint_name"`
	Key          string       `json:"endpoint_key"`
	RequestType  string       `json:"requester_message_type"`
	ResponseType string       `json:"provider_message_type"`

	qos.Overrides
	Handler *qos.ChannelPolicy `json:"handler,omitempty"`
}

// RequestProfile 解析后的请求 QoS（缺省 DATA、RELIABLE、BLOCK、express）
func (d EndpointDeclaration) RequestProfile() qos.Profile {
	return d.Overrides.Resolve(qos.RequestDefaults())
}

// ChannelPolicy 解析后的提供端通道策略（缺省 FIFO 100）
func (d EndpointDeclaration) ChannelPolicy() qos.ChannelPolicy {
	if d.Handler == nil {
		return qos.DefaultChannelPolicy()
	}
	return *d.Handler
}

// Validate 校验单条声明
func (d EndpointDeclaration) Validate() error {
	if d.Kind != EndpointRequest && d.Kind != EndpointProvide {
		return errors.NewConfigError("unknown endpoint_type %q for endpoint %q", d.Kind, d.Name)
	}
	if err := validation.ValidateName(d.Name, "endpoint_name"); err != nil {
		return errors.WrapError(err, errors.ErrCodeConfig, "端点声明无效")
	}
	if err := validation.ValidateKey(d.Key, "endpoint_key"); err != nil {
		return errors.WrapError(err, errors.ErrCodeConfig, fmt.Sprintf("端点 %q 声明无效", d.Name))
	}
	for field, value := range map[string]string{
		"requester_message_type": d.RequestType,
		"provider_message_type":  d.ResponseType,
	} {
		if err := validation.ValidateRequired(value, field); err != nil {
			return errors.WrapError(err, errors.ErrCodeConfig, fmt.Sprintf("端点 %q 声明无效", d.Name))
		}
	}
	if d.Kind == EndpointProvide {
		if err := d.ChannelPolicy().Validate(); err != nil {
			return errors.WrapError(err, errors.ErrCodeConfig, fmt.Sprintf("端点 %q 的 handler 无效", d.Name))
		}
	}
	return nil
}

// Declarations 完整拓扑
type Declarations struct {
	Topics    []TopicDeclaration    `json:"topics"`
	Endpoints []EndpointDeclaration `json:"endpoints"`
}

// ParseTopics 解析 {"topics": [...]}
func ParseTopics(data []byte) ([]TopicDeclaration, error) {
	var doc struct {
		Topics []TopicDeclaration `json:"topics"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeConfig, "TOPICS 解析失败")
	}
	if err := ValidateTopics(doc.Topics); err != nil {
		return nil, err
	}
	return doc.Topics, nil
}

// ValidateTopics 校验声明集合：逐条校验，同一类型内名称唯一
func ValidateTopics(decls []TopicDeclaration) error {
	pubs, subs := validation.NewUnique("发布主题"), validation.NewUnique("订阅主题")
	for _, d := range decls {
		if err := d.Validate(); err != nil {
			return err
		}
		names := pubs
		if d.Kind == TopicSubscribe {
			names = subs
		}
		if err := names.Add(d.Name); err != nil {
			return errors.WrapError(err, errors.ErrCodeConfig, "主题名称重复")
		}
	}
	return nil
}

// ParseEndpoints 解析 {"endpoints": [...]}
func ParseEndpoints(data []byte) ([]EndpointDeclaration, error) {
	var doc struct {
		Endpoints []EndpointDeclaration `json:"endpoints"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeConfig, "ENDPOINTS 解析失败")
	}
	if err := ValidateEndpoints(doc.Endpoints); err != nil {
		return nil, err
	}
	return doc.Endpoints, nil
}

// ValidateEndpoints 校验声明集合：逐条校验，同一类型内名称唯一
func ValidateEndpoints(decls []EndpointDeclaration) error {
	reqs, prvs := validation.NewUnique("请求端点"), validation.NewUnique("提供端点")
	for _, d := range decls {
		if err := d.Validate(); err != nil {
			return err
		}
		names := reqs
		if d.Kind == EndpointProvide {
			names = prvs
		}
		if err := names.Add(d.Name); err != nil {
			return errors.WrapError(err, errors.ErrCodeConfig, "端点名称重复")
		}
	}
	return nil
}

// TopicsFromEnv 从 TOPICS 读取主题声明；未设置时返回空集合
func TopicsFromEnv() ([]TopicDeclaration, error) {
	raw, ok := os.LookupEnv(EnvTopics)
	if !ok || raw == "" {
		return nil, nil
	}
	return ParseTopics([]byte(raw))
}

// EndpointsFromEnv 从 ENDPOINTS 读取端点声明；未设置时返回空集合
func EndpointsFromEnv() ([]EndpointDeclaration, error) {
	raw, ok := os.LookupEnv(EnvEndpoints)
	if !ok || raw == "" {
		return nil, nil
	}
	return ParseEndpoints([]byte(raw))
}

// DeclarationsFromEnv 同时读取 TOPICS 与 ENDPOINTS
func DeclarationsFromEnv() (Declarations, error) {
	topics, err := TopicsFromEnv()
	if err != nil {
		return Declarations{}, err
	}
	endpoints, err := EndpointsFromEnv()
	if err != nil {
		return Declarations{}, err
	}
	return Declarations{Topics: topics, Endpoints: endpoints}, nil
}
