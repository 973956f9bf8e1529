package qos

import (
	"encoding/json"
	"fmt"
	"strings"

	"linkrt/channel"
)

// DefaultCapacity 订阅端与提供端默认通道容量
const DefaultCapacity = 100

// ChannelKind 通道类型
type ChannelKind uint8

const (
	// FIFO 有序，满时丢弃新消息
	FIFO ChannelKind = iota + 1
	// Ring 满时覆盖最旧消息
	Ring
)

func (k ChannelKind) String() string {
	switch k {
	case FIFO:
		return "FIFO"
	case Ring:
		return "RING"
	default:
		return fmt.Sprintf("ChannelKind(%d)", uint8(k))
	}
}

func (k ChannelKind) MarshalText() ([]byte, error) {
	if k != FIFO && k != Ring {
		return nil, fmt.Errorf("qos: invalid handler type %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *ChannelKind) UnmarshalText(text []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(text))) {
	case "FIFO":
		*k = FIFO
	case "RING":
		*k = Ring
	default:
		return fmt.Errorf("qos: unknown handler type %q", string(text))
	}
	return nil
}

// ChannelPolicy 投递通道策略
//
// JSON 形如 {"handler_type": "FIFO", "capacity": 100}；capacity 缺省为 DefaultCapacity。
type ChannelPolicy struct {
	Kind     ChannelKind
	Capacity int
}

// DefaultChannelPolicy FIFO，容量 100
func DefaultChannelPolicy() ChannelPolicy {
	return ChannelPolicy{Kind: FIFO, Capacity: DefaultCapacity}
}

type channelPolicyJSON struct {
	HandlerType ChannelKind `json:"handler_type"`
	Capacity    *int        `json:"capacity,omitempty"`
}

func (p ChannelPolicy) MarshalJSON() ([]byte, error) {
	capacity := p.Capacity
	return json.Marshal(channelPolicyJSON{HandlerType: p.Kind, Capacity: &capacity})
}

func (p *ChannelPolicy) UnmarshalJSON(data []byte) error {
	var raw struct {
		HandlerType *ChannelKind `json:"handler_type"`
		Capacity    *int         `json:"capacity"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.HandlerType == nil {
		return fmt.Errorf("qos: handler_type is required")
	}
	p.Kind = *raw.HandlerType
	p.Capacity = DefaultCapacity
	if raw.Capacity != nil {
		p.Capacity = *raw.Capacity
	}
	return nil
}

// Validate 校验策略
func (p ChannelPolicy) Validate() error {
	if p.Kind != FIFO && p.Kind != Ring {
		return fmt.Errorf("qos: invalid handler type %d", uint8(p.Kind))
	}
	if p.Capacity <= 0 {
		return fmt.Errorf("qos: capacity must be positive, got %d", p.Capacity)
	}
	return nil
}

func (p ChannelPolicy) String() string {
	return fmt.Sprintf("%s{capacity=%d}", p.Kind, p.Capacity)
}

// NewChannel 按策略构造具体通道
func NewChannel[T any](p ChannelPolicy) channel.Channel[T] {
	capacity := p.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if p.Kind == Ring {
		return channel.NewRing[T](capacity)
	}
	return channel.NewFIFO[T](capacity)
}
