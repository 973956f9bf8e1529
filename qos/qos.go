// Package qos 端点级服务质量与通道策略
//
// 配置中的枚举值使用 SCREAMING_SNAKE_CASE（如 REAL_TIME、BEST_EFFORT、DROP），
// 每个值都映射到 transport.QoS 的原生字段，并可反向映射。
package qos

import (
	"fmt"
	"strings"

	"linkrt/transport"
)

// Priority 消息优先级
type Priority uint8

const (
	PriorityRealTime        = Priority(transport.PriorityRealTime)
	PriorityInteractiveHigh = Priority(transport.PriorityInteractiveHigh)
	PriorityInteractiveLow  = Priority(transport.PriorityInteractiveLow)
	PriorityDataHigh        = Priority(transport.PriorityDataHigh)
	PriorityData            = Priority(transport.PriorityData)
	PriorityDataLow         = Priority(transport.PriorityDataLow)
	PriorityBackground      = Priority(transport.PriorityBackground)
)

var priorityNames = map[Priority]string{
	PriorityRealTime:        "REAL_TIME",
	PriorityInteractiveHigh: "INTERACTIVE_HIGH",
	PriorityInteractiveLow:  "INTERACTIVE_LOW",
	PriorityDataHigh:        "DATA_HIGH",
	PriorityData:            "DATA",
	PriorityDataLow:         "DATA_LOW",
	PriorityBackground:      "BACKGROUND",
}

// Priorities 所有优先级，从高到低
func Priorities() []Priority {
	return []Priority{
		PriorityRealTime, PriorityInteractiveHigh, PriorityInteractiveLow,
		PriorityDataHigh, PriorityData, PriorityDataLow, PriorityBackground,
	}
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Priority(%d)", uint8(p))
}

// Valid 是否为已定义的优先级
func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("qos: invalid priority %d", uint8(p))
	}
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(text []byte) error {
	name := strings.ToUpper(strings.TrimSpace(string(text)))
	for v, n := range priorityNames {
		if n == name {
			*p = v
			return nil
		}
	}
	return fmt.Errorf("qos: unknown priority %q", string(text))
}

// Reliability 可靠性
type Reliability uint8

const (
	BestEffort Reliability = iota + 1
	Reliable
)

func (r Reliability) String() string {
	switch r {
	case BestEffort:
		return "BEST_EFFORT"
	case Reliable:
		return "RELIABLE"
	default:
		return fmt.Sprintf("Reliability(%d)", uint8(r))
	}
}

func (r Reliability) MarshalText() ([]byte, error) {
	if r != BestEffort && r != Reliable {
		return nil, fmt.Errorf("qos: invalid reliability %d", uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Reliability) UnmarshalText(text []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(text))) {
	case "BEST_EFFORT":
		*r = BestEffort
	case "RELIABLE":
		*r = Reliable
	default:
		return fmt.Errorf("qos: unknown reliability %q", string(text))
	}
	return nil
}

// CongestionControl 拥塞控制
type CongestionControl uint8

const (
	Drop CongestionControl = iota + 1
	Block
)

func (c CongestionControl) String() string {
	switch c {
	case Drop:
		return "DROP"
	case Block:
		return "BLOCK"
	default:
		return fmt.Sprintf("CongestionControl(%d)", uint8(c))
	}
}

func (c CongestionControl) MarshalText() ([]byte, error) {
	if c != Drop && c != Block {
		return nil, fmt.Errorf("qos: invalid congestion control %d", uint8(c))
	}
	return []byte(c.String()), nil
}

func (c *CongestionControl) UnmarshalText(text []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(text))) {
	case "DROP":
		*c = Drop
	case "BLOCK":
		*c = Block
	default:
		return fmt.Errorf("qos: unknown congestion control %q", string(text))
	}
	return nil
}

// Profile 端点解析后的完整 QoS
type Profile struct {
	Priority          Priority
	Reliability       Reliability
	CongestionControl CongestionControl
	Express           bool
}

// PublishDefaults 发布端默认值：DATA、RELIABLE、DROP、express
func PublishDefaults() Profile {
	return Profile{Priority: PriorityData, Reliability: Reliable, CongestionControl: Drop, Express: true}
}

// RequestDefaults 请求端默认值：DATA、RELIABLE、BLOCK、express
func RequestDefaults() Profile {
	return Profile{Priority: PriorityData, Reliability: Reliable, CongestionControl: Block, Express: true}
}

// ReplyProfile 提供端应答使用的固定 QoS：REAL_TIME、RELIABLE、BLOCK、express
func ReplyProfile() Profile {
	return Profile{Priority: PriorityRealTime, Reliability: Reliable, CongestionControl: Block, Express: true}
}

// Transport 映射为传输层原生参数
func (p Profile) Transport() transport.QoS {
	return transport.QoS{
		Priority: uint8(p.Priority),
		Reliable: p.Reliability == Reliable,
		Block:    p.CongestionControl == Block,
		Express:  p.Express,
	}.Normalize()
}

// FromTransport 由传输层参数还原 Profile
func FromTransport(q transport.QoS) Profile {
	q = q.Normalize()
	p := Profile{
		Priority:          Priority(q.Priority),
		Reliability:       BestEffort,
		CongestionControl: Drop,
		Express:           q.Express,
	}
	if q.Reliable {
		p.Reliability = Reliable
	}
	if q.Block {
		p.CongestionControl = Block
	}
	return p
}

// Overrides 配置中可选的 QoS 字段，缺省字段取默认值
type Overrides struct {
	Priority          *Priority          `json:"priority,omitempty"`
	Reliability       *Reliability       `json:"reliability,omitempty"`
	CongestionControl *CongestionControl `json:"congestion_control,omitempty"`
	Express           *bool              `json:"express,omitempty"`
}

// Resolve 以 defaults 为基础应用覆盖项
func (o Overrides) Resolve(defaults Profile) Profile {
	p := defaults
	if o.Priority != nil {
		p.Priority = *o.Priority
	}
	if o.Reliability != nil {
		p.Reliability = *o.Reliability
	}
	if o.CongestionControl != nil {
		p.CongestionControl = *o.CongestionControl
	}
	if o.Express != nil {
		p.Express = *o.Express
	}
	return p
}
