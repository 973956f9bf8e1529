package transport

// 传输层优先级（数值越小越高）
const (
	PriorityRealTime        uint8 = 1
	PriorityInteractiveHigh uint8 = 2
	PriorityInteractiveLow  uint8 = 3
	PriorityDataHigh        uint8 = 4
	PriorityData            uint8 = 5
	PriorityDataLow         uint8 = 6
	PriorityBackground      uint8 = 7

	PriorityMin = PriorityRealTime
	PriorityMax = PriorityBackground
)

// QoS 传输层原生服务质量参数
type QoS struct {
	// Priority 1..7，0 视为 PriorityData
	Priority uint8
	// Reliable 需要可靠投递
	Reliable bool
	// Block 拥塞时阻塞发送方；为 false 时拥塞直接丢弃
	Block bool
	// Express 不做批量合并，立即发送
	Express bool
}

// Normalize 把越界优先级收敛到合法范围
func (q QoS) Normalize() QoS {
	if q.Priority < PriorityMin || q.Priority > PriorityMax {
		q.Priority = PriorityData
	}
	return q
}

// DefaultQoS 默认参数：DATA、可靠、拥塞丢弃、express
func DefaultQoS() QoS {
	return QoS{Priority: PriorityData, Reliable: true, Block: false, Express: true}
}
