package natsio

import (
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"

	"linkrt/transport"
)

// 消息头
const (
	hdrKey      = "Linkrt-Key"
	hdrPriority = "Linkrt-Priority"
	hdrReliable = "Linkrt-Reliable"
	hdrExpress  = "Linkrt-Express"
	hdrError    = "Linkrt-Error"

	// nats.go 解析状态行后写入的头
	hdrStatus          = "Status"
	statusNoResponders = "503"
)

// 分段内的 "." 与 "%" 转义，保证分段与 NATS token 一一对应
var (
	chunkEscaper   = strings.NewReplacer("%", "%25", ".", "%2E", " ", "%20")
	chunkUnescaper = strings.NewReplacer("%2E", ".", "%20", " ", "%25", "%")
)

// subjectOf 把不含通配的路由键映射为 subject："a/b" => "a.b"
func subjectOf(key string) string {
	chunks := strings.Split(key, "/")
	for i, c := range chunks {
		chunks[i] = chunkEscaper.Replace(c)
	}
	return strings.Join(chunks, ".")
}

// keyOf 由 subject 还原路由键
func keyOf(subject string) string {
	tokens := strings.Split(subject, ".")
	for i, t := range tokens {
		tokens[i] = chunkUnescaper.Replace(t)
	}
	return strings.Join(tokens, "/")
}

// subscriptionSubject 把可能含通配的路由键映射为订阅 subject
//
// "*" 对应 NATS 的 "*"；"**" 无法精确表达时退化为 ">"，filter 为 true 表示需要再按 transport.Match 过滤。
func subscriptionSubject(key string) (subject string, filter bool) {
	chunks := strings.Split(key, "/")
	out := make([]string, 0, len(chunks))
	for i, c := range chunks {
		switch c {
		case "*":
			out = append(out, "*")
		case "**":
			out = append(out, ">")
			return strings.Join(out, "."), i != len(chunks)-1
		default:
			out = append(out, chunkEscaper.Replace(c))
		}
	}
	return strings.Join(out, "."), false
}

func qosHeader(h nats.Header, q transport.QoS) nats.Header {
	if h == nil {
		h = nats.Header{}
	}
	q = q.Normalize()
	h.Set(hdrPriority, strconv.Itoa(int(q.Priority)))
	h.Set(hdrReliable, strconv.FormatBool(q.Reliable))
	h.Set(hdrExpress, strconv.FormatBool(q.Express))
	return h
}

func qosFromHeader(h nats.Header) transport.QoS {
	q := transport.DefaultQoS()
	if h == nil {
		return q
	}
	if v, err := strconv.Atoi(h.Get(hdrPriority)); err == nil {
		q.Priority = uint8(v)
	}
	if v, err := strconv.ParseBool(h.Get(hdrReliable)); err == nil {
		q.Reliable = v
	}
	if v, err := strconv.ParseBool(h.Get(hdrExpress)); err == nil {
		q.Express = v
	}
	return q.Normalize()
}
