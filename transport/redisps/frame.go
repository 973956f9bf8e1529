package redisps

import (
	"strings"

	"github.com/fxamacker/cbor/v2"

	"linkrt/transport"
)

// frame 是在 Redis 频道上传输的 CBOR 帧
type frame struct {
	Key      string `cbor:"1,keyasint"`
	Payload  []byte `cbor:"2,keyasint,omitempty"`
	Priority uint8  `cbor:"3,keyasint,omitempty"`
	Reliable bool   `cbor:"4,keyasint,omitempty"`
	Express  bool   `cbor:"5,keyasint,omitempty"`
	Block    bool   `cbor:"6,keyasint,omitempty"`
	ReplyTo  string `cbor:"7,keyasint,omitempty"`
	Err      string `cbor:"8,keyasint,omitempty"`
	SentAt   int64  `cbor:"9,keyasint,omitempty"`
}

func newFrame(key string, payload []byte, qos transport.QoS) frame {
	qos = qos.Normalize()
	return frame{
		Key:      key,
		Payload:  payload,
		Priority: qos.Priority,
		Reliable: qos.Reliable,
		Express:  qos.Express,
		Block:    qos.Block,
	}
}

func (f frame) qos() transport.QoS {
	return transport.QoS{
		Priority: f.Priority,
		Reliable: f.Reliable,
		Block:    f.Block,
		Express:  f.Express,
	}.Normalize()
}

var frameMode, _ = cbor.CanonicalEncOptions().EncMode()

func encodeFrame(f frame) ([]byte, error) {
	return frameMode.Marshal(f)
}

func decodeFrame(data string) (frame, error) {
	var f frame
	err := cbor.Unmarshal([]byte(data), &f)
	return f, err
}

// 频道命名：<prefix>data:<key>、<prefix>query:<key>、<prefix>reply:<id>、<prefix>live:<key>
const (
	spaceData  = "data:"
	spaceQuery = "query:"
	spaceReply = "reply:"
	spaceLive  = "live:"
)

var globEscaper = strings.NewReplacer(`\`, `\\`, "[", `\[`, "]", `\]`, "?", `\?`, "*", `\*`)

// globOf 把路由键转换为 Redis glob：通配分段变成 "*"，其余字符转义
//
// Redis 的 "*" 会跨越 "/"，所以返回的 pattern 比路由键宽，收到后仍需 transport.Match 过滤。
func globOf(key string) string {
	chunks := strings.Split(key, "/")
	for i, c := range chunks {
		if c == "*" || c == "**" {
			chunks[i] = "*"
			continue
		}
		chunks[i] = globEscaper.Replace(c)
	}
	return strings.Join(chunks, "/")
}
