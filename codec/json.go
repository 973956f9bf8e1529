package codec

import (
	"encoding/json"
)

type jsonCodec struct{}

// JSON 返回 JSON 编解码器。Content-Type: application/json
func JSON() Codec { return jsonCodec{} }

// JSONOf 返回 T 的 JSON 编码器
func JSONOf[T any]() Encoder[T] { return For[T](JSON()) }

func (jsonCodec) ContentType() string                { return "application/json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
