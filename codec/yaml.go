package codec

import (
	"gopkg.in/yaml.v3"
)

type yamlCodec struct{}

// YAML 返回 YAML 编解码器。Content-Type: application/yaml
func YAML() Codec { return yamlCodec{} }

// YAMLOf 返回 T 的 YAML 编码器
func YAMLOf[T any]() Encoder[T] { return For[T](YAML()) }

func (yamlCodec) ContentType() string                { return "application/yaml" }
func (yamlCodec) Marshal(v any) ([]byte, error)      { return yaml.Marshal(v) }
func (yamlCodec) Unmarshal(data []byte, v any) error { return yaml.Unmarshal(data, v) }
