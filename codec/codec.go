// Package codec 消息编解码
//
// Codec 是与类型无关的编解码器（JSON、YAML、CBOR、Protobuf），
// Encoder[T] 把它绑定到具体消息类型，供 topic / endpoint 的类型化包装使用。
package codec

import (
	"fmt"
	"reflect"
	"strings"
)

// Codec 与类型无关的编解码器
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Encoder 绑定到消息类型 T 的编解码器；实现必须并发安全
type Encoder[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
	ContentType() string
}

// typed 把 Codec 适配为 Encoder[T]
type typed[T any] struct {
	c Codec
}

// For 用给定 Codec 构造 T 的编码器
func For[T any](c Codec) Encoder[T] {
	return typed[T]{c: c}
}

func (t typed[T]) ContentType() string { return t.c.ContentType() }

func (t typed[T]) Encode(v T) ([]byte, error) {
	return t.c.Marshal(v)
}

func (t typed[T]) Decode(data []byte) (T, error) {
	var v T
	if err := t.c.Unmarshal(data, &v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// TypeName 返回 T 的可读类型名，用于消息信封
func TypeName[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() == reflect.Pointer && t.Elem().Name() != "" {
		return "*" + qualified(t.Elem())
	}
	return qualified(t)
}

func qualified(t reflect.Type) string {
	if t.PkgPath() == "" {
		return t.String()
	}
	return fmt.Sprintf("%s.%s", t.PkgPath(), t.Name())
}

// Registry 按 content type 或简称（json、yaml、cbor、protobuf）索引 Codec
type Registry struct {
	byType map[string]Codec
	alias  map[string]string
}

// NewRegistry 预置 JSON、YAML、CBOR、Protobuf
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[string]Codec), alias: make(map[string]string)}
	r.Register("json", JSON())
	r.Register("yaml", YAML())
	r.Register("cbor", CBOR())
	r.Register("protobuf", Proto())
	return r
}

// Register 以 content type 与简称注册 Codec，同名覆盖
func (r *Registry) Register(name string, c Codec) {
	r.byType[c.ContentType()] = c
	if name != "" {
		r.alias[strings.ToLower(name)] = c.ContentType()
	}
}

// Get 按 content type 或简称查找，未找到返回 nil
func (r *Registry) Get(name string) Codec {
	if c, ok := r.byType[name]; ok {
		return c
	}
	return r.byType[r.alias[strings.ToLower(name)]]
}

// Lookup 同 Get，未找到时返回错误
func (r *Registry) Lookup(name string) (Codec, error) {
	if c := r.Get(name); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("codec: unknown encoding %q", name)
}
