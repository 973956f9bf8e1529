package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

type protoCodec struct {
	mo proto.MarshalOptions
	uo proto.UnmarshalOptions
}

// Proto 返回确定性 Protobuf 编解码器。Content-Type: application/x-protobuf
func Proto() Codec {
	return protoCodec{
		mo: proto.MarshalOptions{Deterministic: true},
		uo: proto.UnmarshalOptions{DiscardUnknown: true},
	}
}

func (p protoCodec) ContentType() string { return "application/x-protobuf" }

func (p protoCodec) Marshal(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("protobuf: value does not implement proto.Message: %T", v)
	}
	return p.mo.Marshal(msg)
}

func (p protoCodec) Unmarshal(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("protobuf: target does not implement proto.Message: %T", v)
	}
	return p.uo.Unmarshal(data, msg)
}

// protoTyped 是 T 为生成消息指针类型（如 *pb.Status）时的编码器
type protoTyped[T proto.Message] struct {
	p protoCodec
}

// ProtoOf 返回生成消息类型 T 的 Protobuf 编码器
func ProtoOf[T proto.Message]() Encoder[T] {
	return protoTyped[T]{p: Proto().(protoCodec)}
}

func (t protoTyped[T]) ContentType() string { return t.p.ContentType() }

func (t protoTyped[T]) Encode(v T) ([]byte, error) {
	return t.p.mo.Marshal(v)
}

func (t protoTyped[T]) Decode(data []byte) (T, error) {
	var zero T
	msg, ok := zero.ProtoReflect().New().Interface().(T)
	if !ok {
		return zero, fmt.Errorf("protobuf: cannot instantiate %T", zero)
	}
	if err := t.p.uo.Unmarshal(data, msg); err != nil {
		return zero, err
	}
	return msg, nil
}
