package codec

import "google.golang.org/protobuf/proto"

// Protobuf serializes generated proto messages. T is a pointer message type;
// ctor allocates the fresh message Decode unmarshals into:
//
//	codec.NewProtobuf(func() *pb.User { return &pb.User{} })
type Protobuf[T proto.Message] struct {
	ctor func() T
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{ctor: ctor}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) { return proto.Marshal(v) }

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.ctor()
	err := proto.Unmarshal(b, m)
	return m, err
}
