package codec

import "fmt"

// LimitCodec rejects payloads longer than MaxDecode before handing them to
// the wrapped codec. Bytes coming back from a shared store are external
// input; the bound caps what a single oversized entry can make Decode chew
// on. Encode is forwarded unchanged. MaxDecode <= 0 disables the check.
type LimitCodec[V any] struct {
	Inner     Codec[V]
	MaxDecode int
}

var _ Codec[string] = LimitCodec[string]{}

func (c LimitCodec[V]) Encode(v V) ([]byte, error) { return c.Inner.Encode(v) }

func (c LimitCodec[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("codec: payload %d bytes exceeds limit %d", len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
