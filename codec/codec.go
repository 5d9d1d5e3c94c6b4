// Package codec provides pluggable (de)serialization of cached values.
package codec

// Codec converts values to and from the raw bytes kept in a store entry.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
