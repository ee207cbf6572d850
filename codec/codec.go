// Package codec provides pluggable (de)serialization for values fetched
// from byte-oriented fault stores (see package fetchstore).
package codec

// Codec encodes/decodes values V to []byte.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
