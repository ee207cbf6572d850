package fetchstore

import (
	"context"
	"fmt"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/streammap"
	"github.com/unkn0wn-root/streammap/codec"
)

// Ristretto returns a per-key fault handler answering fetches from an
// in-process Ristretto cache. Entries must hold []byte values; anything
// else is treated as a miss.
func Ristretto[V any](cache *rc.Cache, ns string, c codec.Codec[V]) streammap.FaultFunc[string, V] {
	return func(_ context.Context, key string) (V, error) {
		var zero V
		raw, ok := cache.Get(storageKey(ns, key))
		if !ok {
			return zero, fmt.Errorf("%w: %q", ErrNotFound, key)
		}
		b, _ := raw.([]byte)
		if b == nil {
			return zero, fmt.Errorf("%w: %q", ErrNotFound, key)
		}
		v, err := c.Decode(b)
		if err != nil {
			return zero, decodeErr(key, err)
		}
		return v, nil
	}
}
