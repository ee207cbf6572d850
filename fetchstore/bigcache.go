package fetchstore

import (
	"context"
	"fmt"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/streammap"
	"github.com/unkn0wn-root/streammap/codec"
)

// BigCache returns a per-key fault handler answering fetches from an
// in-process BigCache instance.
func BigCache[V any](cache *bc.BigCache, ns string, c codec.Codec[V]) streammap.FaultFunc[string, V] {
	return func(_ context.Context, key string) (V, error) {
		var zero V
		b, err := cache.Get(storageKey(ns, key))
		if err == bc.ErrEntryNotFound {
			return zero, fmt.Errorf("%w: %q", ErrNotFound, key)
		}
		if err != nil {
			return zero, err
		}
		v, err := c.Decode(b)
		if err != nil {
			return zero, decodeErr(key, err)
		}
		return v, nil
	}
}
