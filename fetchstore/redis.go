package fetchstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/streammap"
	"github.com/unkn0wn-root/streammap/codec"
)

// Redis returns a per-key fault handler answering fetches with GET.
func Redis[V any](client redis.UniversalClient, ns string, c codec.Codec[V]) streammap.FaultFunc[string, V] {
	return func(ctx context.Context, key string) (V, error) {
		var zero V
		b, err := client.Get(ctx, storageKey(ns, key)).Bytes()
		if err == redis.Nil {
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

// RedisMulti returns a batched fault handler answering fetches with one
// MGET per batch. The result is positional, one value per requested key;
// any absent key fails the whole batch with ErrNotFound.
func RedisMulti[V any](client redis.UniversalClient, ns string, c codec.Codec[V]) streammap.MultiFaultFunc[string, V] {
	return func(ctx context.Context, keys []string) ([]V, error) {
		if len(keys) == 0 {
			return nil, nil
		}
		storage := make([]string, len(keys))
		for i, k := range keys {
			storage[i] = storageKey(ns, k)
		}
		raw, err := client.MGet(ctx, storage...).Result()
		if err != nil {
			return nil, err
		}

		out := make([]V, len(keys))
		for i, item := range raw {
			if item == nil {
				return nil, fmt.Errorf("%w: %q", ErrNotFound, keys[i])
			}
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("fetchstore: unexpected MGET reply type %T at %q", item, keys[i])
			}
			v, err := c.Decode([]byte(s))
			if err != nil {
				return nil, decodeErr(keys[i], err)
			}
			out[i] = v
		}
		return out, nil
	}
}
