package streammap

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/streammap/multicast"
)

// FaultFunc fetches the current value for a single key. It runs outside all
// map locks, on its own goroutine for binding-triggered faults.
type FaultFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// MultiFaultFunc fetches values for a batch of keys in one call. The result
// MUST have exactly one value per requested key, in request order; any other
// length fails the whole batch with a SizeMismatchError.
type MultiFaultFunc[K comparable, V any] func(ctx context.Context, keys []K) ([]V, error)

// Map is the keyed multicast value cache. All methods are safe for
// concurrent use from any goroutine.
type Map[K comparable, V any] interface {
	// Get returns the stream bound to key. While at least one binding is
	// alive, repeated calls return the identical handle. The first
	// subscription on a fresh handle emits a fault and starts a fetch.
	Get(key K) *Stream[K, V]

	// GetAll resolves a whole batch in one lock cycle. Keys missing from
	// the map share one coalescer, so a configured multi fault handler is
	// invoked once for all of them together.
	GetAll(keys []K) []*Stream[K, V]

	// SetFaultHandler installs a per-key fetch handler, clearing any multi
	// handler. SetMultiFaultHandler does the reverse. Latest call wins;
	// a fetch already in flight keeps the handler it started with.
	SetFaultHandler(fn FaultFunc[K, V])
	SetMultiFaultHandler(fn MultiFaultFunc[K, V])

	// Faults and MultiFaults are hot, replay-last streams of the keys
	// (resp. key batches) that needed fetching.
	Faults() multicast.Source[K]
	MultiFaults() multicast.Source[[]K]

	// FaultIfBound re-fetches key if its subject is currently live;
	// FaultAllBound does the same for every live key. Handler failures are
	// returned to the caller and are never pushed into subjects.
	FaultIfBound(ctx context.Context, key K) error
	FaultAllBound(ctx context.Context) error

	// Publish pushes value into key's live subject, if any. PublishWith
	// computes the value only on a hit and calls miss otherwise (miss may
	// be nil). PublishError terminates the subject and removes the entry,
	// so a later Get starts fresh.
	Publish(key K, value V)
	PublishWith(key K, provider func() (V, error), miss func())
	PublishError(key K, err error)

	// BoundKeys reports the keys whose subject is currently live.
	BoundKeys() []K

	// DetachAll completes every live subject and empties the map.
	DetachAll()
}

// Options tune the behavior of a Map. All fields are optional.
type Options[K comparable, V any] struct {
	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used

	// At most one of FaultHandler / MultiFaultHandler may be set; both can
	// also be installed later via the setters.
	FaultHandler      FaultFunc[K, V]
	MultiFaultHandler MultiFaultFunc[K, V]

	// BaseContext supplies the context for binding-triggered fetches.
	// Defaults to context.Background.
	BaseContext func() context.Context
}

func New[K comparable, V any](opts Options[K, V]) (Map[K, V], error) {
	if opts.FaultHandler != nil && opts.MultiFaultHandler != nil {
		return nil, fmt.Errorf("streammap: FaultHandler and MultiFaultHandler are mutually exclusive")
	}
	return newSubjectMap[K, V](opts), nil
}
