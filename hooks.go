package streammap

// Hooks are lightweight callbacks for high-signal events. Implementations
// MUST be cheap and non-blocking; the map calls them on hot paths, sometimes
// while a fetch or publish is in progress. Keys are passed as `any` so one
// Hooks implementation can serve maps of different key types.
type Hooks interface {
	// A fault was emitted on the single-key bus.
	FaultEmitted(key any)

	// A batched fault was emitted on the multi-key bus for n keys.
	MultiFaultEmitted(n int)

	// A fetch handler failed for a key. For binding-triggered fetches the
	// error also terminates the key's subject.
	FetchFailed(key any, err error)

	// A batched handler returned the wrong number of results.
	SizeMismatch(want, got int)

	// Publish/PublishWith/PublishError targeted a key with no live subject.
	PublishMiss(key any)

	// A subject was attached (first binding) / a binding detached.
	SourceAttached(key any)
	SourceDetached(key any)

	// DetachAll completed n live subjects.
	DetachedAll(n int)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) FaultEmitted(any)        {}
func (NopHooks) MultiFaultEmitted(int)   {}
func (NopHooks) FetchFailed(any, error)  {}
func (NopHooks) SizeMismatch(int, int)   {}
func (NopHooks) PublishMiss(any)         {}
func (NopHooks) SourceAttached(any)      {}
func (NopHooks) SourceDetached(any)      {}
func (NopHooks) DetachedAll(int)         {}
