package streammap

import (
	"context"
	"errors"
	"sync"
)

// batchFetch memoizes one multi-key fetch across every stream created for
// the same GetAll miss batch. The first binding to fault runs the fetch and
// emits the batched fault event; the rest block on the shared result and
// pick their value out by position.
type batchFetch[K comparable, V any] struct {
	m     *subjectMap[K, V]
	keys  []K
	multi MultiFaultFunc[K, V]

	once sync.Once
	done chan struct{}
	vals []V
	err  error
}

func newBatchFetch[K comparable, V any](m *subjectMap[K, V], keys []K, multi MultiFaultFunc[K, V]) *batchFetch[K, V] {
	return &batchFetch[K, V]{m: m, keys: keys, multi: multi, done: make(chan struct{})}
}

func (b *batchFetch[K, V]) fetchAt(i int) FaultFunc[K, V] {
	return func(ctx context.Context, _ K) (V, error) {
		b.once.Do(func() {
			defer close(b.done)
			b.run(ctx)
		})
		<-b.done

		var zero V
		if b.err != nil {
			return zero, b.err
		}
		return b.vals[i], nil
	}
}

func (b *batchFetch[K, V]) run(ctx context.Context) {
	b.m.emitMultiFault(b.keys)
	vs, err := b.multi(ctx, b.keys)
	if err == nil && len(vs) != len(b.keys) {
		b.m.hooks.SizeMismatch(len(b.keys), len(vs))
		b.m.log.Warn("multi fault size mismatch", Fields{"want": len(b.keys), "got": len(vs)})
		err = &SizeMismatchError{Want: len(b.keys), Got: len(vs)}
		vs = nil
	}
	b.vals, b.err = vs, err
}

// FaultIfBound re-emits a fault for key if its subject is currently live.
func (m *subjectMap[K, V]) FaultIfBound(ctx context.Context, key K) error {
	m.mu.RLock()
	var retained []K
	if e, ok := m.slots[key]; ok && e.live() {
		retained = []K{key}
	}
	m.mu.RUnlock()
	return m.processRetained(ctx, retained)
}

// FaultAllBound re-emits a fault for every key whose subject is currently
// live.
func (m *subjectMap[K, V]) FaultAllBound(ctx context.Context) error {
	m.mu.RLock()
	retained := make([]K, 0, len(m.slots))
	for k, e := range m.slots {
		if e.live() {
			retained = append(retained, k)
		}
	}
	m.mu.RUnlock()
	return m.processRetained(ctx, retained)
}

// processRetained fetches fresh values for a set of still-bound keys,
// entirely outside the table lock. Both fault buses see the set before the
// handler runs. Values land only in subjects that are still live when the
// fetch resolves; subjects that died in the interim are skipped silently.
// Handler failures are returned to the caller and never pushed into
// subjects.
func (m *subjectMap[K, V]) processRetained(ctx context.Context, retained []K) error {
	if len(retained) == 0 {
		return nil
	}

	for _, k := range retained {
		m.emitFault(k)
	}
	m.emitMultiFault(retained)

	snap := m.handlers.Load()
	switch {
	case snap.single != nil:
		errs := make([]error, len(retained))
		var wg sync.WaitGroup
		for i, k := range retained {
			wg.Add(1)
			go func(i int, k K) {
				defer wg.Done()
				v, err := snap.single(ctx, k)
				if err != nil {
					m.hooks.FetchFailed(k, err)
					errs[i] = err
					return
				}
				m.deliverRetained(k, v)
			}(i, k)
		}
		wg.Wait()
		return errors.Join(errs...)

	case snap.multi != nil:
		vs, err := snap.multi(ctx, retained)
		if err != nil {
			return err
		}
		if len(vs) != len(retained) {
			m.hooks.SizeMismatch(len(retained), len(vs))
			m.log.Warn("multi fault size mismatch", Fields{"want": len(retained), "got": len(vs)})
			return &SizeMismatchError{Want: len(retained), Got: len(vs)}
		}
		for i, k := range retained {
			m.deliverRetained(k, vs[i])
		}
		return nil

	default:
		return nil
	}
}

func (m *subjectMap[K, V]) deliverRetained(key K, v V) {
	m.mu.RLock()
	e, ok := m.slots[key]
	live := ok && e.live()
	m.mu.RUnlock()
	if live {
		e.push(v)
	}
}
