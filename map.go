package streammap

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/streammap/multicast"
)

// handlerSet is one consistent snapshot of the configured fetch handlers.
// At most one field is non-nil. Replacing handlers swaps the whole snapshot
// atomically, so a fetch in flight keeps the pair it started with.
type handlerSet[K comparable, V any] struct {
	single FaultFunc[K, V]
	multi  MultiFaultFunc[K, V]
}

// entry is the per-key cache record. It collapses the three conceptual
// slots (weak observable, weak subject, strong subject) of the original
// design into one struct plus explicit reference counting:
//
//   - stream is the handle returned by Get/GetAll
//   - subject is nil until the first binding attaches
//   - strong marks the strong retain; cleared on every binding detach
//   - bindings counts live bindings; the entry is reclaimed when it
//     reaches zero after having attached
//
// All fields are guarded by subjectMap.mu. stream and subject are immutable
// once set and may be read outside the lock after a guarded lookup.
type entry[K comparable, V any] struct {
	stream   *Stream[K, V]
	subject  *multicast.Subject[V]
	strong   bool
	bindings int
}

// live reports whether the entry's subject can still receive values: it has
// been attached and is retained either strongly or by at least one binding.
func (e *entry[K, V]) live() bool {
	return e.subject != nil && (e.strong || e.bindings > 0)
}

// push marks the value-delivered flag before emitting so that a fetch result
// racing in later yields to this value.
func (e *entry[K, V]) push(v V) {
	e.stream.att.valueSeen.Store(true)
	e.subject.Next(v)
}

type subjectMap[K comparable, V any] struct {
	mu    sync.RWMutex
	slots map[K]*entry[K, V]

	faults      *multicast.Subject[K]
	multiFaults *multicast.Subject[[]K]

	handlers atomic.Pointer[handlerSet[K, V]]

	log     Logger
	hooks   Hooks
	baseCtx func() context.Context
}

func newSubjectMap[K comparable, V any](opts Options[K, V]) *subjectMap[K, V] {
	m := &subjectMap[K, V]{
		slots:       make(map[K]*entry[K, V]),
		faults:      multicast.NewSubject[K](),
		multiFaults: multicast.NewSubject[[]K](),
	}
	m.log = coalesce[Logger](opts.Logger, NopLogger{})
	m.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	if opts.BaseContext != nil {
		m.baseCtx = opts.BaseContext
	} else {
		m.baseCtx = context.Background
	}
	m.handlers.Store(&handlerSet[K, V]{
		single: opts.FaultHandler,
		multi:  opts.MultiFaultHandler,
	})
	return m
}

func (m *subjectMap[K, V]) SetFaultHandler(fn FaultFunc[K, V]) {
	m.handlers.Store(&handlerSet[K, V]{single: fn})
}

func (m *subjectMap[K, V]) SetMultiFaultHandler(fn MultiFaultFunc[K, V]) {
	m.handlers.Store(&handlerSet[K, V]{multi: fn})
}

func (m *subjectMap[K, V]) Faults() multicast.Source[K] { return m.faults }

func (m *subjectMap[K, V]) MultiFaults() multicast.Source[[]K] { return m.multiFaults }

// Get resolves the stream for key with the double-checked locking pattern:
// cheap shared-lock hit path, then release/reacquire exclusive and re-check
// before constructing. The lock is never upgraded in place.
func (m *subjectMap[K, V]) Get(key K) *Stream[K, V] {
	m.mu.RLock()
	if e, ok := m.slots[key]; ok {
		s := e.stream
		m.mu.RUnlock()
		return s
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// re-check: another goroutine may have constructed it in the window
	if e, ok := m.slots[key]; ok {
		return e.stream
	}
	return m.newStreamLocked(key, m.singleFetch())
}

// GetAll resolves the whole batch in one lock cycle. Keys that miss share a
// single coalescer, so a configured multi fault handler is called once with
// every missing key and results fan back out by position.
func (m *subjectMap[K, V]) GetAll(keys []K) []*Stream[K, V] {
	out := make([]*Stream[K, V], len(keys))
	remaining := len(keys)

	m.mu.RLock()
	for i, k := range keys {
		if e, ok := m.slots[k]; ok {
			out[i] = e.stream
			remaining--
		}
	}
	m.mu.RUnlock()
	if remaining == 0 {
		return out
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// re-check all misses under the exclusive lock; collect true misses
	// once each even when the request contains duplicates
	var missing []K
	seen := make(map[K]struct{})
	for i, k := range keys {
		if out[i] != nil {
			continue
		}
		if e, ok := m.slots[k]; ok {
			out[i] = e.stream
			continue
		}
		if _, dup := seen[k]; !dup {
			seen[k] = struct{}{}
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return out
	}

	snap := m.handlers.Load()
	if snap.multi != nil {
		batch := newBatchFetch(m, missing, snap.multi)
		for i, k := range missing {
			m.newStreamLocked(k, batch.fetchAt(i))
		}
	} else {
		for _, k := range missing {
			m.newStreamLocked(k, snap.single)
		}
	}

	for i, k := range keys {
		if out[i] == nil {
			out[i] = m.slots[k].stream
		}
	}
	return out
}

// singleFetch snapshots the handlers for a fresh single-key stream. When
// only a batched handler is configured, the key is fetched as a one-element
// batch that must come back with exactly one value.
func (m *subjectMap[K, V]) singleFetch() FaultFunc[K, V] {
	snap := m.handlers.Load()
	if snap.multi == nil {
		return snap.single
	}
	multi := snap.multi
	return func(ctx context.Context, key K) (V, error) {
		var zero V
		vs, err := multi(ctx, []K{key})
		if err != nil {
			return zero, err
		}
		if len(vs) != 1 {
			m.hooks.SizeMismatch(1, len(vs))
			return zero, &SizeMismatchError{Want: 1, Got: len(vs)}
		}
		return vs[0], nil
	}
}

// newStreamLocked constructs a fresh stream bound to key and inserts its
// entry. Caller must hold the write lock.
func (m *subjectMap[K, V]) newStreamLocked(key K, fetch FaultFunc[K, V]) *Stream[K, V] {
	e := &entry[K, V]{}
	att := &attach[K, V]{
		m:     m,
		key:   key,
		fetch: fetch,
		entry: e,
		ready: make(chan struct{}),
	}
	e.stream = &Stream[K, V]{att: att}
	m.slots[key] = e
	return e.stream
}

// attachSource creates the subject for key, retaining it strongly. Exactly
// one attach may be active per key at any instant; a second strong attach
// means the previous source was never torn down, which is internal misuse
// and not recoverable.
func (m *subjectMap[K, V]) attachSource(key K, e *entry[K, V]) *multicast.Subject[V] {
	m.mu.Lock()
	if cur, ok := m.slots[key]; ok && cur.strong {
		m.mu.Unlock()
		panic(fmt.Sprintf("streammap: source already attached for key %v", key))
	}
	subj := multicast.NewSubject[V]()
	e.subject = subj
	e.strong = true
	m.mu.Unlock()

	m.hooks.SourceAttached(key)
	m.log.Debug("source attached", Fields{"key": key})
	return subj
}

// detachSource releases one binding's retain on key. The strong slot is
// cleared on every detach, not only the last; the subject then stays live
// only through the remaining binding count. The entry itself is reclaimed
// when the count reaches zero after having attached.
func (m *subjectMap[K, V]) detachSource(key K, e *entry[K, V]) {
	m.mu.Lock()
	if cur, ok := m.slots[key]; ok {
		cur.strong = false
	}
	e.bindings--
	reclaimed := e.bindings <= 0 && e.subject != nil && m.slots[key] == e
	if reclaimed {
		delete(m.slots, key)
	}
	m.mu.Unlock()

	m.hooks.SourceDetached(key)
	m.log.Debug("binding detached", Fields{"key": key, "reclaimed": reclaimed})
}

func (m *subjectMap[K, V]) bindingAttached(e *entry[K, V]) {
	m.mu.Lock()
	e.bindings++
	m.mu.Unlock()
}

// entryLive reports whether e is still the current record for key and its
// subject can receive values.
func (m *subjectMap[K, V]) entryLive(key K, e *entry[K, V]) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slots[key] == e && e.live()
}

// disconnectEntry removes e's slots if e is still current for key. Used by
// terminal error paths so a later Get starts fresh.
func (m *subjectMap[K, V]) disconnectEntry(key K, e *entry[K, V]) {
	m.mu.Lock()
	if m.slots[key] == e {
		delete(m.slots, key)
	}
	m.mu.Unlock()
}

// emitUpdate looks up the live entry for key under the shared lock (or the
// exclusive lock when disconnecting, in which case the key's slots are
// removed before the lock is released) and then runs update outside any
// lock. miss runs when no live subject exists.
func (m *subjectMap[K, V]) emitUpdate(key K, update func(e *entry[K, V]), miss func(), disconnect bool) {
	var found *entry[K, V]

	if disconnect {
		m.mu.Lock()
	} else {
		m.mu.RLock()
	}
	if e, ok := m.slots[key]; ok && e.live() {
		found = e
	}
	if disconnect {
		delete(m.slots, key)
		m.mu.Unlock()
	} else {
		m.mu.RUnlock()
	}

	if found != nil {
		update(found)
	} else if miss != nil {
		miss()
	}
}

func (m *subjectMap[K, V]) Publish(key K, value V) {
	m.PublishWith(key, func() (V, error) { return value, nil }, nil)
}

// PublishWith computes the value only when key has a live subject. A
// provider error terminates the subject and removes the entry, like any
// other terminal error.
func (m *subjectMap[K, V]) PublishWith(key K, provider func() (V, error), miss func()) {
	m.emitUpdate(key, func(e *entry[K, V]) {
		v, err := provider()
		if err != nil {
			e.stream.att.valueSeen.Store(true)
			e.subject.Fail(err)
			m.disconnectEntry(key, e)
			m.log.Debug("publish provider failed", Fields{"key": key, "err": err})
			return
		}
		e.push(v)
	}, func() {
		m.hooks.PublishMiss(key)
		if miss != nil {
			miss()
		}
	}, false)
}

// PublishError terminates key's subject with err and removes the entry; a
// subsequent Get returns a new stream and faults the value in again.
func (m *subjectMap[K, V]) PublishError(key K, err error) {
	m.emitUpdate(key, func(e *entry[K, V]) {
		e.stream.att.valueSeen.Store(true)
		e.subject.Fail(err)
		m.log.Debug("published error", Fields{"key": key, "err": err})
	}, func() {
		m.hooks.PublishMiss(key)
	}, true)
}

func (m *subjectMap[K, V]) BoundKeys() []K {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]K, 0, len(m.slots))
	for k, e := range m.slots {
		if e.live() {
			keys = append(keys, k)
		}
	}
	return keys
}

// DetachAll completes every live subject and empties the map.
func (m *subjectMap[K, V]) DetachAll() {
	m.mu.Lock()
	lingering := make([]*multicast.Subject[V], 0, len(m.slots))
	for _, e := range m.slots {
		if e.live() {
			lingering = append(lingering, e.subject)
		}
	}
	m.slots = make(map[K]*entry[K, V])
	m.mu.Unlock()

	for _, subj := range lingering {
		subj.Complete()
	}
	m.hooks.DetachedAll(len(lingering))
	m.log.Debug("detached all", Fields{"completed": len(lingering)})
}

func (m *subjectMap[K, V]) emitFault(key K) {
	m.faults.Next(key)
	m.hooks.FaultEmitted(key)
	m.log.Debug("fault", Fields{"key": key})
}

func (m *subjectMap[K, V]) emitMultiFault(keys []K) {
	m.multiFaults.Next(keys)
	m.hooks.MultiFaultEmitted(len(keys))
	m.log.Debug("multi fault", Fields{"keys": len(keys)})
}
