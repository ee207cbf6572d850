package streammap

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/streammap/multicast"
)

// attach phases. Exactly one subscription moves a fresh stream from
// unstarted to fetching; the transition to complete happens when the fetch
// goroutine finishes (or immediately, when no handler is configured).
const (
	phaseUnstarted int32 = iota
	phaseFetching
	phaseComplete
)

// attach owns the first-subscriber protocol for one fresh stream: the
// race-free fault trigger, the subject hand-off to concurrent early
// subscribers, and the exactly-once delivery of the fetched value.
type attach[K comparable, V any] struct {
	m     *subjectMap[K, V]
	key   K
	fetch FaultFunc[K, V] // handler snapshot taken at stream construction; may be nil
	entry *entry[K, V]

	phase   atomic.Int32
	ready   chan struct{} // closed once subject is set; followers block here
	subject *multicast.Subject[V]

	// valueSeen is set whenever any value reaches the subject. The fetch
	// result is delivered only if it wins the claim, so a value pushed by
	// a producer while the fetch is in flight is never overwritten.
	valueSeen atomic.Bool
}

// ensure runs the attach protocol and returns the subject. The winner of
// the atomic claim attaches the source, publishes the subject, emits the
// fault and starts the fetch; losers block until the subject is published.
// The wait is a channel receive, never a spin.
func (a *attach[K, V]) ensure() *multicast.Subject[V] {
	if a.phase.CompareAndSwap(phaseUnstarted, phaseFetching) {
		subj := a.m.attachSource(a.key, a.entry)
		a.subject = subj
		close(a.ready)
		a.m.emitFault(a.key)
		go a.runFetch()
		return subj
	}
	<-a.ready
	return a.subject
}

func (a *attach[K, V]) runFetch() {
	defer a.phase.Store(phaseComplete)
	fetch := a.fetch
	if fetch == nil {
		return
	}

	v, err := fetch(a.m.baseCtx(), a.key)
	if err != nil {
		a.m.hooks.FetchFailed(a.key, err)
		a.m.log.Error("fault fetch failed", Fields{"key": a.key, "err": err})
		a.subject.Fail(err)
		a.m.disconnectEntry(a.key, a.entry)
		return
	}
	if !a.valueSeen.CompareAndSwap(false, true) {
		// a producer beat the fetch; its value stands
		return
	}
	if a.m.entryLive(a.key, a.entry) {
		a.subject.Next(v)
	}
}

// Stream is the handle bound to one key. Handles are cached: every caller
// asking for the same live key receives the identical *Stream. A Stream is
// inert until subscribed; the first subscription triggers the fault fetch.
type Stream[K comparable, V any] struct {
	att *attach[K, V]
}

// Key returns the key this stream is bound to.
func (s *Stream[K, V]) Key() K { return s.att.key }

// Subscribe creates a binding. The first binding on a fresh stream attaches
// the subject, emits a fault and starts the fetch; concurrent early
// subscribers all observe that same in-flight fetch. Every binding sees the
// subject's most recent value immediately, then each later value or the
// terminal event.
func (s *Stream[K, V]) Subscribe() *Binding[V] {
	subj := s.att.ensure()
	s.att.m.bindingAttached(s.att.entry)
	sub := subj.Subscribe()
	att := s.att
	return &Binding[V]{
		sub:    sub,
		detach: func() { att.m.detachSource(att.key, att.entry) },
	}
}

// Binding is one live subscription to a Stream. Values arrive on Ch; when
// Ch closes, Err reports the terminal error (nil on completion or Cancel).
type Binding[V any] struct {
	sub    *multicast.Subscription[V]
	detach func()
	once   sync.Once
}

func (b *Binding[V]) Ch() <-chan V { return b.sub.Ch() }

func (b *Binding[V]) Err() error { return b.sub.Err() }

// Cancel synchronously stops delivery and releases this binding's retain on
// the key's source. An in-flight fetch for the key is not cancelled; its
// result is simply dropped if the subject is no longer alive when it lands.
// Safe to call more than once.
func (b *Binding[V]) Cancel() {
	b.once.Do(func() {
		b.sub.Cancel()
		b.detach()
	})
}
