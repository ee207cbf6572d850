// Package multicast provides a hot, multi-subscriber value stream with
// replay-last semantics and keep-latest backpressure.
//
// A Subject fans each pushed value out to every current subscription. A
// subscriber that falls behind does not queue values: its mailbox holds only
// the most recent undelivered value, so slow consumers skip intermediate
// emissions and always converge on the latest. New subscriptions immediately
// observe the most recently pushed value, if any.
//
// Fail and Complete are terminal: after either, Next is a no-op and new
// subscriptions observe only the terminal state.
package multicast

import "sync"

// Source is the read-only view of a Subject. Consumers that should only be
// able to subscribe (never push) receive a Source.
type Source[V any] interface {
	Subscribe() *Subscription[V]
}

// Subject is the push side of the stream. The zero value is not usable;
// construct with NewSubject. Safe for concurrent use.
type Subject[V any] struct {
	mu       sync.Mutex
	subs     map[*Subscription[V]]struct{}
	last     *V
	terminal bool
	err      error
}

func NewSubject[V any]() *Subject[V] {
	return &Subject[V]{subs: make(map[*Subscription[V]]struct{})}
}

// Next pushes a value to all current subscriptions and records it for
// replay to future subscribers. No-op after Fail or Complete.
//
// Values are delivered to every subscription in the order Next was called;
// a single lock serializes publishers, so no two subscribers ever observe
// the same pair of values in a different order.
func (s *Subject[V]) Next(v V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal {
		return
	}
	s.last = &v
	for sub := range s.subs {
		sub.offer(v)
	}
}

// Fail terminates the stream with err. Each subscription delivers any
// pending value first, then closes with Err() == err.
func (s *Subject[V]) Fail(err error) {
	s.terminate(err)
}

// Complete terminates the stream normally. Each subscription delivers any
// pending value first, then closes with Err() == nil.
func (s *Subject[V]) Complete() {
	s.terminate(nil)
}

func (s *Subject[V]) terminate(err error) {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return
	}
	s.terminal = true
	s.err = err
	subs := make([]*Subscription[V], 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = make(map[*Subscription[V]]struct{})
	s.mu.Unlock()

	for _, sub := range subs {
		sub.finish(err)
	}
}

// Subscribe registers a new subscription. If the subject already holds a
// value it is replayed immediately; if the subject has terminated the
// subscription's channel is closed right away with the terminal error.
func (s *Subject[V]) Subscribe() *Subscription[V] {
	sub := &Subscription[V]{
		subj:   s,
		out:    make(chan V),
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.terminal {
		sub.err = s.err
		s.mu.Unlock()
		close(sub.out)
		return sub
	}
	s.subs[sub] = struct{}{}
	if s.last != nil {
		sub.pending = s.last
	}
	s.mu.Unlock()

	if sub.pending != nil {
		sub.signal()
	}
	go sub.pump()
	return sub
}

func (s *Subject[V]) unsubscribe(sub *Subscription[V]) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

// Subscription is one consumer's view of a Subject. Values arrive on Ch;
// when Ch closes, Err reports nil for normal completion or the terminal
// error. Cancel detaches without waiting for a terminal event.
type Subscription[V any] struct {
	subj *Subject[V]
	out  chan V

	notify chan struct{} // cap 1, coalesced wakeup
	stop   chan struct{}

	mu       sync.Mutex
	pending  *V
	terminal bool
	err      error

	stopOnce sync.Once
}

// Ch returns the delivery channel. It is closed on completion, error, or
// Cancel. Only the latest undelivered value is retained while the consumer
// is not reading.
func (s *Subscription[V]) Ch() <-chan V { return s.out }

// Err reports the terminal error. Valid once Ch has been closed: nil means
// normal completion or cancellation.
func (s *Subscription[V]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel synchronously detaches from the subject. No further values are
// delivered after Cancel returns; Ch is closed shortly after. Safe to call
// more than once.
func (s *Subscription[V]) Cancel() {
	if s.subj != nil {
		s.subj.unsubscribe(s)
	}
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Subscription[V]) offer(v V) {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return
	}
	s.pending = &v // keep-latest: overwrite anything undelivered
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription[V]) finish(err error) {
	s.mu.Lock()
	s.terminal = true
	s.err = err
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription[V]) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pump is the sole writer of out. It drains the mailbox on each wakeup,
// delivering the latest pending value and then the terminal state, if any.
func (s *Subscription[V]) pump() {
	for {
		select {
		case <-s.notify:
		case <-s.stop:
			close(s.out)
			return
		}

		for {
			s.mu.Lock()
			v := s.pending
			s.pending = nil
			term := s.terminal
			s.mu.Unlock()

			if v != nil {
				select {
				case s.out <- *v:
				case <-s.stop:
					close(s.out)
					return
				}
				// a newer value or a terminal may have landed while
				// we were blocked on the send
				continue
			}
			if term {
				close(s.out)
				return
			}
			break
		}
	}
}
