// Package streammap implements a keyed, lazily-populated, multicast value
// cache. For any key it hands out a subscribable stream: every caller asking
// for the same key gets the same live stream while anyone is bound to it,
// the first binding triggers an on-demand "fault" fetch for the key, and
// producers can push values or errors into every current binding without the
// bindings knowing a fetch occurred.
//
// Components:
//   - Map[K,V]: the public surface. Get/GetAll resolve streams, Publish*
//     feed producer updates in, Faults/MultiFaults expose the fault buses,
//     FaultIfBound/FaultAllBound re-request values for bound keys.
//   - multicast.Subject: the per-key push point. Hot, replay-last, with
//     keep-latest backpressure per subscriber.
//   - FaultFunc / MultiFaultFunc: the fetch contract. Package fetchstore
//     provides implementations backed by Redis, BigCache and Ristretto.
//
// Lifecycle per key:
//
//	Get(k)            -> stream handle cached until reclaimed
//	first Subscribe   -> subject attached, fault emitted, fetch started
//	Cancel (each)     -> strong retain dropped; entry reclaimed when the
//	                     last binding cancels
//	PublishError(k)   -> terminal error, entry removed; next Get starts fresh
//	DetachAll()       -> every live subject completed, map emptied
package streammap
