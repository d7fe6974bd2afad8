// Package parallel abstracts how utility evaluations are dispatched: an
// in-process worker pool or a cluster of workers joined over NATS. Both
// variants share one concurrency core, the bounded futures Executor, with two
// surfaces on top: incremental Submit/Map with per-future cancellation, and
// the batch map-reduce Job with whole-job failure semantics.
//
// Sessions are explicit. Connect establishes a backend, Shutdown tears it
// down, and object references broadcast through a session die with it.
package parallel
