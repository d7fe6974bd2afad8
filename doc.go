// Package parcache memoizes expensive utility-function evaluations over
// subsets of a dataset. A MemoizedUtility wraps a scoring function with
// get-or-compute-and-store semantics on top of a pluggable Store: in-memory
// for threads in one process, on-disk for processes on one machine, redis or
// a NATS key-value bucket for workers across machines. Keys are stable
// fingerprints of the function's declared identity and its canonicalized
// arguments, so a hit computed by one worker is valid for any other. With
// WithSingleFlight enabled, concurrent misses on the same key elect one
// computer via a store-backed lock and the rest wait for its result.
//
// Cache failures are never correctness failures: a broken store only makes
// calls slower, not wrong.
package parcache
