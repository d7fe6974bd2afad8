package parcache

import (
	"context"
	"time"
)

// nullStore disables caching: every read is a miss and writes are dropped.
// Callers degrade to direct computation without branching on configuration.
type nullStore struct {
	counter hitCounter
}

func newNullStore() Store { return &nullStore{} }

func (s *nullStore) Driver() Driver { return DriverNull }

func (s *nullStore) Get(context.Context, string) ([]byte, bool, error) {
	s.counter.record(false)
	return nil, false, nil
}

func (s *nullStore) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

func (s *nullStore) Add(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}

func (s *nullStore) Increment(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, nil
}

func (s *nullStore) Delete(context.Context, string) error { return nil }

func (s *nullStore) DeleteMany(context.Context, ...string) error { return nil }

func (s *nullStore) Flush(context.Context) error { return nil }

func (s *nullStore) Stats(context.Context) (Stats, error) {
	hits, misses := s.counter.snapshot()
	return Stats{Hits: hits, Misses: misses}, nil
}
