package parallel

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// localBackend dispatches work to an in-process pool. Object put/get is a
// pass-through registry: values are already locally addressable, so a ref is
// just a handle into session-scoped memory.
type localBackend struct {
	workers int
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	closed  bool
	tasks   map[string]TaskFunc
	objects map[string][]byte
}

func newLocalBackend(cfg Config) *localBackend {
	ctx, cancel := context.WithCancel(context.Background())
	return &localBackend{
		workers: cfg.Workers,
		logger:  cfg.Logger,
		ctx:     ctx,
		cancel:  cancel,
		tasks:   make(map[string]TaskFunc),
		objects: make(map[string][]byte),
	}
}

func (b *localBackend) Executor(opts ...ExecOption) (*Executor, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrResourceUnavailable
	}
	return newExecutor(b.ctx, b.workers, opts...), nil
}

func (b *localBackend) Put(_ context.Context, value []byte) (ObjectRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ObjectRef{}, ErrResourceUnavailable
	}
	id := uuid.NewString()
	clone := make([]byte, len(value))
	copy(clone, value)
	b.objects[id] = clone
	return ObjectRef{id: id}, nil
}

func (b *localBackend) Get(_ context.Context, ref ObjectRef) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrResourceUnavailable
	}
	value, ok := b.objects[ref.id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownObject, ref.id)
	}
	clone := make([]byte, len(value))
	copy(clone, value)
	return clone, nil
}

func (b *localBackend) NumWorkers() int { return b.workers }

func (b *localBackend) Register(name string, fn TaskFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrResourceUnavailable
	}
	if name == "" || fn == nil {
		return fmt.Errorf("parallel: register requires a name and a handler")
	}
	b.tasks[name] = fn
	return nil
}

// Wrap resolves the registered handler at call time, so registration order
// relative to wrapping does not matter.
func (b *localBackend) Wrap(name string) TaskFunc {
	return func(ctx context.Context, args []byte) ([]byte, error) {
		b.mu.RLock()
		if b.closed {
			b.mu.RUnlock()
			return nil, ErrResourceUnavailable
		}
		fn, ok := b.tasks[name]
		b.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTask, name)
		}
		return fn(ctx, args)
	}
}

func (b *localBackend) Shutdown(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.cancel()
	b.objects = nil
	b.logger.Debug("local backend shut down")
	return nil
}
