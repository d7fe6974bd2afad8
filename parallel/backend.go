package parallel

import (
	"context"
	"encoding/json"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TaskFunc is the unit of dispatchable work. Arguments and results cross the
// backend boundary as bytes; typed callers layer a codec on top (see
// PutJSON/GetJSON and the map-reduce helpers).
type TaskFunc func(ctx context.Context, args []byte) ([]byte, error)

// ObjectRef is a handle to a value broadcast once into the backend's shared
// storage. A ref is valid only for the lifetime of the session that created
// it; resolving it after Shutdown fails with ErrResourceUnavailable.
type ObjectRef struct {
	id string
}

// ID returns the opaque identifier of the reference.
func (r ObjectRef) ID() string { return r.id }

func (r ObjectRef) String() string { return "objectref:" + r.id }

// RefFromID reconstructs a reference from its identifier, e.g. on a worker
// that received the id inside task arguments.
func RefFromID(id string) ObjectRef { return ObjectRef{id: id} }

// Backend abstracts how work is dispatched: an in-process worker pool or a
// cluster of remote workers. Go cannot ship closures across processes, so
// remote invocation is by registered name: workers Register handlers and the
// orchestrator Wraps a name into an invoking TaskFunc. Callers must not
// assume resource limits beyond NumWorkers; admission control inside the
// backend is its own concern.
type Backend interface {
	// Executor opens a scoped futures executor. All work submitted through
	// it is completed, failed, or cancelled by the time Close returns.
	Executor(opts ...ExecOption) (*Executor, error)

	// Put broadcasts a value once into shared storage and returns a handle.
	// Large shared state (e.g. a dataset) is put once and referenced from
	// many tasks instead of being re-serialized per task.
	Put(ctx context.Context, value []byte) (ObjectRef, error)

	// Get resolves a reference, blocking until the value is available or ctx
	// expires.
	Get(ctx context.Context, ref ObjectRef) ([]byte, error)

	// NumWorkers reports the declared worker count.
	NumWorkers() int

	// Register binds a task name to a handler executed by this session's
	// workers.
	Register(name string, fn TaskFunc) error

	// Wrap returns a TaskFunc that invokes the named registered handler
	// through this backend.
	Wrap(name string) TaskFunc

	// Shutdown tears the session down. Outstanding object references die
	// with it and every later call fails with ErrResourceUnavailable.
	Shutdown(ctx context.Context) error
}

// TargetLocal selects the in-process backend.
const TargetLocal = "local"

// Config controls backend construction.
type Config struct {
	// Workers bounds concurrent task execution. Defaults to GOMAXPROCS.
	Workers int

	// Logger receives degraded-path and lifecycle events.
	Logger *zap.Logger

	// Subject is the NATS subject prefix for task dispatch.
	Subject string

	// Bucket is the JetStream key-value bucket for broadcast objects.
	Bucket string

	// RequestTimeout bounds a single remote task round-trip.
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Subject == "" {
		c.Subject = "parcache.tasks"
	}
	if c.Bucket == "" {
		c.Bucket = "parcache-objects"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Minute
	}
	return c
}

// Option mutates Config.
type Option func(*Config)

// WithWorkers sets the declared worker count.
func WithWorkers(n int) Option {
	return func(c *Config) { c.Workers = n }
}

// WithBackendLogger sets the backend logger.
func WithBackendLogger(logger *zap.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithSubject sets the NATS subject prefix for task dispatch.
func WithSubject(subject string) Option {
	return func(c *Config) { c.Subject = subject }
}

// WithBucket sets the JetStream bucket holding broadcast objects.
func WithBucket(bucket string) Option {
	return func(c *Config) { c.Bucket = bucket }
}

// WithRequestTimeout bounds a single remote task round-trip.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Config) { c.RequestTimeout = d }
}

// Connect establishes a backend session. Target "local" builds an in-process
// pool with the configured worker count; anything else is treated as a NATS
// URL joining an existing cluster. The session is explicit state: pass it to
// dependents and Shutdown it when done.
func Connect(ctx context.Context, target string, opts ...Option) (Backend, error) {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	if strings.EqualFold(target, TargetLocal) {
		return newLocalBackend(cfg), nil
	}
	return connectCluster(ctx, target, cfg)
}

// PutJSON broadcasts a typed value through b.
func PutJSON[T any](ctx context.Context, b Backend, value T) (ObjectRef, error) {
	body, err := json.Marshal(value)
	if err != nil {
		return ObjectRef{}, err
	}
	return b.Put(ctx, body)
}

// GetJSON resolves a reference into a typed value.
func GetJSON[T any](ctx context.Context, b Backend, ref ObjectRef) (T, error) {
	var out T
	body, err := b.Get(ctx, ref)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, err
	}
	return out, nil
}
