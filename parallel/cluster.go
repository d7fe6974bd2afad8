package parallel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ClusterConn captures the subset of nats.Conn used by the cluster backend.
type ClusterConn interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
	QueueSubscribe(subj, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
	Publish(subj string, data []byte) error
	Drain() error
	Close()
}

// ObjectBucket captures the subset of nats.KeyValue used for object broadcast.
type ObjectBucket interface {
	Get(key string) (nats.KeyValueEntry, error)
	Put(key string, value []byte) (uint64, error)
}

const workerQueue = "parcache-workers"

// taskEnvelope is the wire form of one dispatched task.
type taskEnvelope struct {
	TaskID string `json:"task_id"`
	Args   []byte `json:"args,omitempty"`
}

// replyEnvelope is the wire form of a task result.
type replyEnvelope struct {
	Value []byte `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// clusterBackend dispatches work to remote workers over NATS request/reply
// and broadcasts shared objects through a JetStream key-value bucket. The
// session is explicit: Connect establishes it, Shutdown tears it down, and
// references and executors do not outlive it.
type clusterBackend struct {
	conn    ClusterConn
	bucket  ObjectBucket
	subject string
	workers int
	timeout time.Duration
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// admit bounds concurrent handler execution on the worker side.
	admit chan struct{}

	mu     sync.RWMutex
	closed bool
	subs   []*nats.Subscription
}

func connectCluster(ctx context.Context, url string, cfg Config) (*clusterBackend, error) {
	conn, err := nats.Connect(url, nats.Name("parcache"))
	if err != nil {
		return nil, fmt.Errorf("parallel: connect cluster at %s: %w", url, err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("parallel: open jetstream: %w", err)
	}
	kv, err := js.KeyValue(cfg.Bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: cfg.Bucket})
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("parallel: open object bucket %q: %w", cfg.Bucket, err)
	}
	return newClusterBackend(conn, kv, cfg), nil
}

func newClusterBackend(conn ClusterConn, bucket ObjectBucket, cfg Config) *clusterBackend {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &clusterBackend{
		conn:    conn,
		bucket:  bucket,
		subject: cfg.Subject,
		workers: cfg.Workers,
		timeout: cfg.RequestTimeout,
		logger:  cfg.Logger,
		ctx:     ctx,
		cancel:  cancel,
		admit:   make(chan struct{}, cfg.Workers),
	}
}

func (b *clusterBackend) Executor(opts ...ExecOption) (*Executor, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrResourceUnavailable
	}
	return newExecutor(b.ctx, b.workers, opts...), nil
}

// Put serializes the value once into the shared bucket. Workers resolve the
// returned ref instead of receiving the value per task.
func (b *clusterBackend) Put(_ context.Context, value []byte) (ObjectRef, error) {
	if b.isClosed() {
		return ObjectRef{}, ErrResourceUnavailable
	}
	body, err := encodeObject(value)
	if err != nil {
		return ObjectRef{}, fmt.Errorf("parallel: encode object: %w", err)
	}
	id := uuid.NewString()
	if _, err := b.bucket.Put(id, body); err != nil {
		return ObjectRef{}, fmt.Errorf("parallel: broadcast object: %w", err)
	}
	return ObjectRef{id: id}, nil
}

// Get resolves ref, polling until the broadcast value materializes in the
// bucket or ctx expires. Visibility is bounded by a network round-trip.
func (b *clusterBackend) Get(ctx context.Context, ref ObjectRef) ([]byte, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if b.isClosed() {
			return nil, ErrResourceUnavailable
		}
		entry, err := b.bucket.Get(ref.id)
		if err == nil {
			return decodeObject(entry.Value())
		}
		if !errors.Is(err, nats.ErrKeyNotFound) {
			return nil, fmt.Errorf("parallel: resolve object %s: %w", ref.id, err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrUnknownObject, ref.id)
		case <-b.ctx.Done():
			return nil, ErrResourceUnavailable
		case <-ticker.C:
		}
	}
}

func (b *clusterBackend) NumWorkers() int { return b.workers }

// Register subscribes this session to the named task's subject as part of the
// shared worker queue group, making it one of the cluster's workers for that
// task.
func (b *clusterBackend) Register(name string, fn TaskFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrResourceUnavailable
	}
	if name == "" || fn == nil {
		return fmt.Errorf("parallel: register requires a name and a handler")
	}
	sub, err := b.conn.QueueSubscribe(b.taskSubject(name), workerQueue, func(msg *nats.Msg) {
		go b.handle(msg, name, fn)
	})
	if err != nil {
		return fmt.Errorf("parallel: subscribe task %q: %w", name, err)
	}
	b.subs = append(b.subs, sub)
	return nil
}

// Wrap returns a TaskFunc that ships the arguments to whichever worker the
// queue group selects and waits for its reply.
func (b *clusterBackend) Wrap(name string) TaskFunc {
	return func(ctx context.Context, args []byte) ([]byte, error) {
		if b.isClosed() {
			return nil, ErrResourceUnavailable
		}
		data, err := json.Marshal(taskEnvelope{TaskID: uuid.NewString(), Args: args})
		if err != nil {
			return nil, err
		}
		reqCtx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()
		msg, err := b.conn.RequestWithContext(reqCtx, b.taskSubject(name), data)
		if err != nil {
			return nil, fmt.Errorf("parallel: dispatch task %q: %w", name, err)
		}
		var reply replyEnvelope
		if err := json.Unmarshal(msg.Data, &reply); err != nil {
			return nil, fmt.Errorf("parallel: decode reply for task %q: %w", name, err)
		}
		if reply.Error != "" {
			return nil, errors.New(reply.Error)
		}
		return reply.Value, nil
	}
}

// Shutdown drains subscriptions and the connection. Object references created
// in this session die with it.
func (b *clusterBackend) Shutdown(context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	b.cancel()
	for _, sub := range subs {
		if err := sub.Drain(); err != nil {
			b.logger.Warn("drain subscription failed", zap.Error(err))
		}
	}
	if err := b.conn.Drain(); err != nil {
		b.logger.Warn("drain connection failed", zap.Error(err))
	}
	b.conn.Close()
	b.logger.Debug("cluster backend shut down")
	return nil
}

func (b *clusterBackend) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

func (b *clusterBackend) taskSubject(name string) string {
	return b.subject + "." + name
}
