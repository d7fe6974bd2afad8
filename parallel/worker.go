package parallel

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// handle executes one inbound task on the worker side. Admission is bounded
// by the session's declared worker count so a burst of dispatches queues
// instead of saturating the process.
func (b *clusterBackend) handle(msg *nats.Msg, name string, fn TaskFunc) {
	select {
	case b.admit <- struct{}{}:
	case <-b.ctx.Done():
		return
	}
	defer func() { <-b.admit }()

	var task taskEnvelope
	if err := json.Unmarshal(msg.Data, &task); err != nil {
		b.respond(msg, replyEnvelope{Error: "malformed task envelope: " + err.Error()})
		return
	}

	value, err := fn(b.ctx, task.Args)
	if err != nil {
		b.logger.Debug("task failed",
			zap.String("task", name), zap.String("task_id", task.TaskID), zap.Error(err))
		b.respond(msg, replyEnvelope{Error: err.Error()})
		return
	}
	b.respond(msg, replyEnvelope{Value: value})
}

func (b *clusterBackend) respond(msg *nats.Msg, reply replyEnvelope) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		b.logger.Warn("encode reply failed", zap.Error(err))
		return
	}
	if err := b.conn.Publish(msg.Reply, data); err != nil {
		b.logger.Warn("send reply failed", zap.Error(err))
	}
}

// Server is implemented by backends that host registered task handlers in
// their own process.
type Server interface {
	// Serve blocks until the session is shut down.
	Serve()
}

// Serve blocks until the session is shut down. A dedicated worker process
// registers its handlers and then parks here; registered subscriptions run on
// NATS callbacks, so Serve only has to keep the process alive.
func (b *clusterBackend) Serve() {
	<-b.ctx.Done()
}
