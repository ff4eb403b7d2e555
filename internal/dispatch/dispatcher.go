// Package dispatch owns the asynchronous task queue that performs
// protocol-message handling. Inbound messages become independent tasks;
// the outbound transport manager and the admin server borrow the same
// queue for their background work.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/parleylabs/parley/internal/config"
	"github.com/parleylabs/parley/internal/stats"
	"github.com/parleylabs/parley/internal/transport"
)

// Responder is the callback a message handler uses to send a reply. The
// conductor's outbound router satisfies this signature; it never returns
// an error because undeliverable messages are dropped, not surfaced.
type Responder func(ctx context.Context, conCtx *config.Context, outbound *transport.OutboundMessage, inbound *transport.InboundMessage)

// Handler processes one decoded protocol message.
type Handler func(ctx context.Context, conCtx *config.Context, env *Envelope, inbound *transport.InboundMessage, respond Responder) error

// Envelope is the decoded outer frame of a protocol message.
type Envelope struct {
	Type   string          `json:"@type"`
	ID     string          `json:"@id"`
	Thread *ThreadDecor    `json:"~thread,omitempty"`
	Raw    json.RawMessage `json:"-"`
}

// ThreadDecor carries threading metadata.
type ThreadDecor struct {
	ThreadID       string `json:"thid,omitempty"`
	ParentThreadID string `json:"pthid,omitempty"`
}

// Dispatcher schedules inbound-message handling on the task queue and
// exposes the queue to collaborators that need background execution.
type Dispatcher struct {
	context   *config.Context
	queue     *TaskQueue
	collector *stats.Collector
	logger    *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// New creates a Dispatcher bound to the injection context. The queue's
// concurrency cap comes from the dispatch.max_active setting (default 50).
func New(conCtx *config.Context, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		context:  conCtx,
		queue:    NewTaskQueue(conCtx.Settings.GetInt("dispatch.max_active", 50)),
		logger:   logger.With("component", "dispatcher"),
		handlers: make(map[string]Handler),
	}
	if c, ok := conCtx.Injector.Resolve(config.CapCollector); ok {
		d.collector, _ = c.(*stats.Collector)
	}
	registerBuiltinHandlers(d)
	return d
}

// RegisterHandler binds a handler to a message type, replacing any prior
// registration.
func (d *Dispatcher) RegisterHandler(msgType string, h Handler) {
	d.mu.Lock()
	d.handlers[msgType] = h
	d.mu.Unlock()
}

// QueueMessage schedules asynchronous handling of one inbound message.
// Exactly one task is enqueued per call; the message is not copied or
// deduplicated. onComplete, when non-nil, runs after handling with the
// handler's error (nil on success).
func (d *Dispatcher) QueueMessage(msg *transport.InboundMessage, respond Responder, onComplete func(error)) {
	name := "handle " + msg.MessageID
	d.queue.Run(context.Background(), name, func(ctx context.Context) error {
		return d.HandleMessage(ctx, msg, respond)
	}, onComplete)
}

// RunTask schedules a named background task on the shared queue. The
// outbound transport manager uses this handle for its sends.
func (d *Dispatcher) RunTask(name string, fn func(context.Context) error) {
	d.queue.Run(context.Background(), name, fn, func(err error) {
		if err != nil {
			d.logger.Error("background task failed", "task", name, "error", err)
		}
	})
}

// PutTask schedules an anonymous background task. The admin server uses
// this handle for webhook emission.
func (d *Dispatcher) PutTask(fn func(context.Context) error) {
	d.RunTask("task", fn)
}

// HandleMessage decodes the message envelope and invokes the registered
// handler for its type.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg *transport.InboundMessage, respond Responder) error {
	if d.collector != nil {
		defer d.collector.Timer("dispatch.HandleMessage")()
		d.collector.Count("dispatch.messages")
	}

	env, err := DecodeEnvelope(msg.Payload)
	if err != nil {
		return fmt.Errorf("decode message %s: %w", msg.MessageID, err)
	}

	d.mu.RLock()
	handler, ok := d.handlers[env.Type]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no handler registered for message type %q", env.Type)
	}

	d.logger.Debug("handling message",
		"id", msg.MessageID,
		"type", env.Type,
		"transport", msg.Receipt.TransportType,
	)
	return handler(ctx, d.context, env, msg, respond)
}

// Active returns the number of handler tasks currently executing.
func (d *Dispatcher) Active() int { return d.queue.Active() }

// Pending returns the number of tasks waiting for a slot.
func (d *Dispatcher) Pending() int { return d.queue.Pending() }

// DecodeEnvelope parses the outer frame of a protocol message.
func DecodeEnvelope(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	if env.Type == "" {
		return nil, fmt.Errorf("message has no @type")
	}
	env.Raw = json.RawMessage(payload)
	return &env, nil
}
