package ltq

import "context"

// Fn is the callable a Task binds to a queue. It receives the deserialized
// args/kwargs from the Message that triggered it.
type Fn func(ctx context.Context, args []any, kwargs map[string]any) error

// Publisher is the slice of Broker a Task needs: just enough to send a
// Message without Task depending on the full broker.Broker interface (which
// lives in a separate package to avoid an import cycle with worker/broker).
// broker.Broker satisfies this structurally.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg Message, delayMillis int64) error
}

// Task binds a callable to a queue under a task_name of the form
// "{queue}:{function}". It holds no per-call state; Send and Message build
// a fresh Message each time they're called.
type Task struct {
	Name    string
	Queue   string
	Fn      Fn
	Options TaskOptions

	pub Publisher
}

// NewTask constructs a Task bound to pub, the broker it publishes through.
// Used by Worker.Register/RegisterQueue.
func NewTask(name, queue string, fn Fn, opts TaskOptions, pub Publisher) *Task {
	return &Task{Name: name, Queue: queue, Fn: fn, Options: opts, pub: pub}
}

// Message builds a Message for this task without publishing it. Used by the
// scheduler (which needs a prototype to re-stamp on each tick) and for bulk
// enqueue pipelines that want to batch publishes themselves.
func (t *Task) Message(args ...any) Message {
	return newMessage(t.Name, args, nil)
}

// MessageKw is Message plus keyword arguments.
func (t *Task) MessageKw(kwargs map[string]any, args ...any) Message {
	return newMessage(t.Name, args, kwargs)
}

// Send builds a Message and publishes it to the task's queue with zero
// delay. It returns nothing on success; there is no result channel.
func (t *Task) Send(ctx context.Context, args ...any) error {
	msg := t.Message(args...)
	return t.pub.Publish(ctx, t.Queue, msg, 0)
}

// SendKw is Send plus keyword arguments.
func (t *Task) SendKw(ctx context.Context, kwargs map[string]any, args ...any) error {
	msg := t.MessageKw(kwargs, args...)
	return t.pub.Publish(ctx, t.Queue, msg, 0)
}
