package ltq

import "context"

// Next is the inner scope a Middleware invokes to continue the pipeline.
// Calling it runs the next middleware, or the task body if this is the
// innermost layer.
type Next func(ctx context.Context, msg *Message) error

// Middleware is a scoped wrapper around the execution of one Message: it is
// entered before the task body runs and exited after, with the body (or the
// next middleware) invoked via next in between. It may read and mutate
// msg.Ctx, and may return a *RetryError or *RejectError (or any other error)
// without calling next to short-circuit the pipeline.
type Middleware func(ctx context.Context, task *Task, msg *Message, next Next) error

// Chain composes an ordered middleware stack around body so that mws[0] is
// outermost and mws[len-1] is innermost, with body running inside the
// innermost middleware. Entry order is mws[0]..mws[n-1]; exit order is the
// reverse, since each middleware's own return path unwinds after its call
// to next returns. task is threaded through to every middleware since the
// built-ins (MaxTries/MaxAge/MaxRate) read task.Options and task.Name.
func Chain(mws []Middleware, task *Task, body Next) Next {
	next := body
	for i := len(mws) - 1; i >= 0; i-- {
		mw := mws[i]
		inner := next
		next = func(ctx context.Context, msg *Message) error {
			return mw(ctx, task, msg, inner)
		}
	}
	return next
}
