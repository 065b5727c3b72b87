// Package middleware provides the built-in scoped wrappers LTQ workers
// install around task execution by default: MaxTries, MaxAge, and MaxRate.
// Each is grounded on the teacher repo's retry-counting, backoff, and
// token-bucket rate-limit logic, generalized from a single hardcoded policy
// into one read from TaskOptions per task.
package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/tclesius/ltq"
)

// MaxTries reads task.Options.MaxTries and msg.Ctx["tries"]. Before running,
// if tries >= MaxTries it rejects without entering the inner scope. After a
// retry signal from inside, it increments Ctx["tries"] before re-raising so
// the next attempt sees the updated count.
func MaxTries() ltq.Middleware {
	return func(ctx context.Context, task *ltq.Task, msg *ltq.Message, next ltq.Next) error {
		if task.Options.MaxTries > 0 && msg.Tries() >= task.Options.MaxTries {
			return ltq.Reject("max tries exceeded")
		}

		err := next(ctx, msg)
		if err == nil {
			return nil
		}

		if isRetry(err) {
			if msg.Ctx == nil {
				msg.Ctx = make(map[string]any)
			}
			msg.Ctx["tries"] = msg.Tries() + 1
		}
		return err
	}
}

// MaxAge rejects a Message before the body runs if it has been waiting
// longer than task.Options.MaxAge. A zero MaxAge means no age limit.
func MaxAge() ltq.Middleware {
	return func(ctx context.Context, task *ltq.Task, msg *ltq.Message, next ltq.Next) error {
		if task.Options.MaxAge > 0 && time.Since(msg.CreatedAt) > task.Options.MaxAge {
			return ltq.Reject("max age exceeded")
		}
		return next(ctx, msg)
	}
}

func isRetry(err error) bool {
	var re *ltq.RetryError
	return errors.As(err, &re)
}
