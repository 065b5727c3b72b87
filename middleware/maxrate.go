package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/tclesius/ltq"
)

// bucket is one task_name's token bucket: capacity N tokens refilled at a
// rate of N per window, mirroring the teacher's Redis Lua token-bucket
// script (pkg/queue/client.go Allow) but kept in-process since MaxRate
// state is scoped to one Worker, not shared across processes.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newBucket(rate ltq.ParsedRate) *bucket {
	return &bucket{
		tokens:     float64(rate.N),
		capacity:   float64(rate.N),
		refillRate: float64(rate.N) / rate.Window.Seconds(),
		lastRefill: time.Now(),
	}
}

// take attempts to consume one token. On success it returns true. On
// failure it returns false and the duration until a token will next be
// available.
func (b *bucket) take() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = min(b.capacity, b.tokens+elapsed*b.refillRate)
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}

	missing := 1 - b.tokens
	wait := time.Duration(missing / b.refillRate * float64(time.Second))
	return false, wait
}

// MaxRate enforces N executions per window across the Worker for each
// task_name, using a token bucket keyed by task name. When no token is
// available it returns a RetryError whose delay is the time until the next
// token, rather than running the body.
func MaxRate() ltq.Middleware {
	var mu sync.Mutex
	buckets := make(map[string]*bucket)

	return func(ctx context.Context, task *ltq.Task, msg *ltq.Message, next ltq.Next) error {
		if task.Options.MaxRate == "" {
			return next(ctx, msg)
		}

		rate, err := ltq.ParseRate(task.Options.MaxRate)
		if err != nil {
			return err
		}

		mu.Lock()
		b, ok := buckets[task.Name]
		if !ok {
			b = newBucket(rate)
			buckets[task.Name] = b
		}
		mu.Unlock()

		allowed, wait := b.take()
		if !allowed {
			return ltq.Retry(wait, nil)
		}
		return next(ctx, msg)
	}
}
