package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/tclesius/ltq"
)

func TestMaxTriesRejectsAfterLimit(t *testing.T) {
	task := &ltq.Task{Name: "q:fn", Options: ltq.TaskOptions{MaxTries: 2}}
	mw := MaxTries()

	var calls int
	body := func(ctx context.Context, msg *ltq.Message) error {
		calls++
		return ltq.Retry(0, nil)
	}

	msg := &ltq.Message{Ctx: map[string]any{}}
	run := func() error { return mw(context.Background(), task, msg, body) }

	if err := run(); err == nil {
		t.Fatal("expected retry error on attempt 1")
	}
	if msg.Tries() != 1 {
		t.Fatalf("tries = %d, want 1", msg.Tries())
	}

	if err := run(); err == nil {
		t.Fatal("expected retry error on attempt 2")
	}
	if msg.Tries() != 2 {
		t.Fatalf("tries = %d, want 2", msg.Tries())
	}

	if err := run(); err == nil {
		t.Fatal("expected reject after max tries")
	}
	if calls != 2 {
		t.Fatalf("body ran %d times, want 2 (third attempt must be rejected before body)", calls)
	}
}

func TestMaxAgeRejectsStaleMessage(t *testing.T) {
	task := &ltq.Task{Name: "q:fn", Options: ltq.TaskOptions{MaxAge: 10 * time.Millisecond}}
	mw := MaxAge()

	var ran bool
	body := func(ctx context.Context, msg *ltq.Message) error { ran = true; return nil }

	fresh := &ltq.Message{CreatedAt: time.Now()}
	if err := mw(context.Background(), task, fresh, body); err != nil {
		t.Fatalf("fresh message rejected: %v", err)
	}
	if !ran {
		t.Fatal("body should have run for a fresh message")
	}

	ran = false
	stale := &ltq.Message{CreatedAt: time.Now().Add(-time.Hour)}
	if err := mw(context.Background(), task, stale, body); err == nil {
		t.Fatal("expected reject for stale message")
	}
	if ran {
		t.Fatal("body must not run for a stale message")
	}
}

func TestMaxRateLimitsThroughput(t *testing.T) {
	task := &ltq.Task{Name: "q:fn", Options: ltq.TaskOptions{MaxRate: "2/s"}}
	mw := MaxRate()

	body := func(ctx context.Context, msg *ltq.Message) error { return nil }
	msg := &ltq.Message{}

	if err := mw(context.Background(), task, msg, body); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if err := mw(context.Background(), task, msg, body); err != nil {
		t.Fatalf("second call: %v", err)
	}

	err := mw(context.Background(), task, msg, body)
	if err == nil {
		t.Fatal("expected retry once burst is exhausted")
	}
	if _, ok := err.(*ltq.RetryError); !ok {
		t.Fatalf("expected *ltq.RetryError, got %T", err)
	}
}

func TestDefaultStackHasThreeMiddlewares(t *testing.T) {
	stack := Default()
	if len(stack) != 3 {
		t.Fatalf("default stack has %d middlewares, want 3", len(stack))
	}
}
