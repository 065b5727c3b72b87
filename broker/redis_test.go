package broker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/tclesius/ltq"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisBroker) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	return s, NewRedis(redis.NewClient(&redis.Options{Addr: s.Addr()}))
}

func TestRedisPublishConsumeAck(t *testing.T) {
	_, b := setupTestRedis(t)
	ctx := context.Background()

	msg := ltq.Message{ID: "m1", TaskName: "emails:send"}
	if err := b.Publish(ctx, "emails", msg, 0); err != nil {
		t.Fatalf("publish: %v", err)
	}

	size, err := b.Size(ctx, "emails")
	if err != nil || size != 1 {
		t.Fatalf("size = %d, err = %v, want 1", size, err)
	}

	got, err := b.Consume(ctx, "emails", "w1", 5, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("consume = %+v, want [m1]", got)
	}

	size, _ = b.Size(ctx, "emails")
	if size != 0 {
		t.Fatalf("size after consume = %d, want 0", size)
	}

	if err := b.Ack(ctx, "emails", "w1", got[0]); err != nil {
		t.Fatalf("ack: %v", err)
	}
}

func TestRedisPublishIdempotent(t *testing.T) {
	_, b := setupTestRedis(t)
	ctx := context.Background()
	msg := ltq.Message{ID: "dup"}

	b.Publish(ctx, "q", msg, 0)
	b.Publish(ctx, "q", msg, 0)

	size, _ := b.Size(ctx, "q")
	if size != 1 {
		t.Fatalf("size = %d, want 1 after duplicate publish", size)
	}
}

func TestRedisDelayBoundary(t *testing.T) {
	_, b := setupTestRedis(t)
	ctx := context.Background()

	if err := b.Publish(ctx, "q", ltq.Message{ID: "d1"}, 200); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got, _ := b.Consume(ctx, "q", "w1", 5, 5*time.Millisecond)
	if len(got) != 0 {
		t.Fatalf("consume before delay elapsed = %+v, want empty", got)
	}

	time.Sleep(220 * time.Millisecond)
	got, _ = b.Consume(ctx, "q", "w1", 5, 5*time.Millisecond)
	if len(got) != 1 {
		t.Fatalf("consume after delay elapsed = %+v, want 1 message", got)
	}
}

func TestRedisNackRequeuePreservesCtx(t *testing.T) {
	_, b := setupTestRedis(t)
	ctx := context.Background()
	b.Publish(ctx, "q", ltq.Message{ID: "m1"}, 0)

	got, _ := b.Consume(ctx, "q", "w1", 5, 5*time.Millisecond)
	msg := got[0]
	msg.Ctx = map[string]any{"tries": 1}

	if err := b.Nack(ctx, "q", "w1", msg, 0, false); err != nil {
		t.Fatalf("nack: %v", err)
	}

	got, _ = b.Consume(ctx, "q", "w1", 5, 5*time.Millisecond)
	if len(got) != 1 || got[0].Ctx["tries"].(float64) != 1 {
		t.Fatalf("requeued message lost ctx: %+v", got)
	}
}

func TestRedisNackAfterCtxMutationDoesNotLeakProcessingEntry(t *testing.T) {
	s, b := setupTestRedis(t)
	ctx := context.Background()
	b.Publish(ctx, "q", ltq.Message{ID: "m1"}, 0)

	got, _ := b.Consume(ctx, "q", "w1", 5, 5*time.Millisecond)
	msg := got[0]
	// Simulate middleware.MaxTries mutating Ctx in place before Nack, the
	// way the real retry path does, without re-consuming in between.
	msg.Ctx = map[string]any{"tries": 1}

	if err := b.Nack(ctx, "q", "w1", msg, 0, false); err != nil {
		t.Fatalf("nack: %v", err)
	}

	n, err := s.ZCard(processingKey("q", "w1"))
	if err != nil {
		t.Fatalf("zcard processing set: %v", err)
	}
	if n != 0 {
		t.Fatalf("processing set has %d leaked entries after nack, want 0", n)
	}

	size, _ := b.Size(ctx, "q")
	if size != 1 {
		t.Fatalf("size after nack = %d, want 1 (no duplicate)", size)
	}
}

func TestRedisNackDrop(t *testing.T) {
	_, b := setupTestRedis(t)
	ctx := context.Background()
	b.Publish(ctx, "q", ltq.Message{ID: "m1"}, 0)

	got, _ := b.Consume(ctx, "q", "w1", 5, 5*time.Millisecond)
	if err := b.Nack(ctx, "q", "w1", got[0], 0, true); err != nil {
		t.Fatalf("nack drop: %v", err)
	}

	size, _ := b.Size(ctx, "q")
	if size != 0 {
		t.Fatalf("size after drop = %d, want 0", size)
	}
}

func TestRedisRecover(t *testing.T) {
	_, b := setupTestRedis(t)
	ctx := context.Background()
	b.Publish(ctx, "q", ltq.Message{ID: "m1"}, 0)
	b.Consume(ctx, "q", "dead-worker", 5, 5*time.Millisecond)

	n, err := b.Recover(ctx, "q", 0)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if n != 1 {
		t.Fatalf("recover reclaimed %d, want 1", n)
	}

	size, _ := b.Size(ctx, "q")
	if size != 1 {
		t.Fatalf("size after recover = %d, want 1", size)
	}
}

func TestRedisClear(t *testing.T) {
	_, b := setupTestRedis(t)
	ctx := context.Background()
	b.Publish(ctx, "q", ltq.Message{ID: "a"}, 0)
	b.Consume(ctx, "q", "w1", 5, 5*time.Millisecond)
	b.Publish(ctx, "q", ltq.Message{ID: "b"}, 0)

	if err := b.Clear(ctx, "q"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	size, _ := b.Size(ctx, "q")
	if size != 0 {
		t.Fatalf("size after clear = %d, want 0", size)
	}
}
