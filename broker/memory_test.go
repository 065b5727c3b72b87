package broker

import (
	"context"
	"testing"
	"time"

	"github.com/tclesius/ltq"
)

func TestMemoryPublishConsumeAck(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()

	msg := ltq.Message{ID: "m1", TaskName: "q:fn"}
	if err := b.Publish(ctx, "q", msg, 0); err != nil {
		t.Fatalf("publish: %v", err)
	}

	size, err := b.Size(ctx, "q")
	if err != nil || size != 1 {
		t.Fatalf("size = %d, err = %v, want 1", size, err)
	}

	got, err := b.Consume(ctx, "q", "w1", 5, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("consume = %+v, want [m1]", got)
	}

	size, _ = b.Size(ctx, "q")
	if size != 0 {
		t.Fatalf("size after consume = %d, want 0", size)
	}

	if err := b.Ack(ctx, "q", "w1", got[0]); err != nil {
		t.Fatalf("ack: %v", err)
	}
}

func TestMemoryPublishIdempotent(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()
	msg := ltq.Message{ID: "dup", TaskName: "q:fn"}

	b.Publish(ctx, "q", msg, 0)
	b.Publish(ctx, "q", msg, 0)

	size, _ := b.Size(ctx, "q")
	if size != 1 {
		t.Fatalf("size = %d, want 1 after duplicate publish", size)
	}
}

func TestMemoryDelayNotImmediatelyVisible(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()
	msg := ltq.Message{ID: "delayed", TaskName: "q:fn"}

	b.Publish(ctx, "q", msg, 200)

	got, _ := b.Consume(ctx, "q", "w1", 5, 10*time.Millisecond)
	if len(got) != 0 {
		t.Fatalf("consume before delay elapsed = %+v, want empty", got)
	}

	time.Sleep(220 * time.Millisecond)
	got, _ = b.Consume(ctx, "q", "w1", 5, 10*time.Millisecond)
	if len(got) != 1 {
		t.Fatalf("consume after delay elapsed = %+v, want 1 message", got)
	}
}

func TestMemoryNackRequeue(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()
	msg := ltq.Message{ID: "m1", TaskName: "q:fn"}
	b.Publish(ctx, "q", msg, 0)

	got, _ := b.Consume(ctx, "q", "w1", 5, 10*time.Millisecond)
	msg = got[0]
	msg.Ctx = map[string]any{"tries": 1}

	if err := b.Nack(ctx, "q", "w1", msg, 0, false); err != nil {
		t.Fatalf("nack: %v", err)
	}

	size, _ := b.Size(ctx, "q")
	if size != 1 {
		t.Fatalf("size after nack = %d, want 1", size)
	}

	got, _ = b.Consume(ctx, "q", "w1", 5, 10*time.Millisecond)
	if len(got) != 1 || got[0].Ctx["tries"] != 1 {
		t.Fatalf("requeued message lost ctx: %+v", got)
	}
}

func TestMemoryNackDrop(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()
	msg := ltq.Message{ID: "m1", TaskName: "q:fn"}
	b.Publish(ctx, "q", msg, 0)

	got, _ := b.Consume(ctx, "q", "w1", 5, 10*time.Millisecond)
	if err := b.Nack(ctx, "q", "w1", got[0], 0, true); err != nil {
		t.Fatalf("nack drop: %v", err)
	}

	size, _ := b.Size(ctx, "q")
	if size != 0 {
		t.Fatalf("size after drop = %d, want 0", size)
	}
}

func TestMemoryRecover(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()
	msg := ltq.Message{ID: "m1", TaskName: "q:fn"}
	b.Publish(ctx, "q", msg, 0)
	b.Consume(ctx, "q", "dead-worker", 5, 10*time.Millisecond)

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

func TestMemoryOrdering(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()

	b.Publish(ctx, "q", ltq.Message{ID: "a"}, 100)
	b.Publish(ctx, "q", ltq.Message{ID: "b"}, 0)

	got, _ := b.Consume(ctx, "q", "w1", 5, 10*time.Millisecond)
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("expected lowest-score message first, got %+v", got)
	}
}

func TestMemoryClear(t *testing.T) {
	b := NewMemory()
	ctx := context.Background()
	b.Publish(ctx, "q", ltq.Message{ID: "a"}, 0)
	b.Consume(ctx, "q", "w1", 5, 10*time.Millisecond)
	b.Publish(ctx, "q", ltq.Message{ID: "b"}, 0)

	if err := b.Clear(ctx, "q"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	size, _ := b.Size(ctx, "q")
	if size != 0 {
		t.Fatalf("size after clear = %d, want 0", size)
	}
}
