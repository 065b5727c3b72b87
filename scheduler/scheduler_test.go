package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/tclesius/ltq"
	"github.com/tclesius/ltq/broker"
)

func TestSchedulerFiresOnTick(t *testing.T) {
	b := broker.NewMemory()
	s := New(b)

	task := ltq.NewTask("cron:ping", "cron", nil, ltq.TaskOptions{}, b)
	if err := s.Register("@every 1s", task, nil, nil); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.StartBackground(ctx)
	defer cancel()

	time.Sleep(1200 * time.Millisecond)

	size, err := b.Size(context.Background(), "cron")
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size < 1 {
		t.Fatalf("size = %d, want at least 1 scheduled message", size)
	}
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	b := broker.NewMemory()
	s := New(b)
	task := ltq.NewTask("cron:ping", "cron", nil, ltq.TaskOptions{}, b)

	if err := s.Register("not a cron spec", task, nil, nil); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}

func TestSchedulerFreshIDPerFire(t *testing.T) {
	b := broker.NewMemory()
	s := New(b)
	task := ltq.NewTask("cron:ping", "cron", nil, ltq.TaskOptions{}, b)
	s.Register("@every 1s", task, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s.StartBackground(ctx)
	defer cancel()

	time.Sleep(2200 * time.Millisecond)

	tasks, err := drainAll(b, "cron")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	seen := make(map[string]bool)
	for _, m := range tasks {
		if seen[m.ID] {
			t.Fatalf("duplicate message ID %q across cron fires", m.ID)
		}
		seen[m.ID] = true
	}
	if len(tasks) < 2 {
		t.Fatalf("expected at least 2 fires, got %d", len(tasks))
	}
}

func drainAll(b *broker.MemoryBroker, queue string) ([]ltq.Message, error) {
	ctx := context.Background()
	var out []ltq.Message
	for {
		msgs, err := b.Consume(ctx, queue, "drainer", 100, 0)
		if err != nil {
			return nil, err
		}
		if len(msgs) == 0 {
			return out, nil
		}
		out = append(out, msgs...)
	}
}
