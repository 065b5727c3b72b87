package broker

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/tclesius/ltq"
)

// memEntry is one Message sitting in a visible or in-flight set, ordered by
// score (visibility or lease epoch ms) with insertion order breaking ties,
// matching the spec's ordering rule.
type memEntry struct {
	msg   ltq.Message
	score int64
	seq   int64
}

// entryHeap is a score-ascending, insertion-order-ascending min-heap of
// memEntry, used for each queue's visible set.
type entryHeap []*memEntry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score < h[j].score
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)         { *h = append(*h, x.(*memEntry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// memQueue holds one queue's visible heap and the in-flight entries leased
// to each worker, keyed by message ID.
type memQueue struct {
	visible   entryHeap
	inflight  map[string]*memEntry // message ID -> entry
	leaseWork map[string]string    // message ID -> worker ID holding the lease
	ids       map[string]bool      // message IDs currently visible or in-flight (Publish idempotence)
}

func newMemQueue() *memQueue {
	return &memQueue{
		inflight:  make(map[string]*memEntry),
		leaseWork: make(map[string]string),
		ids:       make(map[string]bool),
	}
}

// MemoryBroker is the single-process Broker implementation backing the
// memory:// scheme: same contract as RedisBroker, thread-safe via a mutex,
// no cross-process recovery semantics since there is only one process.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]*memQueue
	seq    int64
}

// NewMemory returns an empty in-process broker.
func NewMemory() *MemoryBroker {
	return &MemoryBroker{queues: make(map[string]*memQueue)}
}

func (b *MemoryBroker) queue(name string) *memQueue {
	q, ok := b.queues[name]
	if !ok {
		q = newMemQueue()
		b.queues[name] = q
	}
	return q
}

// Publish makes msg visible at now+delayMillis. Idempotent on msg.ID: a
// republish while the ID is already visible or in-flight is a no-op.
func (b *MemoryBroker) Publish(ctx context.Context, queue string, msg ltq.Message, delayMillis int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	if q.ids[msg.ID] {
		return nil
	}
	q.ids[msg.ID] = true
	b.seq++
	heap.Push(&q.visible, &memEntry{
		msg:   msg,
		score: time.Now().UnixMilli() + delayMillis,
		seq:   b.seq,
	})
	return nil
}

// Consume atomically moves up to count due Messages from queue's visible
// heap to workerID's in-flight map. block bounds how long it polls for at
// least one Message.
func (b *MemoryBroker) Consume(ctx context.Context, queue, workerID string, count int, block time.Duration) ([]ltq.Message, error) {
	deadline := time.Now().Add(block)
	for {
		out := b.tryConsume(queue, workerID, count)
		if len(out) > 0 || block <= 0 || time.Now().After(deadline) {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (b *MemoryBroker) tryConsume(queue, workerID string, count int) []ltq.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	now := time.Now().UnixMilli()
	var out []ltq.Message
	for len(out) < count && q.visible.Len() > 0 && q.visible[0].score <= now {
		e := heap.Pop(&q.visible).(*memEntry)
		e.score = now // reuse score field as lease epoch while in flight
		q.inflight[e.msg.ID] = e
		q.leaseWork[e.msg.ID] = workerID
		out = append(out, e.msg)
	}
	return out
}

// Ack removes msg from workerID's in-flight set.
func (b *MemoryBroker) Ack(ctx context.Context, queue, workerID string, msg ltq.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	delete(q.inflight, msg.ID)
	delete(q.leaseWork, msg.ID)
	delete(q.ids, msg.ID)
	return nil
}

// Nack removes msg from workerID's in-flight set; if drop, discards it,
// otherwise republishes it with visibility at now+delayMillis.
func (b *MemoryBroker) Nack(ctx context.Context, queue, workerID string, msg ltq.Message, delayMillis int64, drop bool) error {
	if drop {
		return b.Ack(ctx, queue, workerID, msg)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	delete(q.inflight, msg.ID)
	delete(q.leaseWork, msg.ID)
	b.seq++
	heap.Push(&q.visible, &memEntry{
		msg:   msg,
		score: time.Now().UnixMilli() + delayMillis,
		seq:   b.seq,
	})
	return nil
}

// Recover reclaims in-flight Messages on queue whose lease is older than
// olderThan, moving them back to the visible set at now.
func (b *MemoryBroker) Recover(ctx context.Context, queue string, olderThan time.Duration) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	cutoff := time.Now().UnixMilli() - olderThan.Milliseconds()
	now := time.Now().UnixMilli()

	var reclaimed []string
	for id, e := range q.inflight {
		if e.score <= cutoff {
			reclaimed = append(reclaimed, id)
		}
	}
	for _, id := range reclaimed {
		e := q.inflight[id]
		delete(q.inflight, id)
		delete(q.leaseWork, id)
		b.seq++
		heap.Push(&q.visible, &memEntry{msg: e.msg, score: now, seq: b.seq})
	}
	return len(reclaimed), nil
}

// Size returns the count of visible Messages on queue.
func (b *MemoryBroker) Size(ctx context.Context, queue string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(b.queue(queue).visible.Len()), nil
}

// Clear deletes all visible and in-flight Messages for queue.
func (b *MemoryBroker) Clear(ctx context.Context, queue string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[queue] = newMemQueue()
	return nil
}

// Close is a no-op: the memory broker owns no external resources.
func (b *MemoryBroker) Close() error { return nil }
