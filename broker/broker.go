// Package broker provides the at-least-once Broker abstraction LTQ workers
// and tasks publish to and consume from, with a Redis-backed implementation
// for production and an in-process implementation for tests and single-box
// deployments.
package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tclesius/ltq"
)

// Broker is the at-least-once queue contract described by the spec: publish
// makes a Message visible at now+delay; consume atomically leases up to
// count due Messages to worker_id; ack/nack resolve a leased Message;
// recover reclaims leases abandoned by a dead worker; size/clear are
// queue-wide utilities.
type Broker interface {
	// Publish makes msg visible at now+delay. Idempotent on msg.ID: publishing
	// the same ID again while it is still in flight must not duplicate it in
	// the visible set.
	Publish(ctx context.Context, queue string, msg ltq.Message, delayMillis int64) error

	// Consume atomically moves up to count due Messages from the visible set
	// to workerID's in-flight set and returns them. block bounds how long the
	// call may wait for at least one Message; returning fewer (incl. zero) is
	// always permitted.
	Consume(ctx context.Context, queue, workerID string, count int, block time.Duration) ([]ltq.Message, error)

	// Ack removes msg from workerID's in-flight set and discards it.
	Ack(ctx context.Context, queue, workerID string, msg ltq.Message) error

	// Nack removes msg from workerID's in-flight set. If drop, it is
	// discarded; otherwise it is republished with visibility at now+delay.
	Nack(ctx context.Context, queue, workerID string, msg ltq.Message, delayMillis int64, drop bool) error

	// Recover reclaims in-flight Messages across all workers on queue whose
	// lease is older than olderThan, returning them to the visible set at now.
	Recover(ctx context.Context, queue string, olderThan time.Duration) (int, error)

	// Size returns the count of visible Messages for queue.
	Size(ctx context.Context, queue string) (int64, error)

	// Clear deletes all visible and in-flight Messages for queue.
	Clear(ctx context.Context, queue string) error

	// Close releases the broker's underlying connection/resources.
	Close() error
}

// FromURL dispatches on URL scheme: "redis://…" builds a Redis broker,
// "memory://" builds an in-process broker.
func FromURL(url string) (Broker, error) {
	switch {
	case strings.HasPrefix(url, "redis://"):
		return NewRedisFromURL(url)
	case strings.HasPrefix(url, "memory://"):
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("broker: unsupported url scheme in %q", url)
	}
}
